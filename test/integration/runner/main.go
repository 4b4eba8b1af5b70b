/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Group-expansion smoke runner. Reads the operator's CONTROLLER_* directory
// configuration from the environment, expands the group filter given as the
// first argument and prints the resolved members. Useful for verifying the
// search account and filters before deploying the operator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ukserp/guacamole-operator/internal/config"
	"github.com/ukserp/guacamole-operator/internal/directory"
)

func main() {
	cmd := &cobra.Command{
		Use:          "expand-group <group-filter>",
		Short:        "Expands an LDAP group filter the way the operator would",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return expand(args[0])
		},
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func expand(groupFilter string) error {
	cfg, err := config.DirectoryFromEnvironment()
	if err != nil {
		return err
	}

	client, err := directory.Dial(directory.Config{
		Hostname:        cfg.Hostname,
		Port:            cfg.Port,
		BindDN:          cfg.BindDN,
		BindPassword:    cfg.BindPassword,
		UserBaseDN:      cfg.UserBaseDN,
		UserFilter:      cfg.UserFilter,
		GroupBaseDN:     cfg.GroupBaseDN,
		GroupFilter:     cfg.GroupFilter,
		MemberAttribute: cfg.MemberAttribute,
		PageSize:        cfg.PageSize,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	attributes := []string{
		cfg.UsernameAttribute,
		cfg.FullnameAttribute,
		cfg.EmailAttribute,
	}
	records, err := client.GroupMembers(groupFilter, attributes)
	if err != nil {
		return err
	}

	fmt.Printf("%d members:\n", len(records))
	for _, record := range records {
		fmt.Printf("  %s\n", record.DN)
		for _, attribute := range attributes {
			if value := record.Attributes[attribute]; value != "" {
				fmt.Printf("    %s: %s\n", attribute, value)
			}
		}
	}
	return nil
}
