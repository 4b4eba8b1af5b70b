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

// Package config loads the operator configuration from CONTROLLER_* environment
// variables. All values are read once at startup and passed explicitly into the
// component constructors; there is no ambient configuration state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults for optional settings.
const (
	DefaultPageSize = 100
	DefaultLogLevel = "debug"
)

// Database holds the connection settings for the gateway database.
type Database struct {
	Hostname string
	Port     int
	Name     string
	Username string
	Password string
}

// ServiceAccount holds the credentials for the operator's own gateway user.
type ServiceAccount struct {
	Username string
	Password string
}

// Directory holds the LDAP connection and search settings.
type Directory struct {
	Hostname          string
	Port              int
	UserBaseDN        string
	UserFilter        string
	UsernameAttribute string
	FullnameAttribute string
	EmailAttribute    string
	GroupBaseDN       string
	GroupFilter       string
	MemberAttribute   string
	BindDN            string
	BindPassword      string
	PageSize          int
}

// Config is the complete operator configuration.
type Config struct {
	Database       Database
	ServiceAccount ServiceAccount
	Directory      Directory
	Namespace      string
	LogLevel       string
}

// loader collects values and missing-variable errors across lookups so a
// single run reports every absent variable at once.
type loader struct {
	missing []string
	errs    []error
}

func (l *loader) required(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		l.missing = append(l.missing, key)
		return ""
	}
	return value
}

func (l *loader) requiredInt(key string) int {
	value := l.required(key)
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: not an integer: %q", key, value))
		return 0
	}
	return n
}

func (l *loader) optional(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// optionalPositiveInt rejects values below 1; the fallback is used when the
// variable is unset.
func (l *loader) optionalPositiveInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: not an integer: %q", key, value))
		return fallback
	}
	if n < 1 {
		l.errs = append(l.errs, fmt.Errorf("%s: must be positive, got %d", key, n))
		return fallback
	}
	return n
}

// FromEnvironment reads the operator configuration from the environment.
// Every missing required variable is reported in the returned error.
func FromEnvironment() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		Database: Database{
			Hostname: l.required("CONTROLLER_POSTGRES_HOSTNAME"),
			Port:     l.requiredInt("CONTROLLER_POSTGRES_PORT"),
			Name:     l.required("CONTROLLER_POSTGRES_DATABASE"),
			Username: l.required("CONTROLLER_POSTGRES_USERNAME"),
			Password: l.required("CONTROLLER_POSTGRES_PASSWORD"),
		},
		ServiceAccount: ServiceAccount{
			Username: l.required("CONTROLLER_GUACAMOLE_USERNAME"),
			Password: l.required("CONTROLLER_GUACAMOLE_PASSWORD"),
		},
		Directory: l.directory(),
		Namespace: l.required("CONTROLLER_KUBE_NAMESPACE"),
		LogLevel:  l.optional("CONTROLLER_LOG_LEVEL", DefaultLogLevel),
	}

	if err := l.result(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DirectoryFromEnvironment reads only the LDAP settings, for tools that talk
// to the directory without the database or the cluster.
func DirectoryFromEnvironment() (*Directory, error) {
	l := &loader{}
	cfg := l.directory()
	if err := l.result(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *loader) directory() Directory {
	return Directory{
		Hostname:          l.required("CONTROLLER_LDAP_HOSTNAME"),
		Port:              l.requiredInt("CONTROLLER_LDAP_PORT"),
		UserBaseDN:        l.required("CONTROLLER_LDAP_USER_BASE_DN"),
		UserFilter:        l.required("CONTROLLER_LDAP_USER_SEARCH_FILTER"),
		UsernameAttribute: l.required("CONTROLLER_LDAP_USERNAME_ATTRIBUTE"),
		FullnameAttribute: l.required("CONTROLLER_LDAP_FULLNAME_ATTRIBUTE"),
		EmailAttribute:    l.required("CONTROLLER_LDAP_EMAIL_ATTRIBUTE"),
		GroupBaseDN:       l.required("CONTROLLER_LDAP_GROUP_BASE_DN"),
		GroupFilter:       l.required("CONTROLLER_LDAP_GROUP_SEARCH_FILTER"),
		MemberAttribute:   l.required("CONTROLLER_LDAP_MEMBER_ATTRIBUTE"),
		BindDN:            l.required("CONTROLLER_LDAP_SEARCH_BIND_DN"),
		BindPassword:      l.required("CONTROLLER_LDAP_SEARCH_BIND_PASSWORD"),
		PageSize:          l.optionalPositiveInt("CONTROLLER_LDAP_PAGED_SIZE", DefaultPageSize),
	}
}

func (l *loader) result() error {
	if len(l.missing) > 0 {
		l.errs = append(l.errs, fmt.Errorf("missing required environment variables: %s", strings.Join(l.missing, ", ")))
	}
	if len(l.errs) > 0 {
		return errors.Join(l.errs...)
	}
	return nil
}
