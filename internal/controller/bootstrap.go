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

package controller

import (
	"context"
	"fmt"

	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ukserp/guacamole-operator/internal/config"
	"github.com/ukserp/guacamole-operator/internal/directory"
	"github.com/ukserp/guacamole-operator/internal/gateway"
	"github.com/ukserp/guacamole-operator/internal/reconcile"
	"github.com/ukserp/guacamole-operator/internal/source"
)

// Bootstrap opens the gateway database, creates or refreshes the service
// account, verifies the directory bind and wires the controller together.
// The returned cleanup closes the directory and database connections. Any
// failure here is fatal to the process.
func Bootstrap(ctx context.Context, cfg config.Config, client dynamic.Interface) (*Controller, func(), error) {
	logger := log.FromContext(ctx).WithName("controller")

	store, err := gateway.Open(ctx, gateway.Config{
		Hostname: cfg.Database.Hostname,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open gateway database: %w", err)
	}

	if err := bootstrapServiceAccount(ctx, store, cfg.ServiceAccount); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to bootstrap service account: %w", err)
	}

	dir, err := directory.Dial(directory.Config{
		Hostname:        cfg.Directory.Hostname,
		Port:            cfg.Directory.Port,
		BindDN:          cfg.Directory.BindDN,
		BindPassword:    cfg.Directory.BindPassword,
		UserBaseDN:      cfg.Directory.UserBaseDN,
		UserFilter:      cfg.Directory.UserFilter,
		GroupBaseDN:     cfg.Directory.GroupBaseDN,
		GroupFilter:     cfg.Directory.GroupFilter,
		MemberAttribute: cfg.Directory.MemberAttribute,
		PageSize:        cfg.Directory.PageSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to connect to directory: %w", err)
	}
	logger.Info("Directory bind verified", "hostname", cfg.Directory.Hostname)

	src := source.New(client, cfg.Namespace)
	reconciler := reconcile.New(src, dir, txStore{store}, cfg.ServiceAccount.Username,
		reconcile.Attributes{
			Username: cfg.Directory.UsernameAttribute,
			Fullname: cfg.Directory.FullnameAttribute,
			Email:    cfg.Directory.EmailAttribute,
		})

	cleanup := func() {
		_ = dir.Close()
		_ = store.Close()
	}
	return New(src, reconciler), cleanup, nil
}

// bootstrapServiceAccount runs the service-account upsert in its own
// transaction so a later reconcile failure never rolls it back.
func bootstrapServiceAccount(ctx context.Context, store *gateway.Store, account config.ServiceAccount) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateServiceAccount(ctx, account.Username, account.Password); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore adapts the concrete gateway store to the reconciler's Store
// interface.
type txStore struct {
	store *gateway.Store
}

func (s txStore) Begin(ctx context.Context) (reconcile.Tx, error) {
	return s.store.Begin(ctx)
}
