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

// Package reconcile implements the full desired-state sweep: it reads every
// GuacamoleConnection resource, expands group memberships against the
// directory, and converges the gateway database inside one transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	guacamolev1 "github.com/ukserp/guacamole-operator/api/v1"
	"github.com/ukserp/guacamole-operator/internal/directory"
	"github.com/ukserp/guacamole-operator/internal/gateway"
)

// ErrServiceAccountProtected is returned when a write would touch the
// operator's own gateway user. The sweep never issues such a write; hitting
// this error means a caller bypassed the exclusion logic.
var ErrServiceAccountProtected = errors.New("service account is protected")

// Role assigned to every user the operator manages.
const managedRole = "MANAGED USER"

// Manifests supplies the current set of GuacamoleConnection resources.
type Manifests interface {
	Snapshot() []guacamolev1.GuacamoleConnection
}

// Directory expands a group filter into the users it transitively contains.
type Directory interface {
	GroupMembers(groupFilter string, attributes []string) ([]directory.Record, error)
}

// Tx is the gateway transaction surface the sweep writes through.
type Tx interface {
	ListUsers(ctx context.Context) (map[string]gateway.UserAttrs, error)
	CreateUser(ctx context.Context, username string, attrs gateway.UserAttrs) error
	UpdateUser(ctx context.Context, username string, attrs gateway.UserAttrs) error
	DeleteUser(ctx context.Context, username string) error

	ListConnections(ctx context.Context) (map[int]gateway.ConnectionInfo, error)
	GetConnectionIDByName(ctx context.Context, name string) (int, error)
	CreateConnection(ctx context.Context, name, protocol, parent, hostname string, port int) (int, error)
	UpdateConnection(ctx context.Context, id int, name, protocol, parent, hostname string, port int) error
	DeleteConnection(ctx context.Context, id int) error

	Grant(ctx context.Context, username string, connectionID int) error
	Revoke(ctx context.Context, username string, connectionID int) error
	ListConnectionUsers(ctx context.Context, connectionID int) (map[string]gateway.UserAttrs, error)

	Commit() error
	Rollback() error
}

// Store opens gateway transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Attributes names the directory attributes a user record is read from.
type Attributes struct {
	Username string
	Fullname string
	Email    string
}

// Result summarises one sweep.
type Result struct {
	Connections int
	Users       int
	Skipped     int
}

// Reconciler converges the gateway database towards the resource set.
type Reconciler struct {
	manifests      Manifests
	directory      Directory
	store          Store
	serviceAccount string
	attributes     Attributes
}

// New creates a Reconciler. serviceAccount is the operator's own gateway
// username; it is excluded from every mutation the sweep performs.
func New(manifests Manifests, dir Directory, store Store, serviceAccount string, attributes Attributes) *Reconciler {
	return &Reconciler{
		manifests:      manifests,
		directory:      dir,
		store:          store,
		serviceAccount: serviceAccount,
		attributes:     attributes,
	}
}

// desiredResource pairs a valid resource with its expanded member set.
type desiredResource struct {
	resource *guacamolev1.GuacamoleConnection
	members  map[string]gateway.UserAttrs
}

// Reconcile performs one full sweep. Resources with an invalid spec or an
// invalid group filter are logged and skipped; skipping any resource
// suppresses the cull phase so transient source-side failures never delete
// live users or connections. All writes happen in a single transaction.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	logger := log.FromContext(ctx).WithName("reconcile")

	resources := r.manifests.Snapshot()
	logger.Info("Starting reconcile", "resources", len(resources))

	desired, users, skipped, err := r.expand(ctx, resources)
	if err != nil {
		return Result{}, err
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.syncUsers(ctx, tx, users); err != nil {
		return Result{}, err
	}

	expected := make(map[int]struct{}, len(desired))
	for _, d := range desired {
		id, err := r.syncConnection(ctx, tx, d)
		if err != nil {
			return Result{}, err
		}
		expected[id] = struct{}{}
	}

	if skipped > 0 {
		logger.Info("Suppressing cull phase, resources were skipped", "skipped", skipped)
	} else {
		if err := r.cullConnections(ctx, tx, expected); err != nil {
			return Result{}, err
		}
		if err := r.cullUsers(ctx, tx, users); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit: %w", err)
	}

	result := Result{Connections: len(expected), Users: len(users), Skipped: skipped}
	logger.Info("Reconcile complete",
		"connections", result.Connections, "users", result.Users, "skipped", result.Skipped)
	return result, nil
}

// expand validates every resource and resolves its member set. It returns
// the desired resources, the union of all desired users keyed by username,
// and the number of skipped resources.
func (r *Reconciler) expand(ctx context.Context, resources []guacamolev1.GuacamoleConnection) ([]desiredResource, map[string]gateway.UserAttrs, int, error) {
	logger := log.FromContext(ctx).WithName("reconcile")

	desired := make([]desiredResource, 0, len(resources))
	users := make(map[string]gateway.UserAttrs)
	skipped := 0

	for i := range resources {
		resource := &resources[i]

		if errs := resource.ValidateSpec(); len(errs) > 0 {
			logger.Info("Skipping resource with invalid spec",
				"resource", resource.ResourceKey(), "reason", errs.ToAggregate().Error())
			skipped++
			continue
		}

		members, err := r.resolveMembers(ctx, resource)
		if errors.Is(err, directory.ErrInvalidQuery) {
			logger.Info("Skipping resource with invalid group filter",
				"resource", resource.ResourceKey(), "reason", err.Error())
			skipped++
			continue
		}
		if err != nil {
			return nil, nil, 0, err
		}

		desired = append(desired, desiredResource{resource: resource, members: members})

		// Usernames colliding across resources resolve last-wins.
		for username, attrs := range members {
			users[username] = attrs
		}
	}

	return desired, users, skipped, nil
}

// resolveMembers expands a resource's group filter into desired users. A
// resource with ldap.enabled=false is still managed, with an empty member
// set. Directory records without a username, and the service account itself,
// are dropped.
func (r *Reconciler) resolveMembers(ctx context.Context, resource *guacamolev1.GuacamoleConnection) (map[string]gateway.UserAttrs, error) {
	logger := log.FromContext(ctx).WithName("reconcile")

	members := make(map[string]gateway.UserAttrs)
	if !resource.Spec.LDAP.Enabled {
		return members, nil
	}

	attributes := []string{r.attributes.Username, r.attributes.Fullname, r.attributes.Email}
	records, err := r.directory.GroupMembers(resource.Spec.LDAP.GroupFilter, attributes)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		username := record.Attributes[r.attributes.Username]
		if username == "" {
			logger.Info("Skipping directory entry without username", "dn", record.DN)
			continue
		}
		if username == r.serviceAccount {
			logger.Info("Skipping member matching the service account", "dn", record.DN)
			continue
		}
		members[username] = gateway.UserAttrs{
			FullName:     record.Attributes[r.attributes.Fullname],
			Email:        record.Attributes[r.attributes.Email],
			Organization: r.organization(),
			Role:         managedRole,
		}
	}
	return members, nil
}

// organization is the tag written on every managed user, identifying who
// owns the record.
func (r *Reconciler) organization() string {
	return "MANAGED-BY: " + r.serviceAccount
}

// syncUsers creates missing users and updates those whose attributes drifted.
func (r *Reconciler) syncUsers(ctx context.Context, tx Tx, desired map[string]gateway.UserAttrs) error {
	existing, err := tx.ListUsers(ctx)
	if err != nil {
		return err
	}

	for username, attrs := range desired {
		current, ok := existing[username]
		switch {
		case !ok:
			err = r.createUser(ctx, tx, username, attrs)
		case current != attrs:
			err = r.updateUser(ctx, tx, username, attrs)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// syncConnection upserts one connection and converges its READ permissions
// to the desired member set, returning the connection id.
func (r *Reconciler) syncConnection(ctx context.Context, tx Tx, d desiredResource) (int, error) {
	name := d.resource.ConnectionName()
	spec := d.resource.Spec

	id, err := tx.GetConnectionIDByName(ctx, name)
	switch {
	case errors.Is(err, gateway.ErrConnectionNotFound):
		id, err = tx.CreateConnection(ctx, name, spec.Protocol, gateway.RootParent, spec.Hostname, spec.Port)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if err := tx.UpdateConnection(ctx, id, name, spec.Protocol, gateway.RootParent, spec.Hostname, spec.Port); err != nil {
			return 0, err
		}
	}

	granted, err := tx.ListConnectionUsers(ctx, id)
	if err != nil {
		return 0, err
	}

	for username := range d.members {
		if _, ok := granted[username]; !ok {
			if err := r.grant(ctx, tx, username, id); err != nil {
				return 0, err
			}
		}
	}
	for username := range granted {
		if username == r.serviceAccount {
			continue
		}
		if _, ok := d.members[username]; !ok {
			if err := r.revoke(ctx, tx, username, id); err != nil {
				return 0, err
			}
		}
	}

	return id, nil
}

// cullConnections deletes gateway connections no resource accounts for.
func (r *Reconciler) cullConnections(ctx context.Context, tx Tx, expected map[int]struct{}) error {
	observed, err := tx.ListConnections(ctx)
	if err != nil {
		return err
	}

	for id := range observed {
		if _, ok := expected[id]; !ok {
			if err := tx.DeleteConnection(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cullUsers deletes gateway users outside the desired set, the service
// account excepted.
func (r *Reconciler) cullUsers(ctx context.Context, tx Tx, desired map[string]gateway.UserAttrs) error {
	observed, err := tx.ListUsers(ctx)
	if err != nil {
		return err
	}

	for username := range observed {
		if username == r.serviceAccount {
			continue
		}
		if _, ok := desired[username]; !ok {
			if err := r.deleteUser(ctx, tx, username); err != nil {
				return err
			}
		}
	}
	return nil
}

// The guarded write helpers refuse to touch the service account. The sweep
// excludes it before ever reaching them; the guard catches programming
// errors rather than expected states.

func (r *Reconciler) guard(username string) error {
	if username == r.serviceAccount {
		return fmt.Errorf("%w: %s", ErrServiceAccountProtected, username)
	}
	return nil
}

func (r *Reconciler) createUser(ctx context.Context, tx Tx, username string, attrs gateway.UserAttrs) error {
	if err := r.guard(username); err != nil {
		return err
	}
	return tx.CreateUser(ctx, username, attrs)
}

func (r *Reconciler) updateUser(ctx context.Context, tx Tx, username string, attrs gateway.UserAttrs) error {
	if err := r.guard(username); err != nil {
		return err
	}
	return tx.UpdateUser(ctx, username, attrs)
}

func (r *Reconciler) deleteUser(ctx context.Context, tx Tx, username string) error {
	if err := r.guard(username); err != nil {
		return err
	}
	return tx.DeleteUser(ctx, username)
}

func (r *Reconciler) grant(ctx context.Context, tx Tx, username string, connectionID int) error {
	if err := r.guard(username); err != nil {
		return err
	}
	return tx.Grant(ctx, username, connectionID)
}

func (r *Reconciler) revoke(ctx context.Context, tx Tx, username string, connectionID int) error {
	if err := r.guard(username); err != nil {
		return err
	}
	return tx.Revoke(ctx, username, connectionID)
}
