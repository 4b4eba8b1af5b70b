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

package reconcile

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	guacamolev1 "github.com/ukserp/guacamole-operator/api/v1"
	"github.com/ukserp/guacamole-operator/internal/directory"
	"github.com/ukserp/guacamole-operator/internal/gateway"
)

type fakeManifests struct {
	resources []guacamolev1.GuacamoleConnection
}

func (m *fakeManifests) Snapshot() []guacamolev1.GuacamoleConnection {
	return append([]guacamolev1.GuacamoleConnection(nil), m.resources...)
}

// fakeDirectory answers group expansions from a fixed filter → records map.
type fakeDirectory struct {
	groups map[string][]directory.Record
	err    error
}

func (d *fakeDirectory) GroupMembers(groupFilter string, attributes []string) ([]directory.Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.groups[groupFilter], nil
}

// fakeState is an in-memory model of the gateway tables.
type fakeState struct {
	users       map[string]gateway.UserAttrs
	connections map[int]fakeConnection
	permissions map[int]map[string]struct{}
	nextID      int
}

type fakeConnection struct {
	name     string
	protocol string
	parent   string
	hostname string
	port     int
}

func newFakeState() *fakeState {
	return &fakeState{
		users:       map[string]gateway.UserAttrs{},
		connections: map[int]fakeConnection{},
		permissions: map[int]map[string]struct{}{},
		nextID:      1,
	}
}

func (s *fakeState) clone() *fakeState {
	c := newFakeState()
	c.nextID = s.nextID
	for username, attrs := range s.users {
		c.users[username] = attrs
	}
	for id, conn := range s.connections {
		c.connections[id] = conn
	}
	for id, granted := range s.permissions {
		copied := map[string]struct{}{}
		for username := range granted {
			copied[username] = struct{}{}
		}
		c.permissions[id] = copied
	}
	return c
}

func (s *fakeState) addConnection(conn fakeConnection, granted ...string) int {
	id := s.nextID
	s.nextID++
	s.connections[id] = conn
	s.permissions[id] = map[string]struct{}{}
	for _, username := range granted {
		s.permissions[id][username] = struct{}{}
	}
	return id
}

// fakeStore hands out transactions that operate on a copy of the base state.
// Commit replaces the base; Rollback discards the copy, so an aborted sweep
// leaves the base untouched.
type fakeStore struct {
	base   *fakeState
	lastTx *fakeTx

	// grantErr, when set, makes Grant fail mid-transaction
	grantErr error
}

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	tx := &fakeTx{store: s, state: s.base.clone(), grantErr: s.grantErr}
	s.lastTx = tx
	return tx, nil
}

type fakeTx struct {
	store      *fakeStore
	state      *fakeState
	grantErr   error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error {
	t.committed = true
	t.store.base = t.state
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) ListUsers(ctx context.Context) (map[string]gateway.UserAttrs, error) {
	users := make(map[string]gateway.UserAttrs, len(t.state.users))
	for username, attrs := range t.state.users {
		users[username] = attrs
	}
	return users, nil
}

func (t *fakeTx) CreateUser(ctx context.Context, username string, attrs gateway.UserAttrs) error {
	t.state.users[username] = attrs
	return nil
}

func (t *fakeTx) UpdateUser(ctx context.Context, username string, attrs gateway.UserAttrs) error {
	t.state.users[username] = attrs
	return nil
}

func (t *fakeTx) DeleteUser(ctx context.Context, username string) error {
	delete(t.state.users, username)
	for _, granted := range t.state.permissions {
		delete(granted, username)
	}
	return nil
}

func (t *fakeTx) ListConnections(ctx context.Context) (map[int]gateway.ConnectionInfo, error) {
	connections := make(map[int]gateway.ConnectionInfo, len(t.state.connections))
	for id, conn := range t.state.connections {
		connections[id] = gateway.ConnectionInfo{ID: id, Name: conn.name, Protocol: conn.protocol}
	}
	return connections, nil
}

func (t *fakeTx) GetConnectionIDByName(ctx context.Context, name string) (int, error) {
	for id, conn := range t.state.connections {
		if conn.name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", gateway.ErrConnectionNotFound, name)
}

func (t *fakeTx) CreateConnection(ctx context.Context, name, protocol, parent, hostname string, port int) (int, error) {
	id := t.state.addConnection(fakeConnection{
		name: name, protocol: protocol, parent: parent, hostname: hostname, port: port,
	})
	return id, nil
}

func (t *fakeTx) UpdateConnection(ctx context.Context, id int, name, protocol, parent, hostname string, port int) error {
	if _, ok := t.state.connections[id]; !ok {
		return fmt.Errorf("%w: id %d", gateway.ErrConnectionNotFound, id)
	}
	t.state.connections[id] = fakeConnection{
		name: name, protocol: protocol, parent: parent, hostname: hostname, port: port,
	}
	return nil
}

func (t *fakeTx) DeleteConnection(ctx context.Context, id int) error {
	delete(t.state.connections, id)
	delete(t.state.permissions, id)
	return nil
}

func (t *fakeTx) Grant(ctx context.Context, username string, connectionID int) error {
	if t.grantErr != nil {
		return t.grantErr
	}
	granted, ok := t.state.permissions[connectionID]
	if !ok {
		granted = map[string]struct{}{}
		t.state.permissions[connectionID] = granted
	}
	granted[username] = struct{}{}
	return nil
}

func (t *fakeTx) Revoke(ctx context.Context, username string, connectionID int) error {
	delete(t.state.permissions[connectionID], username)
	return nil
}

func (t *fakeTx) ListConnectionUsers(ctx context.Context, connectionID int) (map[string]gateway.UserAttrs, error) {
	users := map[string]gateway.UserAttrs{}
	for username := range t.state.permissions[connectionID] {
		users[username] = t.state.users[username]
	}
	return users, nil
}

func newResource(namespace, name, protocol, hostname string, port int, enabled bool, groupFilter string) guacamolev1.GuacamoleConnection {
	return guacamolev1.GuacamoleConnection{
		TypeMeta:   metav1.TypeMeta{APIVersion: "guacamole.ukserp.ac.uk/v1", Kind: "GuacamoleConnection"},
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: guacamolev1.GuacamoleConnectionSpec{
			Protocol: protocol,
			Hostname: hostname,
			Port:     port,
			LDAP: guacamolev1.LDAPMembershipSpec{
				Enabled:     enabled,
				GroupFilter: groupFilter,
			},
		},
	}
}

func userRecord(dn string, attributes map[string]string) directory.Record {
	return directory.Record{DN: dn, Attributes: attributes}
}
