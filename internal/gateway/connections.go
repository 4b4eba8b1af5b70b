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

package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// RootParent places a connection directly under the root connection group.
const RootParent = "ROOT"

// ConnectionInfo describes one gateway connection row.
type ConnectionInfo struct {
	ID       int    `db:"connection_id"`
	Name     string `db:"connection_name"`
	Protocol string `db:"protocol"`
	ParentID *int   `db:"parent_id"`
}

// ListConnections returns every gateway connection keyed by id.
func (t *Tx) ListConnections(ctx context.Context) (map[int]ConnectionInfo, error) {
	var rows []ConnectionInfo
	err := t.tx.SelectContext(ctx, &rows,
		`SELECT connection_id, connection_name, protocol, parent_id FROM guacamole_connection`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	connections := make(map[int]ConnectionInfo, len(rows))
	for _, row := range rows {
		connections[row.ID] = row
	}
	return connections, nil
}

// GetConnectionIDByName resolves a connection name to its id, or
// ErrConnectionNotFound.
func (t *Tx) GetConnectionIDByName(ctx context.Context, name string) (int, error) {
	var id int
	err := t.tx.GetContext(ctx, &id,
		`SELECT connection_id FROM guacamole_connection WHERE connection_name = $1`,
		name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up connection %s: %w", name, err)
	}
	return id, nil
}

// CreateConnection inserts a connection and its parameter rows, returning the
// server-assigned connection id.
func (t *Tx) CreateConnection(ctx context.Context, name, protocol, parent, hostname string, port int) (int, error) {
	logger := log.FromContext(ctx)
	logger.Info("Creating connection", "name", name)

	parentID, err := t.resolveParent(ctx, parent)
	if err != nil {
		return 0, err
	}

	var id int
	err = t.tx.QueryRowxContext(ctx,
		`INSERT INTO guacamole_connection (connection_name, protocol, parent_id)
		 VALUES ($1, $2, $3)
		 RETURNING connection_id`,
		name, protocol, parentID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create connection %s: %w", name, err)
	}

	if err := t.setConnectionParameters(ctx, id, hostname, port); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateConnection overwrites a connection row and its parameter rows.
func (t *Tx) UpdateConnection(ctx context.Context, id int, name, protocol, parent, hostname string, port int) error {
	logger := log.FromContext(ctx)
	logger.Info("Updating connection", "name", name, "id", id)

	parentID, err := t.resolveParent(ctx, parent)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx,
		`UPDATE guacamole_connection
		 SET connection_name = $2, protocol = $3, parent_id = $4
		 WHERE connection_id = $1`,
		id, name, protocol, parentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection %s: %w", name, err)
	}

	return t.setConnectionParameters(ctx, id, hostname, port)
}

// resolveParent maps "ROOT" to a NULL parent; any other name is looked up in
// the connection-group table and falls back to NULL when absent.
func (t *Tx) resolveParent(ctx context.Context, parent string) (*int, error) {
	if parent == RootParent {
		return nil, nil
	}

	var parentID int
	err := t.tx.GetContext(ctx, &parentID,
		`SELECT connection_group_id FROM guacamole_connection_group WHERE connection_group_name = $1`,
		parent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parent group %s: %w", parent, err)
	}
	return &parentID, nil
}

// Port is stored as a string parameter, matching the gateway schema.
func (t *Tx) setConnectionParameters(ctx context.Context, id int, hostname string, port int) error {
	parameters := []struct {
		name  string
		value string
	}{
		{"hostname", hostname},
		{"port", strconv.Itoa(port)},
	}

	for _, parameter := range parameters {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO guacamole_connection_parameter (connection_id, parameter_name, parameter_value)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (connection_id, parameter_name)
			 DO UPDATE SET parameter_value = excluded.parameter_value`,
			id, parameter.name, parameter.value,
		)
		if err != nil {
			return fmt.Errorf("failed to set parameter %s on connection %d: %w", parameter.name, id, err)
		}
	}
	return nil
}

// DeleteConnection removes parameters, permissions and the connection row.
func (t *Tx) DeleteConnection(ctx context.Context, id int) error {
	logger := log.FromContext(ctx)
	logger.Info("Deleting connection", "id", id)

	statements := []string{
		`DELETE FROM guacamole_connection_parameter WHERE connection_id = $1`,
		`DELETE FROM guacamole_connection_permission WHERE connection_id = $1`,
		`DELETE FROM guacamole_connection WHERE connection_id = $1`,
	}
	for _, statement := range statements {
		if _, err := t.tx.ExecContext(ctx, statement, id); err != nil {
			return fmt.Errorf("failed to delete connection %d: %w", id, err)
		}
	}
	return nil
}

// Grant gives a user READ permission on a connection. Granting an existing
// permission is a no-op.
func (t *Tx) Grant(ctx context.Context, username string, connectionID int) error {
	logger := log.FromContext(ctx)
	logger.Info("Granting connection permission", "username", username, "connection", connectionID)

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO guacamole_connection_permission (entity_id, connection_id, permission)
		 SELECT e.entity_id, $2, 'READ'
		 FROM guacamole_entity e
		 WHERE e.name = $1 AND e.type = 'USER'
		 ON CONFLICT DO NOTHING`,
		username, connectionID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant %s on connection %d: %w", username, connectionID, err)
	}
	return nil
}

// Revoke removes a user's READ permission on a connection.
func (t *Tx) Revoke(ctx context.Context, username string, connectionID int) error {
	logger := log.FromContext(ctx)
	logger.Info("Revoking connection permission", "username", username, "connection", connectionID)

	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM guacamole_connection_permission
		 WHERE connection_id = $2
		 AND entity_id = (
			SELECT entity_id FROM guacamole_entity
			WHERE name = $1 AND type = 'USER'
		 )`,
		username, connectionID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke %s on connection %d: %w", username, connectionID, err)
	}
	return nil
}

// ListConnectionUsers returns every user with READ permission on a
// connection, keyed by username.
func (t *Tx) ListConnectionUsers(ctx context.Context, connectionID int) (map[string]UserAttrs, error) {
	var rows []userRow
	err := t.tx.SelectContext(ctx, &rows,
		`SELECT
			e.name as username,
			a1.attribute_value as fullname,
			a2.attribute_value as email,
			a3.attribute_value as organization,
			a4.attribute_value as role
		FROM guacamole_entity e
		JOIN guacamole_connection_permission cp ON e.entity_id = cp.entity_id
		LEFT JOIN guacamole_user_attribute a1 ON e.entity_id = a1.user_id AND a1.attribute_name = 'guac-full-name'
		LEFT JOIN guacamole_user_attribute a2 ON e.entity_id = a2.user_id AND a2.attribute_name = 'guac-email-address'
		LEFT JOIN guacamole_user_attribute a3 ON e.entity_id = a3.user_id AND a3.attribute_name = 'guac-organization'
		LEFT JOIN guacamole_user_attribute a4 ON e.entity_id = a4.user_id AND a4.attribute_name = 'guac-organizational-role'
		WHERE e.type = 'USER'
		AND cp.connection_id = $1
		AND cp.permission = 'READ'`,
		connectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users for connection %d: %w", connectionID, err)
	}

	users := make(map[string]UserAttrs, len(rows))
	for _, row := range rows {
		users[row.Username] = row.attrs()
	}
	return users, nil
}
