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

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Guacamole user attribute names.
const (
	attrFullName     = "guac-full-name"
	attrEmail        = "guac-email-address"
	attrOrganization = "guac-organization"
	attrRole         = "guac-organizational-role"
)

// UserAttrs are the managed attributes of a gateway user.
type UserAttrs struct {
	FullName     string
	Email        string
	Organization string
	Role         string
}

type userRow struct {
	Username     string         `db:"username"`
	FullName     sql.NullString `db:"fullname"`
	Email        sql.NullString `db:"email"`
	Organization sql.NullString `db:"organization"`
	Role         sql.NullString `db:"role"`
}

func (r userRow) attrs() UserAttrs {
	return UserAttrs{
		FullName:     r.FullName.String,
		Email:        r.Email.String,
		Organization: r.Organization.String,
		Role:         r.Role.String,
	}
}

const selectUsersQuery = `
	SELECT
		e.name as username,
		a1.attribute_value as fullname,
		a2.attribute_value as email,
		a3.attribute_value as organization,
		a4.attribute_value as role
	FROM guacamole_entity e
	LEFT JOIN guacamole_user_attribute a1 ON e.entity_id = a1.user_id AND a1.attribute_name = 'guac-full-name'
	LEFT JOIN guacamole_user_attribute a2 ON e.entity_id = a2.user_id AND a2.attribute_name = 'guac-email-address'
	LEFT JOIN guacamole_user_attribute a3 ON e.entity_id = a3.user_id AND a3.attribute_name = 'guac-organization'
	LEFT JOIN guacamole_user_attribute a4 ON e.entity_id = a4.user_id AND a4.attribute_name = 'guac-organizational-role'
	WHERE e.type = 'USER'`

// ListUsers returns every gateway user keyed by username.
func (t *Tx) ListUsers(ctx context.Context) (map[string]UserAttrs, error) {
	var rows []userRow
	if err := t.tx.SelectContext(ctx, &rows, selectUsersQuery); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make(map[string]UserAttrs, len(rows))
	for _, row := range rows {
		users[row.Username] = row.attrs()
	}
	return users, nil
}

// GetUser returns the attributes of one gateway user, or ErrUserNotFound.
func (t *Tx) GetUser(ctx context.Context, username string) (UserAttrs, error) {
	var row userRow
	err := t.tx.GetContext(ctx, &row, selectUsersQuery+" AND e.name = $1", username)
	if errors.Is(err, sql.ErrNoRows) {
		return UserAttrs{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return UserAttrs{}, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return row.attrs(), nil
}

// CreateUser inserts the entity row, a user row with NULL password columns,
// and the attribute rows. Authentication for managed users delegates to the
// gateway's LDAP integration; the password columns stay NULL.
func (t *Tx) CreateUser(ctx context.Context, username string, attrs UserAttrs) error {
	logger := log.FromContext(ctx)
	logger.Info("Creating user", "username", username)

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO guacamole_entity (name, type)
		 VALUES ($1, 'USER')
		 ON CONFLICT DO NOTHING`,
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity for %s: %w", username, err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO guacamole_user (entity_id, password_hash, password_salt, password_date)
		 SELECT entity_id, NULL, NULL, NULL
		 FROM guacamole_entity WHERE name = $1 AND type = 'USER'
		 ON CONFLICT DO NOTHING`,
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", username, err)
	}

	return t.setUserAttributes(ctx, username, attrs)
}

// UpdateUser upserts the attribute rows of an existing user.
func (t *Tx) UpdateUser(ctx context.Context, username string, attrs UserAttrs) error {
	logger := log.FromContext(ctx)
	logger.Info("Updating user", "username", username)

	return t.setUserAttributes(ctx, username, attrs)
}

func (t *Tx) setUserAttributes(ctx context.Context, username string, attrs UserAttrs) error {
	attributes := []struct {
		name  string
		value string
	}{
		{attrFullName, attrs.FullName},
		{attrEmail, attrs.Email},
		{attrOrganization, attrs.Organization},
		{attrRole, attrs.Role},
	}

	for _, attribute := range attributes {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO guacamole_user_attribute (user_id, attribute_name, attribute_value)
			 SELECT entity_id, $2, $3
			 FROM guacamole_entity
			 WHERE name = $1 AND type = 'USER'
			 ON CONFLICT (user_id, attribute_name)
			 DO UPDATE SET attribute_value = excluded.attribute_value`,
			username, attribute.name, attribute.value,
		)
		if err != nil {
			return fmt.Errorf("failed to set attribute %s for %s: %w", attribute.name, username, err)
		}
	}
	return nil
}

// DeleteUser removes attributes, permissions, the user row and the entity
// row, in that order. Deleting an unknown user is a no-op.
func (t *Tx) DeleteUser(ctx context.Context, username string) error {
	logger := log.FromContext(ctx)
	logger.Info("Deleting user", "username", username)

	var entityID int
	err := t.tx.GetContext(ctx, &entityID,
		`SELECT entity_id FROM guacamole_entity WHERE name = $1 AND type = 'USER'`,
		username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", username, err)
	}

	statements := []string{
		`DELETE FROM guacamole_user_attribute WHERE user_id = $1`,
		`DELETE FROM guacamole_connection_permission WHERE entity_id = $1`,
		`DELETE FROM guacamole_user WHERE entity_id = $1`,
		`DELETE FROM guacamole_entity WHERE entity_id = $1`,
	}
	for _, statement := range statements {
		if _, err := t.tx.ExecContext(ctx, statement, entityID); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", username, err)
		}
	}
	return nil
}
