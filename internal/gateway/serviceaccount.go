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
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// System permissions granted to the service account. ADMINISTER lets the
// gateway UI manage what the operator provisions.
var serviceAccountPermissions = []string{
	"CREATE_CONNECTION",
	"CREATE_CONNECTION_GROUP",
	"CREATE_SHARING_PROFILE",
	"CREATE_USER",
	"CREATE_USER_GROUP",
	"ADMINISTER",
}

// CreateServiceAccount creates or refreshes the operator's own privileged
// user row. It runs exactly once at startup. Re-running with the same
// password only rotates the salt and re-asserts the permission set; row
// counts do not change.
func (t *Tx) CreateServiceAccount(ctx context.Context, username, password string) error {
	logger := log.FromContext(ctx)
	logger.Info("Creating service account", "username", username)

	saltHex, err := newSaltHex()
	if err != nil {
		return err
	}
	hashHex := hashPassword(password, saltHex)

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO guacamole_entity (name, type)
		 VALUES ($1, 'USER')
		 ON CONFLICT DO NOTHING`,
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to create service account entity: %w", err)
	}

	// The hex digest and salt are stored decoded, as the gateway expects.
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO guacamole_user (entity_id, password_hash, password_salt, password_date)
		 SELECT
			entity_id,
			decode($2, 'hex'),
			decode($3, 'hex'),
			CURRENT_TIMESTAMP
		 FROM guacamole_entity WHERE name = $1 AND guacamole_entity.type = 'USER'
		 ON CONFLICT (entity_id) DO UPDATE SET
			password_hash = excluded.password_hash,
			password_salt = excluded.password_salt,
			password_date = excluded.password_date`,
		username, hashHex, saltHex,
	)
	if err != nil {
		return fmt.Errorf("failed to set service account credentials: %w", err)
	}

	for _, permission := range serviceAccountPermissions {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO guacamole_system_permission (entity_id, permission)
			 SELECT entity_id, $2::guacamole_system_permission_type
			 FROM guacamole_entity
			 WHERE name = $1 AND type = 'USER'
			 ON CONFLICT DO NOTHING`,
			username, permission,
		)
		if err != nil {
			return fmt.Errorf("failed to grant %s to service account: %w", permission, err)
		}
	}

	return nil
}

// newSaltHex generates a fresh 32-byte salt, hex-encoded uppercase.
func newSaltHex() (string, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(salt)), nil
}

// hashPassword computes the gateway's password digest: SHA-256 over the
// UTF-8 password concatenated with the uppercase hex salt, as uppercase hex.
func hashPassword(password, saltHex string) string {
	sum := sha256.Sum256([]byte(password + saltHex))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
