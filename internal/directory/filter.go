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

package directory

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeFilter parses a caller-supplied filter and re-serializes it. Every
// filter crosses this boundary before it is sent to the server, so malformed
// or hostile input fails here with ErrInvalidQuery.
func NormalizeFilter(filter string) (string, error) {
	packet, err := ldap.CompileFilter(filter)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidQuery, filter, err)
	}
	normalized, err := ldap.DecompileFilter(packet)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidQuery, filter, err)
	}
	return normalized, nil
}

// andFilter combines two already-normalized filters with a conjunction.
func andFilter(a, b string) string {
	return fmt.Sprintf("(&%s%s)", a, b)
}

// equalityFilter builds an attribute equality filter, escaping the value.
func equalityFilter(attribute, value string) string {
	return fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value))
}
