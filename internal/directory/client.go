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

// Package directory reads group membership from LDAP. The operator only ever
// searches the directory; all writes flow to the gateway database.
package directory

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrUnavailable indicates the directory could not be reached or a
	// search failed; the reconcile is retried later.
	ErrUnavailable = errors.New("directory unavailable")

	// ErrInvalidQuery indicates a filter did not parse; the resource that
	// supplied it is skipped for the current sweep.
	ErrInvalidQuery = errors.New("invalid directory query")
)

const searchTimeout = 30 * time.Second

// Config holds the directory connection and search settings.
type Config struct {
	Hostname        string
	Port            int
	BindDN          string
	BindPassword    string
	UserBaseDN      string
	UserFilter      string
	GroupBaseDN     string
	GroupFilter     string
	MemberAttribute string
	PageSize        int
}

// Conn is the subset of *ldap.Conn the client depends on.
type Conn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

// Record is a single directory search result. Records are keyed by DN; the
// attribute map holds the first value of each requested attribute.
type Record struct {
	DN         string
	Attributes map[string]string
}

// Client performs paged searches and recursive group-member expansion against
// a bound LDAP connection. The bind is reused across reconciles; reconciles
// never overlap, so no synchronization is needed on the connection.
type Client struct {
	conn        Conn
	config      Config
	userFilter  string
	groupFilter string
}

// Dial connects to the directory over TLS and binds with the configured
// search credentials.
func Dial(cfg Config) (*Client, error) {
	address := fmt.Sprintf("ldaps://%s:%d", cfg.Hostname, cfg.Port)

	tlsConfig := &tls.Config{
		ServerName: cfg.Hostname,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := ldap.DialURL(address, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrUnavailable, address, err)
	}
	conn.SetTimeout(searchTimeout)

	client, err := newClient(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

// newClient validates the configured filters and binds the connection.
func newClient(conn Conn, cfg Config) (*Client, error) {
	userFilter, err := NormalizeFilter(cfg.UserFilter)
	if err != nil {
		return nil, fmt.Errorf("user filter: %w", err)
	}
	groupFilter, err := NormalizeFilter(cfg.GroupFilter)
	if err != nil {
		return nil, fmt.Errorf("group filter: %w", err)
	}

	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("%w: bind as %s: %w", ErrUnavailable, cfg.BindDN, err)
	}

	return &Client{
		conn:        conn,
		config:      cfg,
		userFilter:  userFilter,
		groupFilter: groupFilter,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// search runs one RFC 2696 paged search and returns all entries.
func (c *Client) search(baseDN, filter string, attributes []string) ([]*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(searchTimeout.Seconds()),
		false,
		filter,
		attributes,
		nil,
	)

	result, err := c.conn.SearchWithPaging(req, uint32(c.config.PageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: search under %s: %w", ErrUnavailable, baseDN, err)
	}
	return result.Entries, nil
}
