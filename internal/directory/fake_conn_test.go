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
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory directory serving exactly the search shapes the
// client produces: group lookups by cn or distinguishedName under the group
// base, and user lookups by distinguishedName under the user base.
type fakeConn struct {
	config Config

	// groups maps group DN to the member DNs it lists
	groups map[string][]string
	// users maps user DN to its attributes
	users map[string]map[string]string

	bindErr   error
	searchErr error

	bound    bool
	searches []string
	closed   bool
}

var (
	dnTermRe = regexp.MustCompile(`\(distinguishedName=([^)]*)\)`)
	cnTermRe = regexp.MustCompile(`\(cn=([^)]*)\)`)
)

func (f *fakeConn) Bind(username, password string) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bound = true
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConn) SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error) {
	f.searches = append(f.searches, fmt.Sprintf("%s %s", req.BaseDN, req.Filter))
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	switch req.BaseDN {
	case f.config.GroupBaseDN:
		return f.searchGroups(req)
	case f.config.UserBaseDN:
		return f.searchUsers(req)
	}
	return &ldap.SearchResult{}, nil
}

func (f *fakeConn) searchGroups(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	result := &ldap.SearchResult{}

	if m := dnTermRe.FindStringSubmatch(req.Filter); m != nil {
		if members, ok := f.groups[m[1]]; ok {
			result.Entries = append(result.Entries, groupEntry(m[1], f.config.MemberAttribute, members))
		}
		return result, nil
	}

	if m := cnTermRe.FindStringSubmatch(req.Filter); m != nil {
		prefix := fmt.Sprintf("cn=%s,", m[1])
		for dn, members := range f.groups {
			if strings.HasPrefix(dn, prefix) {
				result.Entries = append(result.Entries, groupEntry(dn, f.config.MemberAttribute, members))
			}
		}
	}
	return result, nil
}

func (f *fakeConn) searchUsers(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	result := &ldap.SearchResult{}

	if m := dnTermRe.FindStringSubmatch(req.Filter); m != nil {
		if attrs, ok := f.users[m[1]]; ok {
			values := make(map[string][]string)
			for _, wanted := range req.Attributes {
				if v, ok := attrs[wanted]; ok {
					values[wanted] = []string{v}
				}
			}
			result.Entries = append(result.Entries, ldap.NewEntry(m[1], values))
		}
	}
	return result, nil
}

func groupEntry(dn, memberAttribute string, members []string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{memberAttribute: members})
}

func testConfig() Config {
	return Config{
		Hostname:        "ldap.internal",
		Port:            636,
		BindDN:          "cn=search,dc=example,dc=org",
		BindPassword:    "secret",
		UserBaseDN:      "ou=people,dc=example,dc=org",
		UserFilter:      "(objectClass=person)",
		GroupBaseDN:     "ou=groups,dc=example,dc=org",
		GroupFilter:     "(objectClass=group)",
		MemberAttribute: "member",
		PageSize:        100,
	}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		config: testConfig(),
		groups: make(map[string][]string),
		users:  make(map[string]map[string]string),
	}
}
