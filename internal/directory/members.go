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

// GroupMembers expands the groups matched by groupFilter into the set of user
// records that are transitive members, requesting the given attributes for
// each user. Nested groups are followed; a visited-DN set shared across the
// whole traversal breaks membership cycles and suppresses duplicate results.
// Result order is unspecified; callers treat the slice as a set keyed by DN.
func (c *Client) GroupMembers(groupFilter string, attributes []string) ([]Record, error) {
	normalized, err := NormalizeFilter(groupFilter)
	if err != nil {
		return nil, err
	}

	t := &traversal{
		client:     c,
		attributes: attributes,
		visited:    make(map[string]struct{}),
	}
	if err := t.expandGroups(normalized); err != nil {
		return nil, err
	}
	return t.records, nil
}

// traversal carries the state of one group expansion. The visited set spans
// the entire recursion, not a single level; that is what guarantees
// termination on cyclic group graphs.
type traversal struct {
	client     *Client
	attributes []string
	visited    map[string]struct{}
	records    []Record
}

func (t *traversal) seen(dn string) bool {
	_, ok := t.visited[dn]
	return ok
}

func (t *traversal) mark(dn string) {
	t.visited[dn] = struct{}{}
}

// expandGroups searches the group base for groups matching both the global
// group filter and the caller filter, then walks each member DN. A member DN
// may name a nested group, a user, or neither; the two follow-up searches
// sort that out without needing to know which it is.
func (t *traversal) expandGroups(groupFilter string) error {
	c := t.client
	filter := andFilter(c.groupFilter, groupFilter)

	groups, err := c.search(c.config.GroupBaseDN, filter, []string{c.config.MemberAttribute})
	if err != nil {
		return err
	}

	for _, group := range groups {
		if t.seen(group.DN) {
			continue
		}
		t.mark(group.DN)

		for _, memberDN := range group.GetAttributeValues(c.config.MemberAttribute) {
			dnFilter := equalityFilter("distinguishedName", memberDN)

			// If the member is itself a group this recurses into its
			// members; otherwise the search matches nothing.
			if err := t.expandGroups(dnFilter); err != nil {
				return err
			}

			// If the member is a user this yields exactly one record.
			if err := t.collectUsers(dnFilter); err != nil {
				return err
			}
		}
	}

	return nil
}

// collectUsers searches the user base for entries matching both the global
// user filter and the member DN filter, recording each unseen hit.
func (t *traversal) collectUsers(dnFilter string) error {
	c := t.client
	filter := andFilter(c.userFilter, dnFilter)

	users, err := c.search(c.config.UserBaseDN, filter, t.attributes)
	if err != nil {
		return err
	}

	for _, user := range users {
		if t.seen(user.DN) {
			continue
		}
		t.mark(user.DN)

		record := Record{DN: user.DN, Attributes: make(map[string]string, len(t.attributes))}
		for _, attribute := range t.attributes {
			if value := user.GetAttributeValue(attribute); value != "" {
				record.Attributes[attribute] = value
			}
		}
		t.records = append(t.records, record)
	}

	return nil
}
