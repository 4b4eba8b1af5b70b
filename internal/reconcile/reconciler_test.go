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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	guacamolev1 "github.com/ukserp/guacamole-operator/api/v1"
	"github.com/ukserp/guacamole-operator/internal/directory"
	"github.com/ukserp/guacamole-operator/internal/gateway"
)

const svcAccount = "svc"

var _ = Describe("Reconciler", func() {
	var (
		ctx        context.Context
		manifests  *fakeManifests
		dir        *fakeDirectory
		store      *fakeStore
		reconciler *Reconciler
	)

	managedAttrs := func(fullname, email string) gateway.UserAttrs {
		return gateway.UserAttrs{
			FullName:     fullname,
			Email:        email,
			Organization: "MANAGED-BY: " + svcAccount,
			Role:         "MANAGED USER",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		manifests = &fakeManifests{}
		dir = &fakeDirectory{groups: map[string][]directory.Record{}}
		store = &fakeStore{base: newFakeState()}
		reconciler = New(manifests, dir, store, svcAccount,
			Attributes{Username: "uid", Fullname: "cn", Email: "mail"})
	})

	Context("with no resources", func() {
		It("removes stray users but preserves the service account", func() {
			store.base.users["ghost"] = gateway.UserAttrs{}
			store.base.users[svcAccount] = gateway.UserAttrs{}

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(Result{}))

			Expect(store.base.users).NotTo(HaveKey("ghost"))
			Expect(store.base.users).To(HaveKey(svcAccount))
			Expect(store.base.connections).To(BeEmpty())
			Expect(store.lastTx.committed).To(BeTrue())
		})
	})

	Context("with a single resource and member", func() {
		BeforeEach(func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h", 3389, true, "(cn=g1)"),
			}
			dir.groups["(cn=g1)"] = []directory.Record{
				userRecord("uid=alice,ou=users", map[string]string{
					"uid": "alice", "cn": "Alice", "mail": "a@x",
				}),
			}
		})

		It("provisions the connection, the user and the permission", func() {
			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(Result{Connections: 1, Users: 1}))

			Expect(store.base.connections).To(HaveLen(1))
			var id int
			for connID, conn := range store.base.connections {
				id = connID
				Expect(conn.name).To(Equal("ns/r1 - rdp"))
				Expect(conn.protocol).To(Equal("rdp"))
				Expect(conn.parent).To(Equal(gateway.RootParent))
				Expect(conn.hostname).To(Equal("h"))
				Expect(conn.port).To(Equal(3389))
			}

			Expect(store.base.users).To(HaveKeyWithValue("alice", managedAttrs("Alice", "a@x")))
			Expect(store.base.permissions[id]).To(HaveKey("alice"))
		})

		It("is idempotent across sweeps", func() {
			_, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			before := store.base.clone()

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(Result{Connections: 1, Users: 1}))
			Expect(store.base.users).To(Equal(before.users))
			Expect(store.base.connections).To(Equal(before.connections))
			Expect(store.base.permissions).To(Equal(before.permissions))
		})

		It("updates a user whose attributes drifted", func() {
			store.base.users["alice"] = managedAttrs("Alice", "old@x")

			_, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.base.users["alice"].Email).To(Equal("a@x"))
		})

		It("skips directory entries without a username", func() {
			dir.groups["(cn=g1)"] = append(dir.groups["(cn=g1)"],
				userRecord("uid=anon,ou=users", map[string]string{"cn": "No Username"}))

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Users).To(Equal(1))
			Expect(store.base.users).To(HaveLen(1))
		})
	})

	Context("when a member disappears from the directory", func() {
		It("revokes the permission and deletes the orphaned user", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h", 3389, true, "(cn=g1)"),
			}
			dir.groups["(cn=g1)"] = []directory.Record{
				userRecord("uid=alice,ou=users", map[string]string{"uid": "alice"}),
			}

			store.base.users["alice"] = managedAttrs("", "")
			store.base.users["bob"] = managedAttrs("", "")
			id := store.base.addConnection(
				fakeConnection{name: "ns/r1 - rdp", protocol: "rdp", parent: gateway.RootParent, hostname: "h", port: 3389},
				"alice", "bob",
			)

			_, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.base.permissions[id]).To(HaveKey("alice"))
			Expect(store.base.permissions[id]).NotTo(HaveKey("bob"))
			Expect(store.base.users).NotTo(HaveKey("bob"))
		})
	})

	Context("when a group member shares the service account's name", func() {
		It("never touches the service account and still manages the rest", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h", 3389, true, "(cn=g1)"),
			}
			dir.groups["(cn=g1)"] = []directory.Record{
				userRecord("uid=svc,ou=users", map[string]string{"uid": svcAccount, "cn": "Impostor"}),
				userRecord("uid=alice,ou=users", map[string]string{"uid": "alice", "cn": "Alice"}),
			}
			saved := gateway.UserAttrs{FullName: "Operator"}
			store.base.users[svcAccount] = saved

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Users).To(Equal(1))

			Expect(store.base.users[svcAccount]).To(Equal(saved))
			Expect(store.base.users).To(HaveKey("alice"))
			for _, granted := range store.base.permissions {
				Expect(granted).NotTo(HaveKey(svcAccount))
			}
		})
	})

	Context("with ldap disabled on a resource", func() {
		It("manages the connection with an empty member set", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "ssh", "h", 22, false, ""),
			}

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(Result{Connections: 1}))
			Expect(store.base.connections).To(HaveLen(1))
			Expect(store.base.users).To(BeEmpty())
		})
	})

	Context("when a resource is invalid", func() {
		BeforeEach(func() {
			store.base.users["ghost"] = gateway.UserAttrs{}
			store.base.addConnection(fakeConnection{name: "stale"})
		})

		It("skips an invalid spec and suppresses culling", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "bad", "", "h", 3389, false, ""),
			}

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(Equal(1))

			// Nothing culled while the sweep is incomplete
			Expect(store.base.users).To(HaveKey("ghost"))
			Expect(store.base.connections).To(HaveLen(1))
			Expect(store.lastTx.committed).To(BeTrue())
		})

		It("skips an invalid group filter and suppresses culling", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "bad", "rdp", "h", 3389, true, "(cn=broken"),
			}
			dir.err = directory.ErrInvalidQuery

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(Equal(1))
			Expect(store.base.users).To(HaveKey("ghost"))
			Expect(store.base.connections).To(HaveLen(1))
		})
	})

	Context("when the directory is unavailable", func() {
		It("aborts the sweep and leaves the database untouched", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h", 3389, true, "(cn=g1)"),
			}
			dir.err = directory.ErrUnavailable
			store.base.users["ghost"] = gateway.UserAttrs{}

			_, err := reconciler.Reconcile(ctx)
			Expect(err).To(MatchError(directory.ErrUnavailable))

			Expect(store.base.users).To(HaveKey("ghost"))
			Expect(store.lastTx).To(BeNil())
		})
	})

	Context("when a write fails mid-transaction", func() {
		It("rolls back and leaves the database untouched", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h", 3389, true, "(cn=g1)"),
			}
			dir.groups["(cn=g1)"] = []directory.Record{
				userRecord("uid=alice,ou=users", map[string]string{"uid": "alice"}),
			}

			store.base.users["ghost"] = gateway.UserAttrs{}
			store.base.addConnection(fakeConnection{name: "stale"})
			before := store.base.clone()
			store.grantErr = errors.New("deadlock detected")

			_, err := reconciler.Reconcile(ctx)
			Expect(err).To(MatchError(store.grantErr))

			// The sweep had already created alice and the connection inside
			// the transaction; none of it survives the rollback
			Expect(store.base.users).To(Equal(before.users))
			Expect(store.base.connections).To(Equal(before.connections))
			Expect(store.base.permissions).To(Equal(before.permissions))
			Expect(store.lastTx.rolledBack).To(BeTrue())
			Expect(store.lastTx.committed).To(BeFalse())
		})
	})

	Context("with colliding usernames across resources", func() {
		It("merges them into one user", func() {
			manifests.resources = []guacamolev1.GuacamoleConnection{
				newResource("ns", "r1", "rdp", "h1", 3389, true, "(cn=g1)"),
				newResource("ns", "r2", "ssh", "h2", 22, true, "(cn=g2)"),
			}
			dir.groups["(cn=g1)"] = []directory.Record{
				userRecord("uid=alice,ou=a", map[string]string{"uid": "alice", "cn": "Alice A"}),
			}
			dir.groups["(cn=g2)"] = []directory.Record{
				userRecord("uid=alice,ou=b", map[string]string{"uid": "alice", "cn": "Alice B"}),
			}

			result, err := reconciler.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(Result{Connections: 2, Users: 1}))

			Expect(store.base.users).To(HaveLen(1))
			for _, granted := range store.base.permissions {
				Expect(granted).To(HaveKey("alice"))
			}
		})
	})

	Describe("guarded writes", func() {
		It("refuse to touch the service account", func() {
			tx, err := store.Begin(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(reconciler.createUser(ctx, tx, svcAccount, gateway.UserAttrs{})).
				To(MatchError(ErrServiceAccountProtected))
			Expect(reconciler.deleteUser(ctx, tx, svcAccount)).
				To(MatchError(ErrServiceAccountProtected))
			Expect(reconciler.grant(ctx, tx, svcAccount, 1)).
				To(MatchError(ErrServiceAccountProtected))
			Expect(reconciler.revoke(ctx, tx, svcAccount, 1)).
				To(MatchError(ErrServiceAccountProtected))
		})
	})
})
