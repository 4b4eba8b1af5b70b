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

package v1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// LDAPMembershipSpec declares how the members of a connection are discovered
// in the directory.
type LDAPMembershipSpec struct {
	// Enabled controls whether group membership is looked up in LDAP for
	// this connection. When false the connection is still managed but no
	// users are granted access through it.
	Enabled bool `json:"enabled"`

	// GroupFilter is an LDAP filter expression selecting the group (or
	// groups) whose transitive members may use this connection.
	GroupFilter string `json:"groupFilter,omitempty"`
}

// GuacamoleConnectionSpec defines the desired state of GuacamoleConnection
type GuacamoleConnectionSpec struct {
	// Protocol is the remote-desktop protocol for the connection (e.g. "rdp", "ssh")
	Protocol string `json:"protocol"`

	// Hostname is the endpoint host the gateway connects to
	Hostname string `json:"hostname"`

	// Port is the endpoint port the gateway connects to
	Port int `json:"port"`

	// LDAP declares the directory membership lookup for this connection
	LDAP LDAPMembershipSpec `json:"ldap"`
}

// GuacamoleConnectionStatus defines the observed state of GuacamoleConnection
type GuacamoleConnectionStatus struct {
	// LastSyncTime is the timestamp of the last successful reconcile that
	// observed this resource
	LastSyncTime *metav1.Time `json:"lastSyncTime,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:printcolumn:name="Protocol",type="string",JSONPath=".spec.protocol"
//+kubebuilder:printcolumn:name="Hostname",type="string",JSONPath=".spec.hostname"
//+kubebuilder:printcolumn:name="Port",type="integer",JSONPath=".spec.port"
//+kubebuilder:printcolumn:name="LDAP",type="boolean",JSONPath=".spec.ldap.enabled"
//+kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// GuacamoleConnection is the Schema for the guacamoleconnections API
type GuacamoleConnection struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GuacamoleConnectionSpec   `json:"spec,omitempty"`
	Status GuacamoleConnectionStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// GuacamoleConnectionList contains a list of GuacamoleConnection
type GuacamoleConnectionList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []GuacamoleConnection `json:"items"`
}

// ResourceKey returns the identity of the resource as tracked by the
// resource source, in the form "Kind/namespace/name".
func (c *GuacamoleConnection) ResourceKey() string {
	kind := c.Kind
	if kind == "" {
		kind = "GuacamoleConnection"
	}
	return fmt.Sprintf("%s/%s/%s", kind, c.Namespace, c.Name)
}

// ConnectionName returns the gateway connection name derived from the
// resource identity and protocol.
func (c *GuacamoleConnection) ConnectionName() string {
	return fmt.Sprintf("%s/%s - %s", c.Namespace, c.Name, c.Spec.Protocol)
}

func init() {
	SchemeBuilder.Register(&GuacamoleConnection{}, &GuacamoleConnectionList{})
}
