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
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// ValidateSpec validates the GuacamoleConnectionSpec. An invalid resource is
// skipped by the reconciler rather than failing the whole sweep.
func (c *GuacamoleConnection) ValidateSpec() field.ErrorList {
	return validateGuacamoleConnectionSpec(&c.Spec, field.NewPath("spec"))
}

// validateGuacamoleConnectionSpec validates the GuacamoleConnectionSpec
func validateGuacamoleConnectionSpec(spec *GuacamoleConnectionSpec, fldPath *field.Path) field.ErrorList {
	var errs field.ErrorList

	// Validate protocol
	if spec.Protocol == "" {
		errs = append(errs, field.Required(fldPath.Child("protocol"), "protocol cannot be empty"))
	}

	// Validate hostname
	if spec.Hostname == "" {
		errs = append(errs, field.Required(fldPath.Child("hostname"), "hostname cannot be empty"))
	}

	// Validate port
	if spec.Port <= 0 || spec.Port > 65535 {
		errs = append(errs, field.Invalid(fldPath.Child("port"), spec.Port, "port must be between 1 and 65535"))
	}

	// Validate group filter when membership lookup is enabled
	if spec.LDAP.Enabled && spec.LDAP.GroupFilter == "" {
		errs = append(errs, field.Required(fldPath.Child("ldap", "groupFilter"), "groupFilter cannot be empty when ldap is enabled"))
	}

	return errs
}
