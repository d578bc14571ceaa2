// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"github.com/flowplane/flowplane/internal/apierror"
)

// Organization is the root tenant boundary.
type Organization struct {
	ID          string
	Name        string
	DisplayName string
	Owner       string
	Settings    map[string]string
}

func (o *Organization) Validate() error {
	return requireName("organization", o.Name)
}

// Team is the leaf tenant boundary; resources are owned by teams.
type Team struct {
	ID    string
	Name  string
	OrgID string
	Owner string
}

func (t *Team) Validate() error {
	if err := requireName("team", t.Name); err != nil {
		return err
	}
	if t.OrgID == "" {
		return apierror.Validationf("team %q requires an organization", t.Name)
	}
	return nil
}

// MembershipRole enumerates the per-organization roles.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "Owner"
	RoleAdmin  MembershipRole = "Admin"
	RoleMember MembershipRole = "Member"
	RoleViewer MembershipRole = "Viewer"
)

// Membership binds a user to an organization with a role. Organizations
// that have ever had an owner must always retain at least one; the
// operations facade enforces that on delete and role change.
type Membership struct {
	UserID string
	OrgID  string
	Role   MembershipRole
}

func (m *Membership) Validate() error {
	if m.UserID == "" || m.OrgID == "" {
		return apierror.Validationf("membership requires a user and an organization")
	}
	switch m.Role {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return nil
	default:
		return apierror.Validationf("membership role %q is not supported", m.Role)
	}
}

// TokenStatus enumerates token lifecycle states.
type TokenStatus string

const (
	TokenActive  TokenStatus = "Active"
	TokenRevoked TokenStatus = "Revoked"
)

// Token is a personal access token row. Hashing and issuance live outside
// the core; only the scope set is consumed here.
type Token struct {
	ID     string
	Name   string
	Status TokenStatus
	Scopes []string
}

func (t *Token) Validate() error {
	if err := requireName("token", t.Name); err != nil {
		return err
	}
	switch t.Status {
	case TokenActive, TokenRevoked:
	default:
		return apierror.Validationf("token status %q is not supported", t.Status)
	}
	return nil
}
