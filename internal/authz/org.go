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

package authz

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
)

// Tenants is the organization and team registry. Memberships carry
// last-owner protection: once an organization has an owner, no removal
// or role change may leave it with zero owners.
type Tenants struct {
	mu      sync.Mutex
	orgs    map[string]*model.Organization
	teams   map[string]*model.Team
	members map[string]map[string]model.MembershipRole
}

func NewTenants() *Tenants {
	return &Tenants{
		orgs:    map[string]*model.Organization{},
		teams:   map[string]*model.Team{},
		members: map[string]map[string]model.MembershipRole{},
	}
}

// AddOrganization registers an organization. The owner, when set, is
// seeded as the first Owner member.
func (t *Tenants) AddOrganization(org *model.Organization) error {
	if err := org.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.orgs {
		if existing.Name == org.Name {
			return apierror.AlreadyExists("organization", org.Name)
		}
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	stored := *org
	t.orgs[org.ID] = &stored

	if org.Owner != "" {
		t.members[org.ID] = map[string]model.MembershipRole{org.Owner: model.RoleOwner}
	}
	return nil
}

// AddTeam registers a team under an existing organization.
func (t *Tenants) AddTeam(team *model.Team) error {
	if err := team.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orgs[team.OrgID]; !ok {
		return apierror.NotFound("organization", team.OrgID)
	}
	for _, existing := range t.teams {
		if existing.Name == team.Name {
			return apierror.AlreadyExists("team", team.Name)
		}
	}
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	stored := *team
	t.teams[team.ID] = &stored
	return nil
}

// SetMembership adds a member or changes an existing member's role.
// Demoting the sole owner is refused.
func (t *Tenants) SetMembership(m model.Membership) error {
	if err := m.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orgs[m.OrgID]; !ok {
		return apierror.NotFound("organization", m.OrgID)
	}
	members, ok := t.members[m.OrgID]
	if !ok {
		members = map[string]model.MembershipRole{}
		t.members[m.OrgID] = members
	}

	if members[m.UserID] == model.RoleOwner && m.Role != model.RoleOwner && t.ownerCount(m.OrgID) == 1 {
		return apierror.Forbiddenf("organization %q must retain at least one owner", m.OrgID)
	}
	members[m.UserID] = m.Role
	return nil
}

// RemoveMember deletes a membership. Removing the sole owner is refused.
func (t *Tenants) RemoveMember(orgID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.members[orgID]
	if !ok {
		return apierror.NotFound("organization", orgID)
	}
	role, ok := members[userID]
	if !ok {
		return apierror.NotFound("member", userID)
	}
	if role == model.RoleOwner && t.ownerCount(orgID) == 1 {
		return apierror.Forbiddenf("organization %q must retain at least one owner", orgID)
	}
	delete(members, userID)
	return nil
}

// RoleOf returns the member's role within the organization.
func (t *Tenants) RoleOf(orgID, userID string) (model.MembershipRole, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	role, ok := t.members[orgID][userID]
	return role, ok
}

// ownerCount requires t.mu held.
func (t *Tenants) ownerCount(orgID string) int {
	n := 0
	for _, role := range t.members[orgID] {
		if role == model.RoleOwner {
			n++
		}
	}
	return n
}

// ContextForToken derives the caller context from an issued access
// token. Revoked tokens are refused.
func ContextForToken(token *model.Token) (*AuthContext, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	if token.Status != model.TokenActive {
		return nil, apierror.Forbiddenf("token %q is revoked", token.Name)
	}
	return &AuthContext{
		Identity: token.Name,
		Scopes:   append([]string(nil), token.Scopes...),
	}, nil
}
