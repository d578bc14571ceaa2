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

// Package authz implements the scope-based authorization core. Decisions
// are pure functions of the caller's scope set; no repository access.
//
// Scope grammar:
//
//	admin:all                          global bypass
//	{resource}:{action}                team-agnostic grant
//	team:{name}:{resource}:{action}    team-bound grant ({resource} and
//	                                   {action} may be "*")
//	org:{name}:{admin|member}          organization role
package authz

import (
	"sort"
	"strings"
)

// AdminScope grants everything.
const AdminScope = "admin:all"

// AuthContext carries the authenticated caller's identity and grants. It
// is produced by the authentication layer and treated as read-only here.
type AuthContext struct {
	Identity     string
	Display      string
	Scopes       []string
	Org          string
	AllowedTeams []string
}

// HasScope reports whether the exact scope string is present.
func (c *AuthContext) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the context holds the global bypass.
func (c *AuthContext) IsAdmin() bool {
	return c.HasScope(AdminScope)
}

// CheckResourceAccess decides whether the context may perform action on
// resource, optionally bound to a team. With no team, any team-bound grant
// for the (resource, action) pair allows the call; the caller is expected
// to filter results down to ExtractTeamScopes afterwards.
func CheckResourceAccess(c *AuthContext, resource, action, team string) bool {
	if c == nil {
		return false
	}
	if c.IsAdmin() {
		return true
	}
	if c.HasScope(resource + ":" + action) {
		return true
	}

	if team != "" {
		return c.HasScope("team:"+team+":"+resource+":"+action) ||
			c.HasScope("team:"+team+":"+resource+":*") ||
			c.HasScope("team:"+team+":*:*")
	}

	for _, scope := range c.Scopes {
		t, r, a, ok := parseTeamScope(scope)
		if !ok || t == "" {
			continue
		}
		if (r == resource || r == "*") && (a == action || a == "*") {
			return true
		}
	}
	return false
}

// ExtractTeamScopes returns the unique team names granted by team scopes,
// sorted. The admin bypass contributes no team.
func ExtractTeamScopes(c *AuthContext) []string {
	seen := map[string]bool{}
	for _, scope := range c.Scopes {
		if team, _, _, ok := parseTeamScope(scope); ok && team != "" && !seen[team] {
			seen[team] = true
		}
	}

	out := make([]string, 0, len(seen))
	for team := range seen {
		out = append(out, team)
	}
	sort.Strings(out)
	return out
}

// OrgScope is one (organization, role) grant.
type OrgScope struct {
	Org  string
	Role string
}

// ExtractOrgScopes returns the unique (org, role) pairs from org scopes,
// sorted by org then role.
func ExtractOrgScopes(c *AuthContext) []OrgScope {
	seen := map[OrgScope]bool{}
	for _, scope := range c.Scopes {
		parts := strings.Split(scope, ":")
		if len(parts) != 3 || parts[0] != "org" || parts[1] == "" {
			continue
		}
		switch parts[2] {
		case "admin", "member":
			seen[OrgScope{Org: parts[1], Role: parts[2]}] = true
		}
	}

	out := make([]OrgScope, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Org != out[j].Org {
			return out[i].Org < out[j].Org
		}
		return out[i].Role < out[j].Role
	})
	return out
}

func parseTeamScope(scope string) (team, resource, action string, ok bool) {
	parts := strings.Split(scope, ":")
	if len(parts) != 4 || parts[0] != "team" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
