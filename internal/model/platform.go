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
	"encoding/json"
	"time"

	"github.com/flowplane/flowplane/internal/apierror"
)

// APIDefinition is the Platform API aggregate: a domain plus a set of
// routes and upstream targets, optionally with its own isolated listener.
type APIDefinition struct {
	ID                  string
	Team                string
	Domain              string
	TLSConfig           *DownstreamTLS
	ListenerIsolation   bool
	IsolationListener   *IsolationListener
	Routes              []APIRoute
	GeneratedListenerID string
	GeneratedRouteIDs   []string
	GeneratedClusterIDs []string
	BootstrapRevision   int64
	BootstrapURI        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsolationListener names (or sizes) the dedicated listener for an
// isolated API definition.
type IsolationListener struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Port    uint32 `json:"port,omitempty"`
}

// APIRoute is one route in an API definition.
type APIRoute struct {
	MatchType       MatchType         `json:"match_type"`
	MatchValue      string            `json:"match_value"`
	CaseSensitive   bool              `json:"case_sensitive,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RewritePrefix   string            `json:"rewrite_prefix,omitempty"`
	RewriteTemplate string            `json:"rewrite_template,omitempty"`
	Upstreams       UpstreamTargets   `json:"upstream_targets"`
	TimeoutSeconds  *uint32           `json:"timeout_seconds,omitempty"`
	// OverrideConfig carries raw per-route filter overrides keyed by
	// filter type name.
	OverrideConfig     map[string]json.RawMessage `json:"override_config,omitempty"`
	RouteOrder         int64                      `json:"route_order,omitempty"`
	GeneratedRouteID   string                     `json:"-"`
	GeneratedClusterID string                     `json:"-"`
}

type UpstreamTargets struct {
	Targets []UpstreamTarget `json:"targets"`
}

type UpstreamTarget struct {
	Endpoint string  `json:"endpoint"`
	Weight   *uint32 `json:"weight,omitempty"`
}

// Validate checks the definition invariants. Domain uniqueness within the
// team is enforced at the repository.
func (d *APIDefinition) Validate() error {
	if d.Team == "" {
		return apierror.Validationf("api definition requires a team")
	}
	if normalizeDomain(d.Domain) == "" {
		return apierror.Validationf("api definition requires a domain")
	}
	if len(d.Routes) == 0 {
		return apierror.Validationf("api definition requires at least one route")
	}
	for i := range d.Routes {
		if err := d.Routes[i].Validate(); err != nil {
			return err
		}
	}
	if !d.ListenerIsolation && d.IsolationListener != nil {
		return apierror.Validationf("isolation_listener requires listener_isolation")
	}
	return nil
}

func (r *APIRoute) Validate() error {
	switch r.MatchType {
	case MatchPrefix, MatchExact, MatchPathTemplate:
		if r.MatchValue == "" {
			return apierror.Validationf("api route match type %s requires a match value", r.MatchType)
		}
	case MatchRegex:
		if r.MatchValue == "" {
			return apierror.Validationf("api route regex match requires a pattern")
		}
	default:
		return apierror.Validationf("api route match type %q is not supported", r.MatchType)
	}
	if len(r.Upstreams.Targets) == 0 {
		return apierror.Validationf("api route requires at least one upstream target")
	}
	for _, t := range r.Upstreams.Targets {
		if _, err := ParseEndpoint(t.Endpoint); err != nil {
			return err
		}
	}
	return nil
}

// NormalizedDomain returns the canonical lowercase domain.
func (d *APIDefinition) NormalizedDomain() string {
	return normalizeDomain(d.Domain)
}

// OpenAPIImport records a spec import: enough metadata to re-import and to
// detect drift via the content checksum.
type OpenAPIImport struct {
	ID           string
	SpecName     string
	SpecVersion  string
	SpecChecksum string // hex sha-256 of SourceContent
	Team         string
	SourceContent string
	ListenerName string
	ImportedAt   time.Time
	UpdatedAt    time.Time
}

func (o *OpenAPIImport) Validate() error {
	if o.SpecName == "" {
		return apierror.Validationf("openapi import requires a spec name")
	}
	if o.Team == "" {
		return apierror.Validationf("openapi import requires a team")
	}
	if o.SourceContent == "" {
		return apierror.Validationf("openapi import requires source content")
	}
	return nil
}
