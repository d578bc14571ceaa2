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

package filters

import (
	"encoding/base64"
	"encoding/json"
	"sort"

	http_connection_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
)

// MaterializeInput carries one listener and the lookups the materializer
// needs. The row pool is team-scoped by the caller; the materializer never
// touches the repository directly.
type MaterializeInput struct {
	Listener *model.Listener

	// Rows is the candidate pool of filter rows visible to the listener's
	// team. Attachment targets are matched against listener and route
	// config ids.
	Rows []*model.FilterRow

	// RouteConfigID resolves an RDS route config name to its stored id.
	RouteConfigID func(name string) (string, bool)

	// WasmBinary fetches a stored WASM binary for custom_wasm_<id> rows.
	WasmBinary func(id string) ([]byte, error)

	// ClusterExists reports whether a cluster name is already present,
	// suppressing JWKS cluster synthesis for it.
	ClusterExists func(name string) bool
}

// Materialized is the assembled filter chain for one listener. The Router
// filter is not included; the listener compiler appends it last.
type Materialized struct {
	entries []materializedFilter

	// JWKSClusters are clusters synthesized for remote-JWKS providers whose
	// declared cluster did not exist. The caller inserts them into the
	// cluster snapshot before the listener is emitted.
	JWKSClusters []*model.Cluster
}

type materializedFilter struct {
	rowName string
	filter  *http_connection_manager_v3.HttpFilter
}

// Filters returns the assembled chain in materialization order.
func (m *Materialized) Filters() []*http_connection_manager_v3.HttpFilter {
	out := make([]*http_connection_manager_v3.HttpFilter, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.filter)
	}
	return out
}

// Source returns the chain for one HCM: filters named in the HCM's
// declaration list come first, in declaration order, followed by the
// remaining attached filters. It satisfies the listener compiler's
// HTTPFilterSource hook.
func (m *Materialized) Source(names []string) ([]*http_connection_manager_v3.HttpFilter, error) {
	if len(names) == 0 {
		return m.Filters(), nil
	}

	byName := map[string]*http_connection_manager_v3.HttpFilter{}
	for _, e := range m.entries {
		if e.rowName != "" {
			byName[e.rowName] = e.filter
		}
	}

	var out []*http_connection_manager_v3.HttpFilter
	declared := map[string]bool{}
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return nil, apierror.Validationf("http filter %q is not attached or known", name)
		}
		if declared[name] {
			continue
		}
		declared[name] = true
		out = append(out, f)
	}
	for _, e := range m.entries {
		if declared[e.rowName] {
			continue
		}
		out = append(out, e.filter)
	}
	return out, nil
}

// Materialize assembles the HTTP filter chain for one listener: gather
// attached rows, expand custom WASM rows, merge JWT rows into a single
// jwt_authn filter, synthesize missing JWKS clusters, and convert the rest
// through the registry.
func (r *Registry) Materialize(in MaterializeInput) (*Materialized, error) {
	rows, err := r.gatherRows(in)
	if err != nil {
		return nil, err
	}

	out := &Materialized{}

	// JWT rows collapse into one filter placed at the position of the
	// first JWT row. Everything else converts row by row.
	var jwtConfigs []*jwtConfig
	jwtSlot := -1
	for _, row := range rows {
		row, err := expandCustomWasm(row, in.WasmBinary)
		if err != nil {
			return nil, err
		}

		if row.FilterType == JWTFilterType {
			cfg, err := parseJWT(row.Config)
			if err != nil {
				return nil, apierror.Validationf("filter %q: %s", row.Name, err)
			}
			jwtConfigs = append(jwtConfigs, cfg)
			if jwtSlot == -1 {
				jwtSlot = len(out.entries)
				out.entries = append(out.entries, materializedFilter{rowName: row.Name})
			}
			continue
		}

		s, ok := r.Get(row.FilterType)
		if !ok {
			return nil, apierror.Validationf("filter %q has unregistered type %q", row.Name, row.FilterType)
		}
		if !s.AttachesTo(model.AttachListener) {
			// Applied per-route via typed_per_filter_config instead.
			continue
		}
		f, err := r.BuildHTTPFilter(row.FilterType, row.Config)
		if err != nil {
			return nil, apierror.Validationf("filter %q: %s", row.Name, err)
		}
		out.entries = append(out.entries, materializedFilter{rowName: row.Name, filter: f})
	}

	if len(jwtConfigs) > 0 {
		merged := mergeJWT(r.log, jwtConfigs)
		payload, err := buildJWTAuthentication(merged)
		if err != nil {
			return nil, err
		}
		out.entries[jwtSlot].filter = &http_connection_manager_v3.HttpFilter{
			Name: "envoy.filters.http.jwt_authn",
			ConfigType: &http_connection_manager_v3.HttpFilter_TypedConfig{
				TypedConfig: payload,
			},
		}

		exists := in.ClusterExists
		if exists == nil {
			exists = func(string) bool { return false }
		}
		clusters, err := jwksClusters(merged, exists)
		if err != nil {
			return nil, err
		}
		out.JWKSClusters = clusters
	}

	return out, nil
}

// gatherRows collects rows attached to the listener, then rows attached to
// every route config the listener references over RDS, deduplicated by row
// id with the first occurrence winning.
func (r *Registry) gatherRows(in MaterializeInput) ([]*model.FilterRow, error) {
	l := in.Listener

	targets := []struct {
		point model.AttachmentPoint
		id    string
	}{{model.AttachListener, l.ID}}

	for _, name := range l.RouteConfigNames() {
		if in.RouteConfigID == nil {
			break
		}
		id, ok := in.RouteConfigID(name)
		if !ok {
			continue
		}
		targets = append(targets, struct {
			point model.AttachmentPoint
			id    string
		}{model.AttachRouteConfig, id})
	}

	var rows []*model.FilterRow
	seen := map[string]bool{}
	for _, target := range targets {
		matched := attachedRows(in.Rows, target.point, target.id)
		for _, row := range matched {
			if seen[row.ID] {
				continue
			}
			seen[row.ID] = true
			rows = append(rows, row)
		}
	}
	return rows, nil
}

type attachedRow struct {
	row   *model.FilterRow
	order int64
}

// attachedRows returns rows attached at the given target, ordered by the
// attachment's order field with row id as tiebreaker.
func attachedRows(pool []*model.FilterRow, point model.AttachmentPoint, targetID string) []*model.FilterRow {
	var matched []attachedRow
	for _, row := range pool {
		for _, a := range row.Attachments {
			if a.Point == point && a.TargetID == targetID {
				matched = append(matched, attachedRow{row: row, order: a.Order})
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].order != matched[j].order {
			return matched[i].order < matched[j].order
		}
		return matched[i].row.ID < matched[j].row.ID
	})

	out := make([]*model.FilterRow, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.row)
	}
	return out
}

// expandCustomWasm rewrites a custom_wasm_<id> row into a standard wasm row
// carrying the stored binary inline. Other rows pass through unchanged.
func expandCustomWasm(row *model.FilterRow, fetch func(id string) ([]byte, error)) (*model.FilterRow, error) {
	binaryID, ok := row.IsCustomWasm()
	if !ok {
		return row, nil
	}
	if fetch == nil {
		return nil, apierror.Validationf("filter %q references a WASM binary but no binary store is available", row.Name)
	}
	binary, err := fetch(binaryID)
	if err != nil {
		return nil, err
	}

	var cfg wasmConfig
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, apierror.Validationf("filter %q wasm config does not parse: %s", row.Name, err)
		}
	}
	if cfg.Name == "" {
		cfg.Name = row.Name
	}
	cfg.CodeBase64 = base64.StdEncoding.EncodeToString(binary)

	expanded, err := json.Marshal(cfg)
	if err != nil {
		return nil, apierror.Validationf("filter %q wasm config does not serialize: %s", row.Name, err)
	}

	clone := *row
	clone.FilterType = "wasm"
	clone.Config = expanded
	return &clone, nil
}
