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

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/flowplane/flowplane/internal/model"
)

// InMemory is a Repository backed by process memory. A single mutex guards
// all tables; contention is irrelevant at control-plane write rates.
type InMemory struct {
	mu sync.RWMutex

	clusters     *memTable[*model.Cluster]
	routeConfigs *memTable[*model.RouteConfig]
	listeners    *memTable[*model.Listener]
	secrets      *memTable[*model.Secret]
	filters      *memTable[*model.FilterRow]
	definitions  *memTable[*model.APIDefinition]
	imports      *memTable[*model.OpenAPIImport]

	wasmBinaries map[string][]byte
}

func NewInMemory() *InMemory {
	r := &InMemory{wasmBinaries: map[string][]byte{}}
	r.clusters = newMemTable(r, "cluster", clusterMeta)
	r.routeConfigs = newMemTable(r, "route config", routeConfigMeta)
	r.listeners = newMemTable(r, "listener", listenerMeta)
	r.secrets = newMemTable(r, "secret", secretMeta)
	r.filters = newMemTable(r, "filter", filterMeta)
	r.definitions = newMemTable(r, "api definition", definitionMeta)
	r.imports = newMemTable(r, "openapi import", importMeta)
	return r
}

func (r *InMemory) Clusters() ClusterStore         { return r.clusters }
func (r *InMemory) RouteConfigs() RouteConfigStore { return r.routeConfigs }
func (r *InMemory) Listeners() ListenerStore       { return r.listeners }
func (r *InMemory) Secrets() SecretStore           { return r.secrets }
func (r *InMemory) Filters() FilterStore           { return r.filters }
func (r *InMemory) Definitions() DefinitionStore {
	return &memDefinitions{table: r.definitions}
}
func (r *InMemory) Imports() ImportStore { return r.imports }

// PutWasmBinary stores a WASM module. Test and bootstrap helper.
func (r *InMemory) PutWasmBinary(id string, binary []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wasmBinaries[id] = binary
}

func (r *InMemory) GetWasmBinary(_ context.Context, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binary, ok := r.wasmBinaries[id]
	if !ok {
		return nil, fmt.Errorf("wasm binary %q not found", id)
	}
	return binary, nil
}

// rowMeta describes how to index one entity kind.
type rowMeta[T any] struct {
	id    func(T) string
	setID func(T, string)
	name  func(T) string
	team  func(T) string
	bump  func(T)
	clone func(T) T
}

var clusterMeta = rowMeta[*model.Cluster]{
	id:    func(c *model.Cluster) string { return c.ID },
	setID: func(c *model.Cluster, id string) { c.ID = id },
	name:  func(c *model.Cluster) string { return c.Name },
	team:  func(c *model.Cluster) string { return c.Team },
	bump:  func(c *model.Cluster) { c.Version++ },
	clone: func(c *model.Cluster) *model.Cluster { out := *c; return &out },
}

var routeConfigMeta = rowMeta[*model.RouteConfig]{
	id:    func(rc *model.RouteConfig) string { return rc.ID },
	setID: func(rc *model.RouteConfig, id string) { rc.ID = id },
	name:  func(rc *model.RouteConfig) string { return rc.Name },
	team:  func(rc *model.RouteConfig) string { return rc.Team },
	bump:  func(rc *model.RouteConfig) { rc.Version++ },
	clone: func(rc *model.RouteConfig) *model.RouteConfig { out := *rc; return &out },
}

var listenerMeta = rowMeta[*model.Listener]{
	id:    func(l *model.Listener) string { return l.ID },
	setID: func(l *model.Listener, id string) { l.ID = id },
	name:  func(l *model.Listener) string { return l.Name },
	team:  func(l *model.Listener) string { return l.Team },
	bump:  func(l *model.Listener) { l.Version++ },
	clone: func(l *model.Listener) *model.Listener { out := *l; return &out },
}

var secretMeta = rowMeta[*model.Secret]{
	id:    func(s *model.Secret) string { return s.ID },
	setID: func(s *model.Secret, id string) { s.ID = id },
	name:  func(s *model.Secret) string { return s.Name },
	team:  func(s *model.Secret) string { return s.Team },
	clone: func(s *model.Secret) *model.Secret { out := *s; return &out },
}

var filterMeta = rowMeta[*model.FilterRow]{
	id:    func(f *model.FilterRow) string { return f.ID },
	setID: func(f *model.FilterRow, id string) { f.ID = id },
	name:  func(f *model.FilterRow) string { return f.Name },
	team:  func(f *model.FilterRow) string { return f.Team },
	bump:  func(f *model.FilterRow) { f.Version++ },
	clone: func(f *model.FilterRow) *model.FilterRow { out := *f; return &out },
}

var definitionMeta = rowMeta[*model.APIDefinition]{
	id:    func(d *model.APIDefinition) string { return d.ID },
	setID: func(d *model.APIDefinition, id string) { d.ID = id },
	// Definitions have no user-facing name; the (team, normalized domain)
	// pair is the unique key, so case variants of one domain collide.
	name:  func(d *model.APIDefinition) string { return d.Team + "/" + d.NormalizedDomain() },
	team:  func(d *model.APIDefinition) string { return d.Team },
	clone: func(d *model.APIDefinition) *model.APIDefinition { out := *d; return &out },
}

var importMeta = rowMeta[*model.OpenAPIImport]{
	id:    func(o *model.OpenAPIImport) string { return o.ID },
	setID: func(o *model.OpenAPIImport, id string) { o.ID = id },
	// Imports are unique per (team, spec name).
	name:  func(o *model.OpenAPIImport) string { return o.Team + "/" + o.SpecName },
	team:  func(o *model.OpenAPIImport) string { return o.Team },
	clone: func(o *model.OpenAPIImport) *model.OpenAPIImport { out := *o; return &out },
}

// memTable is one entity table. It shares the repository mutex so that the
// definition hooks can compose multi-field updates atomically.
type memTable[T any] struct {
	repo *InMemory
	kind string
	meta rowMeta[T]
	rows map[string]T
}

func newMemTable[T any](repo *InMemory, kind string, meta rowMeta[T]) *memTable[T] {
	return &memTable[T]{repo: repo, kind: kind, meta: meta, rows: map[string]T{}}
}

func (t *memTable[T]) GetByID(_ context.Context, id string) (T, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q not found", t.kind, id)
	}
	return t.meta.clone(row), nil
}

func (t *memTable[T]) GetByName(_ context.Context, name string) (T, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.findByName(name)
}

// findByName requires the caller to hold the repository lock.
func (t *memTable[T]) findByName(name string) (T, error) {
	for _, row := range t.rows {
		if t.meta.name(row) == name {
			return t.meta.clone(row), nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s %q not found", t.kind, name)
}

func (t *memTable[T]) List(_ context.Context) ([]T, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.collect(func(T) bool { return true }), nil
}

func (t *memTable[T]) ListByTeams(_ context.Context, teams []string, includeDefaults bool) ([]T, error) {
	// An empty team list yields nothing: a caller without team context must
	// not see all rows by accident.
	if len(teams) == 0 {
		return nil, nil
	}

	allowed := map[string]bool{}
	for _, team := range teams {
		allowed[team] = true
	}

	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.collect(func(row T) bool {
		team := t.meta.team(row)
		if team == "" {
			return includeDefaults
		}
		return allowed[team]
	}), nil
}

// collect requires the caller to hold the repository lock. Output is
// ordered by name for stable listings.
func (t *memTable[T]) collect(keep func(T) bool) []T {
	var out []T
	for _, row := range t.rows {
		if keep(row) {
			out = append(out, t.meta.clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return t.meta.name(out[i]) < t.meta.name(out[j]) })
	return out
}

func (t *memTable[T]) Create(_ context.Context, row T) (T, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	var zero T
	name := t.meta.name(row)
	for _, existing := range t.rows {
		if t.meta.name(existing) == name {
			return zero, fmt.Errorf("%s %q already exists", t.kind, name)
		}
	}

	stored := t.meta.clone(row)
	if t.meta.id(stored) == "" {
		t.meta.setID(stored, uuid.NewString())
	}
	if _, taken := t.rows[t.meta.id(stored)]; taken {
		return zero, fmt.Errorf("%s %q already exists", t.kind, t.meta.id(stored))
	}
	t.rows[t.meta.id(stored)] = stored
	return t.meta.clone(stored), nil
}

func (t *memTable[T]) Update(_ context.Context, row T) (T, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	var zero T
	id := t.meta.id(row)
	if _, ok := t.rows[id]; !ok {
		return zero, fmt.Errorf("%s %q not found", t.kind, id)
	}

	// Renames must not collide with another row.
	name := t.meta.name(row)
	for otherID, existing := range t.rows {
		if otherID != id && t.meta.name(existing) == name {
			return zero, fmt.Errorf("%s %q already exists", t.kind, name)
		}
	}

	stored := t.meta.clone(row)
	if t.meta.bump != nil {
		t.meta.bump(stored)
	}
	t.rows[id] = stored
	return t.meta.clone(stored), nil
}

func (t *memTable[T]) Delete(_ context.Context, id string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	if _, ok := t.rows[id]; !ok {
		return fmt.Errorf("%s %q not found", t.kind, id)
	}
	delete(t.rows, id)
	return nil
}

// memDefinitions layers the Platform API hooks over the generic table.
type memDefinitions struct {
	table *memTable[*model.APIDefinition]
}

func (d *memDefinitions) GetByID(ctx context.Context, id string) (*model.APIDefinition, error) {
	return d.table.GetByID(ctx, id)
}

func (d *memDefinitions) GetByName(ctx context.Context, name string) (*model.APIDefinition, error) {
	return d.table.GetByName(ctx, name)
}

func (d *memDefinitions) List(ctx context.Context) ([]*model.APIDefinition, error) {
	return d.table.List(ctx)
}

func (d *memDefinitions) ListByTeams(ctx context.Context, teams []string, includeDefaults bool) ([]*model.APIDefinition, error) {
	return d.table.ListByTeams(ctx, teams, includeDefaults)
}

func (d *memDefinitions) Create(ctx context.Context, row *model.APIDefinition) (*model.APIDefinition, error) {
	return d.table.Create(ctx, row)
}

func (d *memDefinitions) Update(ctx context.Context, row *model.APIDefinition) (*model.APIDefinition, error) {
	return d.table.Update(ctx, row)
}

func (d *memDefinitions) Delete(ctx context.Context, id string) error {
	return d.table.Delete(ctx, id)
}

func (d *memDefinitions) GetByDomain(_ context.Context, team, domain string) (*model.APIDefinition, error) {
	d.table.repo.mu.RLock()
	defer d.table.repo.mu.RUnlock()
	return d.table.findByName(team + "/" + domain)
}

func (d *memDefinitions) UpdateGeneratedListenerID(_ context.Context, id, listenerID string) error {
	return d.mutate(id, func(def *model.APIDefinition) {
		def.GeneratedListenerID = listenerID
	})
}

func (d *memDefinitions) UpdateGeneratedResourceIDs(_ context.Context, id string, routeIDs, clusterIDs []string) error {
	return d.mutate(id, func(def *model.APIDefinition) {
		def.GeneratedRouteIDs = append([]string(nil), routeIDs...)
		def.GeneratedClusterIDs = append([]string(nil), clusterIDs...)
	})
}

func (d *memDefinitions) UpdateBootstrapMetadata(_ context.Context, id, uri string, revision int64) error {
	return d.mutate(id, func(def *model.APIDefinition) {
		def.BootstrapURI = uri
		def.BootstrapRevision = revision
	})
}

func (d *memDefinitions) mutate(id string, apply func(*model.APIDefinition)) error {
	d.table.repo.mu.Lock()
	defer d.table.repo.mu.Unlock()

	row, ok := d.table.rows[id]
	if !ok {
		return fmt.Errorf("api definition %q not found", id)
	}
	apply(row)
	return nil
}
