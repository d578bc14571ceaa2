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

// Package ops is the operations facade: the uniform authorized CRUD
// surface over the repository. Every write triggers a cache refresh; every
// error crossing this boundary is a typed apierror.
package ops

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/authz"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/repository"
)

// Authorization resource names used in scopes.
const (
	ResourceClusters    = "clusters"
	ResourceRoutes      = "routes"
	ResourceListeners   = "listeners"
	ResourceSecrets     = "secrets"
	ResourceFilters     = "filters"
	ResourceDefinitions = "api-definitions"
)

// Refresher triggers a cache rebuild after writes. The refresh
// orchestrator satisfies this.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// FilterValidator validates a filter row's configuration against its
// registered type. The filter registry satisfies this.
type FilterValidator interface {
	ValidateConfig(filterType string, cfg json.RawMessage) error
}

// Facade bundles the per-kind operation sets.
type Facade struct {
	log             logrus.FieldLogger
	repo            repository.Repository
	refresher       Refresher
	validator       FilterValidator
	defaultListener string
}

// NewFacade builds the facade. defaultListener names the deletion-protected
// gateway listener; empty disables the protection.
func NewFacade(log logrus.FieldLogger, repo repository.Repository, refresher Refresher, validator FilterValidator, defaultListener string) *Facade {
	return &Facade{
		log:             log,
		repo:            repo,
		refresher:       refresher,
		validator:       validator,
		defaultListener: defaultListener,
	}
}

// visibleTeams returns the teams the context may see, or nil for an admin
// who sees everything.
func visibleTeams(actx *authz.AuthContext) []string {
	if actx.IsAdmin() {
		return nil
	}

	seen := map[string]bool{}
	var teams []string
	for _, team := range append(authz.ExtractTeamScopes(actx), actx.AllowedTeams...) {
		if team != "" && !seen[team] {
			seen[team] = true
			teams = append(teams, team)
		}
	}
	return teams
}

func teamVisible(actx *authz.AuthContext, team string) bool {
	if actx.IsAdmin() || team == "" {
		return true
	}
	for _, t := range visibleTeams(actx) {
		if t == team {
			return true
		}
	}
	return false
}

// resourceOps implements the uniform CRUD shape for one entity kind.
type resourceOps[T any] struct {
	f        *Facade
	resource string
	entity   string
	store    repository.Store[T]
	name     func(T) string
	team     func(T) string
	validate func(T) error
	// guardDelete may refuse deletion of protected rows.
	guardDelete func(T) error
	// setID copies the stored row's id onto an update payload.
	setID func(T, string)
	id    func(T) string
}

func (r resourceOps[T]) create(ctx context.Context, actx *authz.AuthContext, row T) (T, error) {
	var zero T
	if !authz.CheckResourceAccess(actx, r.resource, authz.ActionWrite, r.team(row)) {
		return zero, apierror.Forbiddenf("missing %s write access", r.resource)
	}
	if err := r.validate(row); err != nil {
		return zero, err
	}

	created, err := r.store.Create(ctx, row)
	if err != nil {
		return zero, apierror.FromRepository(err, r.entity, r.name(row))
	}
	return created, r.f.refresher.Refresh(ctx)
}

func (r resourceOps[T]) get(ctx context.Context, actx *authz.AuthContext, name string) (T, error) {
	var zero T
	if !authz.CheckResourceAccess(actx, r.resource, authz.ActionRead, "") {
		return zero, apierror.Forbiddenf("missing %s read access", r.resource)
	}

	row, err := r.store.GetByName(ctx, name)
	if err != nil {
		return zero, apierror.FromRepository(err, r.entity, name)
	}
	// Cross-tenant reads 404 rather than 403: no existence disclosure.
	if !teamVisible(actx, r.team(row)) {
		return zero, apierror.NotFound(r.entity, name)
	}
	return row, nil
}

func (r resourceOps[T]) list(ctx context.Context, actx *authz.AuthContext) ([]T, error) {
	if !authz.CheckResourceAccess(actx, r.resource, authz.ActionRead, "") {
		return nil, apierror.Forbiddenf("missing %s read access", r.resource)
	}

	teams := visibleTeams(actx)
	if actx.IsAdmin() {
		rows, err := r.store.List(ctx)
		return rows, apierror.FromRepository(err, r.entity, "")
	}
	rows, err := r.store.ListByTeams(ctx, teams, true)
	return rows, apierror.FromRepository(err, r.entity, "")
}

func (r resourceOps[T]) update(ctx context.Context, actx *authz.AuthContext, row T) (T, error) {
	var zero T
	existing, err := r.get(ctx, actx, r.name(row))
	if err != nil {
		return zero, err
	}
	if !authz.CheckResourceAccess(actx, r.resource, authz.ActionWrite, r.team(existing)) {
		return zero, apierror.Forbiddenf("missing %s write access", r.resource)
	}
	if err := r.validate(row); err != nil {
		return zero, err
	}

	r.setID(row, r.id(existing))
	updated, err := r.store.Update(ctx, row)
	if err != nil {
		return zero, apierror.FromRepository(err, r.entity, r.name(row))
	}
	return updated, r.f.refresher.Refresh(ctx)
}

func (r resourceOps[T]) delete(ctx context.Context, actx *authz.AuthContext, name string) error {
	existing, err := r.get(ctx, actx, name)
	if err != nil {
		return err
	}
	if !authz.CheckResourceAccess(actx, r.resource, authz.ActionWrite, r.team(existing)) {
		return apierror.Forbiddenf("missing %s write access", r.resource)
	}
	if r.guardDelete != nil {
		if err := r.guardDelete(existing); err != nil {
			return err
		}
	}

	if err := r.store.Delete(ctx, r.id(existing)); err != nil {
		return apierror.FromRepository(err, r.entity, name)
	}
	return r.f.refresher.Refresh(ctx)
}

func (f *Facade) clusters() resourceOps[*model.Cluster] {
	return resourceOps[*model.Cluster]{
		f:        f,
		resource: ResourceClusters,
		entity:   "cluster",
		store:    f.repo.Clusters(),
		name:     func(c *model.Cluster) string { return c.Name },
		team:     func(c *model.Cluster) string { return c.Team },
		validate: func(c *model.Cluster) error { return c.Validate() },
		setID:    func(c *model.Cluster, id string) { c.ID = id },
		id:       func(c *model.Cluster) string { return c.ID },
	}
}

func (f *Facade) routeConfigs() resourceOps[*model.RouteConfig] {
	return resourceOps[*model.RouteConfig]{
		f:        f,
		resource: ResourceRoutes,
		entity:   "route config",
		store:    f.repo.RouteConfigs(),
		name:     func(rc *model.RouteConfig) string { return rc.Name },
		team:     func(rc *model.RouteConfig) string { return rc.Team },
		validate: func(rc *model.RouteConfig) error { return rc.Validate() },
		setID:    func(rc *model.RouteConfig, id string) { rc.ID = id },
		id:       func(rc *model.RouteConfig) string { return rc.ID },
	}
}

func (f *Facade) listeners() resourceOps[*model.Listener] {
	return resourceOps[*model.Listener]{
		f:        f,
		resource: ResourceListeners,
		entity:   "listener",
		store:    f.repo.Listeners(),
		name:     func(l *model.Listener) string { return l.Name },
		team:     func(l *model.Listener) string { return l.Team },
		validate: func(l *model.Listener) error { return l.Validate() },
		guardDelete: func(l *model.Listener) error {
			if f.defaultListener != "" && l.Name == f.defaultListener {
				return apierror.Forbiddenf("listener %q is the default gateway listener and cannot be deleted", l.Name)
			}
			return nil
		},
		setID: func(l *model.Listener, id string) { l.ID = id },
		id:    func(l *model.Listener) string { return l.ID },
	}
}

func (f *Facade) secrets() resourceOps[*model.Secret] {
	return resourceOps[*model.Secret]{
		f:        f,
		resource: ResourceSecrets,
		entity:   "secret",
		store:    f.repo.Secrets(),
		name:     func(s *model.Secret) string { return s.Name },
		team:     func(s *model.Secret) string { return s.Team },
		validate: func(s *model.Secret) error { return s.Validate() },
		setID:    func(s *model.Secret, id string) { s.ID = id },
		id:       func(s *model.Secret) string { return s.ID },
	}
}

func (f *Facade) filters() resourceOps[*model.FilterRow] {
	return resourceOps[*model.FilterRow]{
		f:        f,
		resource: ResourceFilters,
		entity:   "filter",
		store:    f.repo.Filters(),
		name:     func(r *model.FilterRow) string { return r.Name },
		team:     func(r *model.FilterRow) string { return r.Team },
		validate: f.validateFilter,
		setID:    func(r *model.FilterRow, id string) { r.ID = id },
		id:       func(r *model.FilterRow) string { return r.ID },
	}
}

// validateFilter checks structure plus, for registered types, the typed
// configuration. Custom WASM pseudo-types are validated structurally only;
// their binary reference resolves at materialization.
func (f *Facade) validateFilter(row *model.FilterRow) error {
	if err := row.Validate(); err != nil {
		return err
	}
	if _, custom := row.IsCustomWasm(); custom {
		return nil
	}
	return f.validator.ValidateConfig(row.FilterType, row.Config)
}

// Cluster operations.

func (f *Facade) CreateCluster(ctx context.Context, actx *authz.AuthContext, c *model.Cluster) (*model.Cluster, error) {
	return f.clusters().create(ctx, actx, c)
}

func (f *Facade) GetCluster(ctx context.Context, actx *authz.AuthContext, name string) (*model.Cluster, error) {
	return f.clusters().get(ctx, actx, name)
}

func (f *Facade) ListClusters(ctx context.Context, actx *authz.AuthContext) ([]*model.Cluster, error) {
	return f.clusters().list(ctx, actx)
}

func (f *Facade) UpdateCluster(ctx context.Context, actx *authz.AuthContext, c *model.Cluster) (*model.Cluster, error) {
	return f.clusters().update(ctx, actx, c)
}

func (f *Facade) DeleteCluster(ctx context.Context, actx *authz.AuthContext, name string) error {
	return f.clusters().delete(ctx, actx, name)
}

// Route config operations.

func (f *Facade) CreateRouteConfig(ctx context.Context, actx *authz.AuthContext, rc *model.RouteConfig) (*model.RouteConfig, error) {
	return f.routeConfigs().create(ctx, actx, rc)
}

func (f *Facade) GetRouteConfig(ctx context.Context, actx *authz.AuthContext, name string) (*model.RouteConfig, error) {
	return f.routeConfigs().get(ctx, actx, name)
}

func (f *Facade) ListRouteConfigs(ctx context.Context, actx *authz.AuthContext) ([]*model.RouteConfig, error) {
	return f.routeConfigs().list(ctx, actx)
}

func (f *Facade) UpdateRouteConfig(ctx context.Context, actx *authz.AuthContext, rc *model.RouteConfig) (*model.RouteConfig, error) {
	return f.routeConfigs().update(ctx, actx, rc)
}

func (f *Facade) DeleteRouteConfig(ctx context.Context, actx *authz.AuthContext, name string) error {
	return f.routeConfigs().delete(ctx, actx, name)
}

// Listener operations.

func (f *Facade) CreateListener(ctx context.Context, actx *authz.AuthContext, l *model.Listener) (*model.Listener, error) {
	return f.listeners().create(ctx, actx, l)
}

func (f *Facade) GetListener(ctx context.Context, actx *authz.AuthContext, name string) (*model.Listener, error) {
	return f.listeners().get(ctx, actx, name)
}

func (f *Facade) ListListeners(ctx context.Context, actx *authz.AuthContext) ([]*model.Listener, error) {
	return f.listeners().list(ctx, actx)
}

func (f *Facade) UpdateListener(ctx context.Context, actx *authz.AuthContext, l *model.Listener) (*model.Listener, error) {
	return f.listeners().update(ctx, actx, l)
}

func (f *Facade) DeleteListener(ctx context.Context, actx *authz.AuthContext, name string) error {
	return f.listeners().delete(ctx, actx, name)
}

// Secret operations.

func (f *Facade) CreateSecret(ctx context.Context, actx *authz.AuthContext, s *model.Secret) (*model.Secret, error) {
	return f.secrets().create(ctx, actx, s)
}

func (f *Facade) GetSecret(ctx context.Context, actx *authz.AuthContext, name string) (*model.Secret, error) {
	return f.secrets().get(ctx, actx, name)
}

func (f *Facade) ListSecrets(ctx context.Context, actx *authz.AuthContext) ([]*model.Secret, error) {
	return f.secrets().list(ctx, actx)
}

func (f *Facade) UpdateSecret(ctx context.Context, actx *authz.AuthContext, s *model.Secret) (*model.Secret, error) {
	return f.secrets().update(ctx, actx, s)
}

func (f *Facade) DeleteSecret(ctx context.Context, actx *authz.AuthContext, name string) error {
	return f.secrets().delete(ctx, actx, name)
}

// Filter operations.

func (f *Facade) CreateFilter(ctx context.Context, actx *authz.AuthContext, row *model.FilterRow) (*model.FilterRow, error) {
	return f.filters().create(ctx, actx, row)
}

func (f *Facade) GetFilter(ctx context.Context, actx *authz.AuthContext, name string) (*model.FilterRow, error) {
	return f.filters().get(ctx, actx, name)
}

func (f *Facade) ListFilters(ctx context.Context, actx *authz.AuthContext) ([]*model.FilterRow, error) {
	return f.filters().list(ctx, actx)
}

func (f *Facade) UpdateFilter(ctx context.Context, actx *authz.AuthContext, row *model.FilterRow) (*model.FilterRow, error) {
	return f.filters().update(ctx, actx, row)
}

func (f *Facade) DeleteFilter(ctx context.Context, actx *authz.AuthContext, name string) error {
	return f.filters().delete(ctx, actx, name)
}

// API definition reads. Writes go through the Platform API materializer,
// which owns the synthesis and cleanup of generated resources.

func (f *Facade) ListDefinitions(ctx context.Context, actx *authz.AuthContext) ([]*model.APIDefinition, error) {
	if !authz.CheckResourceAccess(actx, ResourceDefinitions, authz.ActionRead, "") {
		return nil, apierror.Forbiddenf("missing %s read access", ResourceDefinitions)
	}
	if actx.IsAdmin() {
		rows, err := f.repo.Definitions().List(ctx)
		return rows, apierror.FromRepository(err, "api definition", "")
	}
	rows, err := f.repo.Definitions().ListByTeams(ctx, visibleTeams(actx), true)
	return rows, apierror.FromRepository(err, "api definition", "")
}

func (f *Facade) GetDefinition(ctx context.Context, actx *authz.AuthContext, id string) (*model.APIDefinition, error) {
	if !authz.CheckResourceAccess(actx, ResourceDefinitions, authz.ActionRead, "") {
		return nil, apierror.Forbiddenf("missing %s read access", ResourceDefinitions)
	}
	def, err := f.repo.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, apierror.FromRepository(err, "api definition", id)
	}
	if !teamVisible(actx, def.Team) {
		return nil, apierror.NotFound("api definition", id)
	}
	return def, nil
}
