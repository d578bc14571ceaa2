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

// Package platform materializes API definitions into native resource rows:
// one cluster per unique upstream endpoint, optionally a dedicated
// listener, and bookkeeping so updates and deletes can find what they
// generated. Route configs are not persisted; the refresh overlay step
// emits them directly from the definition.
package platform

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/sirupsen/logrus"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/authz"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/repository"
)

// ResourceDefinitions is the authorization resource name for API
// definitions.
const ResourceDefinitions = "api-definitions"

// Isolated listeners bind ports hashed from the domain into this range.
// Collisions are not resolved; they surface as a Conflict from the
// listener pre-check.
const (
	isolationPortBase = 20000
	isolationPortSpan = 10000
)

// Refresher triggers a cache rebuild after writes.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Materializer turns API definitions into persisted native resources.
type Materializer struct {
	log       logrus.FieldLogger
	repo      repository.Repository
	refresher Refresher
}

func NewMaterializer(log logrus.FieldLogger, repo repository.Repository, refresher Refresher) *Materializer {
	return &Materializer{log: log, repo: repo, refresher: refresher}
}

// Create materializes a new API definition. On success the returned row
// carries the generated listener and cluster ids and the bumped bootstrap
// metadata.
func (m *Materializer) Create(ctx context.Context, actx *authz.AuthContext, def *model.APIDefinition) (*model.APIDefinition, error) {
	return m.create(ctx, actx, def, model.SourcePlatformAPI)
}

func (m *Materializer) create(ctx context.Context, actx *authz.AuthContext, def *model.APIDefinition, source model.Source) (*model.APIDefinition, error) {
	if !authz.CheckResourceAccess(actx, ResourceDefinitions, authz.ActionWrite, def.Team) {
		return nil, apierror.Forbiddenf("missing %s write access", ResourceDefinitions)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if existing, err := m.repo.Definitions().GetByDomain(ctx, def.Team, def.NormalizedDomain()); err == nil {
		return nil, apierror.Conflictf("domain %q is already claimed by api definition %s", existing.Domain, existing.ID)
	}

	// Listener collisions are detected before anything is persisted, so a
	// refused create leaves no partial state behind.
	var isolation *listenerTarget
	if def.ListenerIsolation {
		target, err := m.checkIsolationListener(ctx, def)
		if err != nil {
			return nil, err
		}
		isolation = target
	}

	created, err := m.repo.Definitions().Create(ctx, def)
	if err != nil {
		return nil, apierror.FromRepository(err, "api definition", def.Domain)
	}

	clusterIDs, err := m.syncClusters(ctx, created, source)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Definitions().UpdateGeneratedResourceIDs(ctx, created.ID, nil, clusterIDs); err != nil {
		return nil, apierror.FromRepository(err, "api definition", created.ID)
	}

	if isolation != nil {
		listenerID, err := m.ensureIsolationListener(ctx, created, isolation, source)
		if err != nil {
			return nil, err
		}
		if err := m.repo.Definitions().UpdateGeneratedListenerID(ctx, created.ID, listenerID); err != nil {
			return nil, apierror.FromRepository(err, "api definition", created.ID)
		}
	}

	if err := m.bumpBootstrap(ctx, created.ID, created.Team, created.BootstrapRevision); err != nil {
		return nil, err
	}
	if err := m.refresher.Refresh(ctx); err != nil {
		return nil, err
	}

	out, err := m.repo.Definitions().GetByID(ctx, created.ID)
	return out, apierror.FromRepository(err, "api definition", created.ID)
}

// Update rematerializes an existing definition: new endpoints gain
// clusters, clusters no longer referenced are removed best-effort.
func (m *Materializer) Update(ctx context.Context, actx *authz.AuthContext, def *model.APIDefinition) (*model.APIDefinition, error) {
	existing, err := m.repo.Definitions().GetByID(ctx, def.ID)
	if err != nil {
		return nil, apierror.FromRepository(err, "api definition", def.ID)
	}
	if !authz.CheckResourceAccess(actx, ResourceDefinitions, authz.ActionWrite, existing.Team) {
		return nil, apierror.Forbiddenf("missing %s write access", ResourceDefinitions)
	}
	if def.Team != existing.Team {
		return nil, apierror.Validationf("api definition team is immutable")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if def.NormalizedDomain() != existing.NormalizedDomain() {
		if claimed, err := m.repo.Definitions().GetByDomain(ctx, def.Team, def.NormalizedDomain()); err == nil {
			return nil, apierror.Conflictf("domain %q is already claimed by api definition %s", claimed.Domain, claimed.ID)
		}
	}

	// Generated bookkeeping survives the row update.
	def.GeneratedListenerID = existing.GeneratedListenerID
	def.BootstrapRevision = existing.BootstrapRevision
	updated, err := m.repo.Definitions().Update(ctx, def)
	if err != nil {
		return nil, apierror.FromRepository(err, "api definition", def.ID)
	}

	clusterIDs, err := m.syncClusters(ctx, updated, model.SourcePlatformAPI)
	if err != nil {
		return nil, err
	}
	m.cleanupClusters(ctx, existing.GeneratedClusterIDs, clusterIDs)
	if err := m.repo.Definitions().UpdateGeneratedResourceIDs(ctx, updated.ID, nil, clusterIDs); err != nil {
		return nil, apierror.FromRepository(err, "api definition", updated.ID)
	}

	if err := m.bumpBootstrap(ctx, updated.ID, updated.Team, updated.BootstrapRevision); err != nil {
		return nil, err
	}
	if err := m.refresher.Refresh(ctx); err != nil {
		return nil, err
	}

	out, err := m.repo.Definitions().GetByID(ctx, updated.ID)
	return out, apierror.FromRepository(err, "api definition", updated.ID)
}

// Delete removes the definition and its generated resources. Cleanup of
// generated rows is best-effort: a failed cluster or listener delete is
// logged and skipped so a partial failure cannot wedge the definition.
func (m *Materializer) Delete(ctx context.Context, actx *authz.AuthContext, id string) error {
	existing, err := m.repo.Definitions().GetByID(ctx, id)
	if err != nil {
		return apierror.FromRepository(err, "api definition", id)
	}
	if !authz.CheckResourceAccess(actx, ResourceDefinitions, authz.ActionWrite, existing.Team) {
		return apierror.Forbiddenf("missing %s write access", ResourceDefinitions)
	}

	if existing.GeneratedListenerID != "" {
		if err := m.repo.Listeners().Delete(ctx, existing.GeneratedListenerID); err != nil {
			m.log.WithError(err).WithField("listener", existing.GeneratedListenerID).
				Warn("orphaned generated listener left behind")
		}
	}
	m.cleanupClusters(ctx, existing.GeneratedClusterIDs, nil)

	if err := m.repo.Definitions().Delete(ctx, id); err != nil {
		return apierror.FromRepository(err, "api definition", id)
	}
	return m.refresher.Refresh(ctx)
}

// listenerTarget is the resolved bind point for an isolated definition.
type listenerTarget struct {
	name    string
	address string
	port    uint32
	// existingID is set when a named listener already exists with a
	// matching bind point and should be reused.
	existingID string
}

func (m *Materializer) checkIsolationListener(ctx context.Context, def *model.APIDefinition) (*listenerTarget, error) {
	target := &listenerTarget{
		name:    "platform-" + model.ShortID(def.ID),
		address: "0.0.0.0",
		port:    IsolationPort(def.NormalizedDomain()),
	}
	if iso := def.IsolationListener; iso != nil {
		if iso.Name != "" {
			target.name = iso.Name
		}
		if iso.Address != "" {
			target.address = iso.Address
		}
		if iso.Port != 0 {
			target.port = iso.Port
		}
	}

	if def.IsolationListener != nil && def.IsolationListener.Name != "" {
		existing, err := m.repo.Listeners().GetByName(ctx, target.name)
		if err == nil {
			if existing.Address != target.address || existing.Port != target.port {
				return nil, apierror.Conflictf("listener %q is bound to %s:%d, not %s:%d",
					target.name, existing.Address, existing.Port, target.address, target.port)
			}
			target.existingID = existing.ID
			return target, nil
		}
	}

	listeners, err := m.repo.Listeners().List(ctx)
	if err != nil {
		return nil, apierror.FromRepository(err, "listener", "")
	}
	for _, l := range listeners {
		if l.Address == target.address && l.Port == target.port {
			return nil, apierror.Conflictf("address %s:%d is already bound by listener %q", target.address, target.port, l.Name)
		}
	}
	return target, nil
}

func (m *Materializer) ensureIsolationListener(ctx context.Context, def *model.APIDefinition, target *listenerTarget, source model.Source) (string, error) {
	if target.existingID != "" {
		return target.existingID, nil
	}

	// The name was chosen before the definition row existed; regenerate it
	// from the persisted id when defaulted.
	name := target.name
	if def.IsolationListener == nil || def.IsolationListener.Name == "" {
		name = "platform-" + model.ShortID(def.ID)
	}

	listener := &model.Listener{
		Name:    name,
		Address: target.address,
		Port:    target.port,
		Team:    def.Team,
		Source:  source,
		Config: model.ListenerConfig{
			FilterChains: []model.FilterChain{{
				Filters: []model.NetworkFilter{{
					Name: "http",
					HTTPConnectionManager: &model.HTTPConnectionManagerConfig{
						RouteConfigName: model.PlatformRouteConfigName(def.ID),
					},
				}},
				TLSContext: def.TLSConfig,
			}},
		},
	}
	created, err := m.repo.Listeners().Create(ctx, listener)
	if err != nil {
		return "", apierror.FromRepository(err, "listener", name)
	}
	return created.ID, nil
}

// syncClusters creates one cluster per unique upstream endpoint, reusing
// rows that already exist under the generated name. Returns the full id
// set in endpoint first-seen order.
func (m *Materializer) syncClusters(ctx context.Context, def *model.APIDefinition, source model.Source) ([]string, error) {
	var ids []string
	seen := map[string]bool{}
	for _, route := range def.Routes {
		for _, target := range route.Upstreams.Targets {
			if seen[target.Endpoint] {
				continue
			}
			seen[target.Endpoint] = true

			endpoint, err := model.ParseEndpoint(target.Endpoint)
			if err != nil {
				return nil, err
			}
			name := model.PlatformClusterName(def.ID, target.Endpoint)
			if existing, err := m.repo.Clusters().GetByName(ctx, name); err == nil {
				ids = append(ids, existing.ID)
				continue
			}

			created, err := m.repo.Clusters().Create(ctx, &model.Cluster{
				Name:        name,
				ServiceName: target.Endpoint,
				Team:        def.Team,
				Source:      source,
				Config:      model.ClusterConfig{Endpoints: []model.Endpoint{endpoint}},
			})
			if err != nil {
				return nil, apierror.FromRepository(err, "cluster", name)
			}
			ids = append(ids, created.ID)
		}
	}
	return ids, nil
}

// cleanupClusters deletes previously generated clusters that are no longer
// wanted. Errors are logged and skipped.
func (m *Materializer) cleanupClusters(ctx context.Context, previous, wanted []string) {
	keep := map[string]bool{}
	for _, id := range wanted {
		keep[id] = true
	}
	for _, id := range previous {
		if keep[id] {
			continue
		}
		if err := m.repo.Clusters().Delete(ctx, id); err != nil {
			m.log.WithError(err).WithField("cluster", id).Warn("orphaned generated cluster left behind")
		}
	}
}

func (m *Materializer) bumpBootstrap(ctx context.Context, id, team string, revision int64) error {
	uri := fmt.Sprintf("/api/v1/teams/%s/api-definitions/%s/bootstrap", team, model.ShortID(id))
	if err := m.repo.Definitions().UpdateBootstrapMetadata(ctx, id, uri, revision+1); err != nil {
		return apierror.FromRepository(err, "api definition", id)
	}
	return nil
}

// IsolationPort hashes a domain into the isolated listener port range.
func IsolationPort(domain string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(domain))
	return isolationPortBase + h.Sum32()%isolationPortSpan
}
