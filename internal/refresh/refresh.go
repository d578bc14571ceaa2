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

// Package refresh rebuilds the xDS resource cache from the repository in
// dependency order: clusters, route configs, Platform API overlays,
// listeners, secrets. Listeners reference clusters and route configs by
// name, so emitting out of order produces transient NACKs from Envoy.
package refresh

import (
	"context"
	"sync/atomic"
	"time"

	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	envoy_v3 "github.com/flowplane/flowplane/internal/envoy/v3"
	"github.com/flowplane/flowplane/internal/filters"
	"github.com/flowplane/flowplane/internal/metrics"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
	"github.com/flowplane/flowplane/internal/repository"
	"github.com/flowplane/flowplane/internal/xdscache"
)

// Orchestrator serialises cache rebuilds. Concurrent callers coalesce into
// at most one running refresh plus one pending; a caller that arrives while
// another is already pending returns immediately, covered by that run.
type Orchestrator struct {
	log      logrus.FieldLogger
	repo     repository.Repository
	cache    *xdscache.Cache
	gen      *envoy_v3.EnvoyGen
	registry *filters.Registry
	metrics  *metrics.Metrics

	running chan struct{} // capacity 1: the active run slot
	pending atomic.Bool
}

func NewOrchestrator(log logrus.FieldLogger, repo repository.Repository, cache *xdscache.Cache, gen *envoy_v3.EnvoyGen, registry *filters.Registry, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		log:      log,
		repo:     repo,
		cache:    cache,
		gen:      gen,
		registry: registry,
		metrics:  m,
		running:  make(chan struct{}, 1),
	}
}

// Refresh rebuilds the whole cache. The context deadline bounds both the
// wait for the run slot and the run itself; exceeding it surfaces
// ServiceUnavailable, and the repository write that triggered the refresh
// is not rolled back: the next refresh converges.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if !o.pending.CompareAndSwap(false, true) {
		// A queued run already exists and will observe our write.
		return nil
	}

	select {
	case o.running <- struct{}{}:
	case <-ctx.Done():
		o.pending.Store(false)
		return apierror.Unavailablef("refresh did not start before deadline: %s", ctx.Err())
	}
	o.pending.Store(false)
	defer func() { <-o.running }()

	start := time.Now()
	err := o.run(ctx)
	o.metrics.ObserveRefresh(time.Since(start), err)
	if err != nil {
		o.log.WithError(err).Error("refresh failed")
		return err
	}

	o.metrics.SetCacheVersion(o.cache.Version())
	o.log.WithField("version", o.cache.VersionInfo()).Debug("refresh complete")
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	// Phase 1: clusters.
	if err := deadline(ctx, "clusters"); err != nil {
		return err
	}
	clusterResources, clusterNames, err := o.compileClusters(ctx)
	if err != nil {
		return err
	}
	o.cache.Apply(resource_v3.ClusterType, clusterResources)

	// Phase 2: route configs.
	if err := deadline(ctx, "route configs"); err != nil {
		return err
	}
	routeResources, routeConfigIDs, err := o.compileRouteConfigs(ctx)
	if err != nil {
		return err
	}

	// Phase 3: Platform API overlays join the route snapshot; they never
	// replace native route configs.
	if err := deadline(ctx, "platform overlays"); err != nil {
		return err
	}
	if err := o.compileOverlays(ctx, routeResources); err != nil {
		return err
	}
	o.cache.Apply(resource_v3.RouteType, routeResources)

	// Phase 4: listeners, including filter materialization. JWKS clusters
	// synthesised here re-enter the cluster snapshot before the listeners
	// are visible.
	if err := deadline(ctx, "listeners"); err != nil {
		return err
	}
	listenerResources, jwksClusters, err := o.compileListeners(ctx, clusterNames, routeConfigIDs)
	if err != nil {
		return err
	}
	if len(jwksClusters) > 0 {
		for _, c := range jwksClusters {
			clusterResources[c.Name] = protobuf.MustMarshalAny(o.gen.Cluster(c))
		}
		o.cache.Apply(resource_v3.ClusterType, clusterResources)
	}
	o.cache.Apply(resource_v3.ListenerType, listenerResources)

	// Phase 5: secrets.
	if err := deadline(ctx, "secrets"); err != nil {
		return err
	}
	secretResources, err := o.compileSecrets(ctx)
	if err != nil {
		return err
	}
	o.cache.Apply(resource_v3.SecretType, secretResources)
	return nil
}

func deadline(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return apierror.Unavailablef("refresh deadline exceeded before %s phase: %s", phase, err)
	}
	return nil
}

func (o *Orchestrator) compileClusters(ctx context.Context) (map[string]*anypb.Any, map[string]bool, error) {
	clusters, err := o.repo.Clusters().List(ctx)
	if err != nil {
		return nil, nil, apierror.FromRepository(err, "cluster", "")
	}

	resources := make(map[string]*anypb.Any, len(clusters))
	names := make(map[string]bool, len(clusters))
	for _, c := range clusters {
		resources[c.Name] = protobuf.MustMarshalAny(o.gen.Cluster(c))
		names[c.Name] = true
	}
	return resources, names, nil
}

func (o *Orchestrator) compileRouteConfigs(ctx context.Context) (map[string]*anypb.Any, map[string]string, error) {
	routeConfigs, err := o.repo.RouteConfigs().List(ctx)
	if err != nil {
		return nil, nil, apierror.FromRepository(err, "route config", "")
	}

	resources := make(map[string]*anypb.Any, len(routeConfigs))
	ids := make(map[string]string, len(routeConfigs))
	for _, rc := range routeConfigs {
		compiled, err := o.gen.RouteConfiguration(rc, o.registry.PerFilterConfig)
		if err != nil {
			return nil, nil, err
		}
		resources[rc.Name] = protobuf.MustMarshalAny(compiled)
		ids[rc.Name] = rc.ID
	}
	return resources, ids, nil
}

// compileOverlays adds one synthetic route config per API definition to
// the route snapshot.
func (o *Orchestrator) compileOverlays(ctx context.Context, resources map[string]*anypb.Any) error {
	definitions, err := o.repo.Definitions().List(ctx)
	if err != nil {
		return apierror.FromRepository(err, "api definition", "")
	}

	for _, def := range definitions {
		name := model.PlatformRouteConfigName(def.ID)
		compiled, err := o.gen.RouteConfigurationFromSpec(name, OverlaySpec(def), o.registry.PerFilterConfig)
		if err != nil {
			return err
		}
		resources[name] = protobuf.MustMarshalAny(compiled)
	}
	return nil
}

func (o *Orchestrator) compileListeners(ctx context.Context, clusterNames map[string]bool, routeConfigIDs map[string]string) (map[string]*anypb.Any, []*model.Cluster, error) {
	listeners, err := o.repo.Listeners().List(ctx)
	if err != nil {
		return nil, nil, apierror.FromRepository(err, "listener", "")
	}
	rows, err := o.repo.Filters().List(ctx)
	if err != nil {
		return nil, nil, apierror.FromRepository(err, "filter", "")
	}

	// JWKS clusters synthesised for an earlier listener are visible to
	// later ones, so one shared cluster covers providers repeated across
	// listeners.
	var jwksClusters []*model.Cluster
	synthesised := map[string]bool{}

	resources := make(map[string]*anypb.Any, len(listeners))
	for _, l := range listeners {
		materialized, err := o.registry.Materialize(filters.MaterializeInput{
			Listener: l,
			Rows:     rows,
			RouteConfigID: func(name string) (string, bool) {
				id, ok := routeConfigIDs[name]
				return id, ok
			},
			WasmBinary: func(id string) ([]byte, error) {
				return o.repo.GetWasmBinary(ctx, id)
			},
			ClusterExists: func(name string) bool {
				return clusterNames[name] || synthesised[name]
			},
		})
		if err != nil {
			return nil, nil, err
		}
		for _, c := range materialized.JWKSClusters {
			synthesised[c.Name] = true
			jwksClusters = append(jwksClusters, c)
		}

		compiled, err := o.gen.Listener(l, materialized.Source, o.registry.PerFilterConfig)
		if err != nil {
			return nil, nil, err
		}
		resources[l.Name] = protobuf.MustMarshalAny(compiled)
	}
	return resources, jwksClusters, nil
}

func (o *Orchestrator) compileSecrets(ctx context.Context) (map[string]*anypb.Any, error) {
	secrets, err := o.repo.Secrets().List(ctx)
	if err != nil {
		return nil, apierror.FromRepository(err, "secret", "")
	}

	resources := make(map[string]*anypb.Any, len(secrets))
	for _, s := range secrets {
		compiled, err := envoy_v3.Secret(s)
		if err != nil {
			return nil, err
		}
		resources[s.Name] = protobuf.MustMarshalAny(compiled)
	}
	return resources, nil
}
