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

package refresh

import (
	"sort"

	"github.com/flowplane/flowplane/internal/model"
)

// OverlaySpec builds the synthetic route config body for one API
// definition: a single virtual host on the definition's domain with one
// route per definition route. Cluster names follow the platform naming
// convention, so the overlay lines up with the clusters persisted by the
// Platform API materializer.
func OverlaySpec(def *model.APIDefinition) *model.RouteConfigSpec {
	routes := append([]model.APIRoute(nil), def.Routes...)
	sort.SliceStable(routes, func(i, j int) bool { return routes[i].RouteOrder < routes[j].RouteOrder })

	vh := model.VirtualHost{
		Name:    model.PlatformRouteConfigName(def.ID),
		Domains: []string{def.NormalizedDomain()},
	}
	for i, r := range routes {
		vh.Routes = append(vh.Routes, overlayRoute(def.ID, i, r))
	}
	return &model.RouteConfigSpec{VirtualHosts: []model.VirtualHost{vh}}
}

func overlayRoute(definitionID string, order int, r model.APIRoute) model.Route {
	out := model.Route{
		PathPattern:          r.MatchValue,
		MatchType:            r.MatchType,
		RuleOrder:            int64(order),
		TypedPerFilterConfig: r.OverrideConfig,
	}

	if len(r.Upstreams.Targets) == 1 {
		out.Action.Cluster = &model.ClusterAction{
			Name:                model.PlatformClusterName(definitionID, r.Upstreams.Targets[0].Endpoint),
			TimeoutSeconds:      r.TimeoutSeconds,
			PrefixRewrite:       r.RewritePrefix,
			PathTemplateRewrite: r.RewriteTemplate,
		}
		return out
	}

	weighted := &model.WeightedClustersAction{}
	for _, target := range r.Upstreams.Targets {
		weight := uint32(1)
		if target.Weight != nil {
			weight = *target.Weight
		}
		weighted.Clusters = append(weighted.Clusters, model.WeightedCluster{
			Name:   model.PlatformClusterName(definitionID, target.Endpoint),
			Weight: weight,
		})
	}
	out.Action.WeightedClusters = weighted
	return out
}
