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

package v3

import (
	"encoding/json"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_path_match_uri_template_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/path/match/uri_template/v3"
	envoy_path_rewrite_uri_template_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/path/rewrite/uri_template/v3"
	envoy_matcher_v3 "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// RouteConfiguration compiles a stored route config. perFilter converts the
// raw per-filter overrides carried on virtual hosts, routes and weighted
// cluster entries; it may be nil when no filter registry is in play.
func (e *EnvoyGen) RouteConfiguration(rc *model.RouteConfig, perFilter PerFilterConfig) (*envoy_config_route_v3.RouteConfiguration, error) {
	return e.RouteConfigurationFromSpec(rc.Name, &rc.Spec, perFilter)
}

// RouteConfigurationFromSpec compiles a route config body under the given
// name. Listeners with inline route configs use this directly.
func (e *EnvoyGen) RouteConfigurationFromSpec(name string, spec *model.RouteConfigSpec, perFilter PerFilterConfig) (*envoy_config_route_v3.RouteConfiguration, error) {
	out := &envoy_config_route_v3.RouteConfiguration{
		Name: name,
	}
	for _, vh := range spec.SortedVirtualHosts() {
		compiled, err := e.virtualHost(&vh, perFilter)
		if err != nil {
			return nil, errors.Wrapf(err, "route config %q virtual host %q", name, vh.Name)
		}
		out.VirtualHosts = append(out.VirtualHosts, compiled)
	}
	return out, nil
}

func (e *EnvoyGen) virtualHost(vh *model.VirtualHost, perFilter PerFilterConfig) (*envoy_config_route_v3.VirtualHost, error) {
	out := &envoy_config_route_v3.VirtualHost{
		Name:    vh.Name,
		Domains: vh.Domains,
	}

	var err error
	out.TypedPerFilterConfig, err = perFilterConfig(vh.TypedPerFilterConfig, perFilter)
	if err != nil {
		return nil, err
	}

	for _, r := range vh.SortedRoutes() {
		compiled, err := e.route(&r, perFilter)
		if err != nil {
			return nil, errors.Wrapf(err, "route %q", r.EffectiveName())
		}
		out.Routes = append(out.Routes, compiled)
	}
	return out, nil
}

func (e *EnvoyGen) route(r *model.Route, perFilter PerFilterConfig) (*envoy_config_route_v3.Route, error) {
	out := &envoy_config_route_v3.Route{
		Name:  r.EffectiveName(),
		Match: routeMatch(r.MatchType, r.PathPattern),
	}

	var err error
	out.TypedPerFilterConfig, err = perFilterConfig(r.TypedPerFilterConfig, perFilter)
	if err != nil {
		return nil, err
	}

	switch {
	case r.Action.Cluster != nil:
		out.Action = &envoy_config_route_v3.Route_Route{
			Route: clusterRouteAction(r.Action.Cluster),
		}
	case r.Action.WeightedClusters != nil:
		action, err := weightedRouteAction(r.Action.WeightedClusters, perFilter)
		if err != nil {
			return nil, err
		}
		out.Action = &envoy_config_route_v3.Route_Route{Route: action}
	case r.Action.Redirect != nil:
		out.Action = &envoy_config_route_v3.Route_Redirect{
			Redirect: redirectAction(r.Action.Redirect),
		}
	}
	return out, nil
}

func routeMatch(matchType model.MatchType, pattern string) *envoy_config_route_v3.RouteMatch {
	switch matchType {
	case model.MatchExact:
		return &envoy_config_route_v3.RouteMatch{
			PathSpecifier: &envoy_config_route_v3.RouteMatch_Path{Path: pattern},
		}
	case model.MatchRegex:
		return &envoy_config_route_v3.RouteMatch{
			PathSpecifier: &envoy_config_route_v3.RouteMatch_SafeRegex{
				SafeRegex: &envoy_matcher_v3.RegexMatcher{Regex: pattern},
			},
		}
	case model.MatchPathTemplate:
		return &envoy_config_route_v3.RouteMatch{
			PathSpecifier: &envoy_config_route_v3.RouteMatch_PathMatchPolicy{
				PathMatchPolicy: &envoy_config_core_v3.TypedExtensionConfig{
					Name: "envoy.path.match.uri_template.uri_template_matcher",
					TypedConfig: protobuf.MustMarshalAny(&envoy_path_match_uri_template_v3.UriTemplateMatchConfig{
						PathTemplate: pattern,
					}),
				},
			},
		}
	default:
		return &envoy_config_route_v3.RouteMatch{
			PathSpecifier: &envoy_config_route_v3.RouteMatch_Prefix{Prefix: pattern},
		}
	}
}

func clusterRouteAction(c *model.ClusterAction) *envoy_config_route_v3.RouteAction {
	action := &envoy_config_route_v3.RouteAction{
		ClusterSpecifier: &envoy_config_route_v3.RouteAction_Cluster{
			Cluster: c.Name,
		},
		Timeout: protobuf.SecondsOrNil(c.TimeoutSeconds),
	}
	if c.PrefixRewrite != "" {
		action.PrefixRewrite = c.PrefixRewrite
	}
	if c.PathTemplateRewrite != "" {
		action.PathRewritePolicy = &envoy_config_core_v3.TypedExtensionConfig{
			Name: "envoy.path.rewrite.uri_template.uri_template_rewriter",
			TypedConfig: protobuf.MustMarshalAny(&envoy_path_rewrite_uri_template_v3.UriTemplateRewriteConfig{
				PathTemplateRewrite: c.PathTemplateRewrite,
			}),
		}
	}
	if rp := c.RetryPolicy; rp != nil {
		action.RetryPolicy = &envoy_config_route_v3.RetryPolicy{
			RetryOn:              rp.RetryOn,
			NumRetries:           protobuf.UInt32PtrOrNil(rp.NumRetries),
			PerTryTimeout:        protobuf.SecondsOrNil(rp.PerTryTimeoutSeconds),
			RetriableStatusCodes: rp.RetriableStatusCodes,
		}
	}
	return action
}

func weightedRouteAction(wc *model.WeightedClustersAction, perFilter PerFilterConfig) (*envoy_config_route_v3.RouteAction, error) {
	weighted := &envoy_config_route_v3.WeightedCluster{
		TotalWeight: protobuf.UInt32PtrOrNil(wc.TotalWeight),
	}
	for _, c := range wc.Clusters {
		entry := &envoy_config_route_v3.WeightedCluster_ClusterWeight{
			Name:   c.Name,
			Weight: protobuf.UInt32(c.Weight),
		}
		var err error
		entry.TypedPerFilterConfig, err = perFilterConfig(c.TypedPerFilterConfig, perFilter)
		if err != nil {
			return nil, errors.Wrapf(err, "weighted cluster %q", c.Name)
		}
		weighted.Clusters = append(weighted.Clusters, entry)
	}
	return &envoy_config_route_v3.RouteAction{
		ClusterSpecifier: &envoy_config_route_v3.RouteAction_WeightedClusters{
			WeightedClusters: weighted,
		},
	}, nil
}

func redirectAction(rd *model.RedirectAction) *envoy_config_route_v3.RedirectAction {
	out := &envoy_config_route_v3.RedirectAction{}
	if rd.Host != "" {
		out.HostRedirect = rd.Host
	}
	if rd.Path != "" {
		out.PathRewriteSpecifier = &envoy_config_route_v3.RedirectAction_PathRedirect{
			PathRedirect: rd.Path,
		}
	}
	out.ResponseCode = redirectCode(rd.Code)
	return out
}

func redirectCode(code uint32) envoy_config_route_v3.RedirectAction_RedirectResponseCode {
	switch code {
	case 302:
		return envoy_config_route_v3.RedirectAction_FOUND
	case 303:
		return envoy_config_route_v3.RedirectAction_SEE_OTHER
	case 307:
		return envoy_config_route_v3.RedirectAction_TEMPORARY_REDIRECT
	case 308:
		return envoy_config_route_v3.RedirectAction_PERMANENT_REDIRECT
	default:
		return envoy_config_route_v3.RedirectAction_MOVED_PERMANENTLY
	}
}

func perFilterConfig(overrides map[string]json.RawMessage, perFilter PerFilterConfig) (map[string]*anypb.Any, error) {
	if len(overrides) == 0 || perFilter == nil {
		return nil, nil
	}
	return perFilter(overrides)
}
