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
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/flowplane/flowplane/internal/apierror"
)

// MatchType selects how a route path pattern is interpreted.
type MatchType string

const (
	MatchPrefix       MatchType = "Prefix"
	MatchExact        MatchType = "Exact"
	MatchRegex        MatchType = "Regex"
	MatchPathTemplate MatchType = "PathTemplate"
)

// RouteConfig is a stored route configuration row.
type RouteConfig struct {
	ID      string
	Name    string
	Team    string
	Source  Source
	Version int64
	Spec    RouteConfigSpec
}

// RouteConfigSpec is the declarative body, also usable inline in a listener.
type RouteConfigSpec struct {
	VirtualHosts []VirtualHost `json:"virtual_hosts"`
}

type VirtualHost struct {
	ID        string  `json:"-"`
	Name      string  `json:"name"`
	Domains   []string `json:"domains"`
	RuleOrder int64    `json:"rule_order,omitempty"`
	// TypedPerFilterConfig maps a filter type name to its raw per-vhost
	// override configuration. Conversion to Any happens at compile time.
	TypedPerFilterConfig map[string]json.RawMessage `json:"typed_per_filter_config,omitempty"`
	Routes               []Route                    `json:"routes"`
}

type Route struct {
	ID                   string                     `json:"-"`
	Name                 string                     `json:"name,omitempty"`
	PathPattern          string                     `json:"path_pattern"`
	MatchType            MatchType                  `json:"match_type"`
	RuleOrder            int64                      `json:"rule_order,omitempty"`
	TypedPerFilterConfig map[string]json.RawMessage `json:"typed_per_filter_config,omitempty"`
	Action               RouteAction                `json:"action"`
}

// RouteAction is a closed variant: exactly one member is set.
type RouteAction struct {
	Cluster          *ClusterAction          `json:"cluster,omitempty"`
	WeightedClusters *WeightedClustersAction `json:"weighted_clusters,omitempty"`
	Redirect         *RedirectAction         `json:"redirect,omitempty"`
}

type ClusterAction struct {
	Name                string  `json:"name"`
	TimeoutSeconds      *uint32 `json:"timeout_seconds,omitempty"`
	PrefixRewrite       string  `json:"prefix_rewrite,omitempty"`
	PathTemplateRewrite string  `json:"path_template_rewrite,omitempty"`
	RetryPolicy         *RetryPolicy `json:"retry_policy,omitempty"`
}

type RetryPolicy struct {
	RetryOn              string   `json:"retry_on"`
	NumRetries           *uint32  `json:"num_retries,omitempty"`
	PerTryTimeoutSeconds *uint32  `json:"per_try_timeout_seconds,omitempty"`
	RetriableStatusCodes []uint32 `json:"retriable_status_codes,omitempty"`
}

type WeightedClustersAction struct {
	Clusters    []WeightedCluster `json:"clusters"`
	TotalWeight *uint32           `json:"total_weight,omitempty"`
}

type WeightedCluster struct {
	Name                 string                     `json:"name"`
	Weight               uint32                     `json:"weight"`
	TypedPerFilterConfig map[string]json.RawMessage `json:"typed_per_filter_config,omitempty"`
}

type RedirectAction struct {
	Host string `json:"host,omitempty"`
	Path string `json:"path,omitempty"`
	// Code is the HTTP response code: 301, 302, 303, 307 or 308.
	Code uint32 `json:"code,omitempty"`
}

// Validate checks the route configuration invariants.
func (rc *RouteConfig) Validate() error {
	if err := requireName("route config", rc.Name); err != nil {
		return err
	}
	return rc.Spec.Validate()
}

func (s *RouteConfigSpec) Validate() error {
	if len(s.VirtualHosts) == 0 {
		return apierror.Validationf("route config requires at least one virtual host")
	}
	names := map[string]bool{}
	for _, vh := range s.VirtualHosts {
		if err := requireName("virtual host", vh.Name); err != nil {
			return err
		}
		if names[vh.Name] {
			return apierror.Validationf("virtual host %q is duplicated", vh.Name)
		}
		names[vh.Name] = true
		if err := vh.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (vh *VirtualHost) Validate() error {
	if len(vh.Domains) == 0 {
		return apierror.Validationf("virtual host %q requires at least one domain", vh.Name)
	}
	for _, d := range vh.Domains {
		if strings.TrimSpace(d) == "" {
			return apierror.Validationf("virtual host %q has an empty domain", vh.Name)
		}
	}
	routeNames := map[string]bool{}
	for i := range vh.Routes {
		r := &vh.Routes[i]
		if err := r.Validate(); err != nil {
			return err
		}
		name := r.EffectiveName()
		if routeNames[name] {
			return apierror.Validationf("route %q is duplicated in virtual host %q", name, vh.Name)
		}
		routeNames[name] = true
	}
	return nil
}

func (r *Route) Validate() error {
	switch r.MatchType {
	case MatchPrefix, MatchExact, MatchPathTemplate:
		if r.PathPattern == "" {
			return apierror.Validationf("route match type %s requires a path pattern", r.MatchType)
		}
	case MatchRegex:
		if _, err := regexp.Compile(r.PathPattern); err != nil {
			return apierror.Validationf("route regex %q does not compile: %s", r.PathPattern, err)
		}
	default:
		return apierror.Validationf("route match type %q is not supported", r.MatchType)
	}

	set := 0
	if r.Action.Cluster != nil {
		set++
		if r.Action.Cluster.Name == "" {
			return apierror.Validationf("route cluster action requires a cluster name")
		}
	}
	if r.Action.WeightedClusters != nil {
		set++
		wc := r.Action.WeightedClusters
		if len(wc.Clusters) == 0 {
			return apierror.Validationf("weighted clusters action requires at least one entry")
		}
		for _, c := range wc.Clusters {
			if c.Name == "" {
				return apierror.Validationf("weighted cluster entry requires a name")
			}
		}
	}
	if r.Action.Redirect != nil {
		set++
		rd := r.Action.Redirect
		if rd.Host == "" && rd.Path == "" {
			return apierror.Validationf("redirect action requires a host or a path")
		}
		switch rd.Code {
		case 0, 301, 302, 303, 307, 308:
		default:
			return apierror.Validationf("redirect code %d is not a redirect status", rd.Code)
		}
	}
	if set != 1 {
		return apierror.Validationf("route requires exactly one action, got %d", set)
	}
	return nil
}

// EffectiveName returns the route name, generating a stable one from the
// match when the user did not supply one.
func (r *Route) EffectiveName() string {
	if r.Name != "" {
		return r.Name
	}
	pattern := strings.NewReplacer("/", "-", "*", "star", "{", "", "}", "").Replace(r.PathPattern)
	pattern = strings.Trim(pattern, "-")
	if pattern == "" {
		pattern = "root"
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(string(r.MatchType)), pattern)
}

// SortedVirtualHosts returns the virtual hosts ordered by rule order then
// name, for deterministic compilation.
func (s *RouteConfigSpec) SortedVirtualHosts() []VirtualHost {
	vhosts := make([]VirtualHost, len(s.VirtualHosts))
	copy(vhosts, s.VirtualHosts)
	sort.SliceStable(vhosts, func(i, j int) bool {
		if vhosts[i].RuleOrder != vhosts[j].RuleOrder {
			return vhosts[i].RuleOrder < vhosts[j].RuleOrder
		}
		return vhosts[i].Name < vhosts[j].Name
	})
	return vhosts
}

// SortedRoutes returns the routes ordered by rule order then name.
func (vh *VirtualHost) SortedRoutes() []Route {
	routes := make([]Route, len(vh.Routes))
	copy(routes, vh.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].RuleOrder != routes[j].RuleOrder {
			return routes[i].RuleOrder < routes[j].RuleOrder
		}
		return routes[i].EffectiveName() < routes[j].EffectiveName()
	})
	return routes
}
