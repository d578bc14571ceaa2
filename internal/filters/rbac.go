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
	"encoding/json"
	"net/netip"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_rbac_v3 "github.com/envoyproxy/go-control-plane/envoy/config/rbac/v3"
	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_filter_http_rbac_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/rbac/v3"
	envoy_matcher_v3 "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

type rbacConfig struct {
	// Action is ALLOW or DENY.
	Action   string                `json:"action"`
	Policies map[string]rbacPolicy `json:"policies"`
}

type rbacPolicy struct {
	// Principals: "any", "ip:<cidr>" or "header:<name>=<value>".
	Principals []string `json:"principals"`
}

func rbacSchema() *Schema {
	return &Schema{
		Name:             "rbac",
		DisplayName:      "Role Based Access Control",
		EnvoyName:        "envoy.filters.http.rbac",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig, model.AttachVirtualHost, model.AttachRoute},
		PerRoute:         PerRouteFullConfig,
		Validate:         validateRBAC,
		Build:            buildRBAC,
		BuildPerRoute:    buildRBACPerRoute,
	}
}

func validateRBAC(raw json.RawMessage) error {
	var cfg rbacConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("rbac config does not parse: %s", err)
	}
	switch cfg.Action {
	case "ALLOW", "DENY":
	default:
		return apierror.Validationf("rbac action %q must be ALLOW or DENY", cfg.Action)
	}
	if len(cfg.Policies) == 0 {
		return apierror.Validationf("rbac requires at least one policy")
	}
	for name, policy := range cfg.Policies {
		if len(policy.Principals) == 0 {
			return apierror.Validationf("rbac policy %q requires at least one principal", name)
		}
		for _, p := range policy.Principals {
			if _, err := rbacPrincipal(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func rbacRules(raw json.RawMessage) (*envoy_config_rbac_v3.RBAC, error) {
	if err := validateRBAC(raw); err != nil {
		return nil, err
	}
	var cfg rbacConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("rbac config does not parse: %s", err)
	}

	action := envoy_config_rbac_v3.RBAC_ALLOW
	if cfg.Action == "DENY" {
		action = envoy_config_rbac_v3.RBAC_DENY
	}

	rules := &envoy_config_rbac_v3.RBAC{
		Action:   action,
		Policies: map[string]*envoy_config_rbac_v3.Policy{},
	}
	for name, policy := range cfg.Policies {
		compiled := &envoy_config_rbac_v3.Policy{
			Permissions: []*envoy_config_rbac_v3.Permission{{
				Rule: &envoy_config_rbac_v3.Permission_Any{Any: true},
			}},
		}
		for _, p := range policy.Principals {
			principal, err := rbacPrincipal(p)
			if err != nil {
				return nil, err
			}
			compiled.Principals = append(compiled.Principals, principal)
		}
		rules.Policies[name] = compiled
	}
	return rules, nil
}

func buildRBAC(raw json.RawMessage) (*anypb.Any, error) {
	rules, err := rbacRules(raw)
	if err != nil {
		return nil, err
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_rbac_v3.RBAC{Rules: rules}), nil
}

func buildRBACPerRoute(raw json.RawMessage) (*anypb.Any, error) {
	rules, err := rbacRules(raw)
	if err != nil {
		return nil, err
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_rbac_v3.RBACPerRoute{
		Rbac: &envoy_filter_http_rbac_v3.RBAC{Rules: rules},
	}), nil
}

func rbacPrincipal(spec string) (*envoy_config_rbac_v3.Principal, error) {
	switch {
	case spec == "any":
		return &envoy_config_rbac_v3.Principal{
			Identifier: &envoy_config_rbac_v3.Principal_Any{Any: true},
		}, nil
	case len(spec) > 3 && spec[:3] == "ip:":
		prefix, err := netip.ParsePrefix(spec[3:])
		if err != nil {
			return nil, apierror.Validationf("rbac principal %q is not a CIDR: %s", spec, err)
		}
		return &envoy_config_rbac_v3.Principal{
			Identifier: &envoy_config_rbac_v3.Principal_DirectRemoteIp{
				DirectRemoteIp: &envoy_config_core_v3.CidrRange{
					AddressPrefix: prefix.Addr().String(),
					PrefixLen:     protobuf.UInt32(uint32(prefix.Bits())),
				},
			},
		}, nil
	case len(spec) > 7 && spec[:7] == "header:":
		name, value, ok := splitHeaderPrincipal(spec[7:])
		if !ok {
			return nil, apierror.Validationf("rbac principal %q must be header:<name>=<value>", spec)
		}
		return &envoy_config_rbac_v3.Principal{
			Identifier: &envoy_config_rbac_v3.Principal_Header{
				Header: &envoy_config_route_v3.HeaderMatcher{
					Name: name,
					HeaderMatchSpecifier: &envoy_config_route_v3.HeaderMatcher_StringMatch{
						StringMatch: &envoy_matcher_v3.StringMatcher{
							MatchPattern: &envoy_matcher_v3.StringMatcher_Exact{Exact: value},
						},
					},
				},
			},
		}, nil
	default:
		return nil, apierror.Validationf("rbac principal %q is not supported", spec)
	}
}

func splitHeaderPrincipal(spec string) (name, value string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			return spec[:i], spec[i+1:], spec[:i] != ""
		}
	}
	return "", "", false
}
