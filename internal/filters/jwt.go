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
	"net/url"
	"sort"
	"time"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_filter_http_jwt_authn_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/jwt_authn/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// JWTFilterType is the stored type name for JWT authentication rows.
const JWTFilterType = "jwt_auth"

// jwtConfig is the user-facing JWT authentication configuration. Multiple
// rows attached to one listener are merged into a single filter.
type jwtConfig struct {
	Providers            map[string]jwtProvider `json:"providers"`
	Rules                []jwtRule              `json:"rules,omitempty"`
	RequirementMap       map[string]string      `json:"requirement_map,omitempty"`
	BypassCorsPreflight  bool                   `json:"bypass_cors_preflight,omitempty"`
	StripFailureResponse bool                   `json:"strip_failure_response,omitempty"`
	StatPrefix           string                 `json:"stat_prefix,omitempty"`
}

type jwtProvider struct {
	Issuer            string      `json:"issuer"`
	Audiences         []string    `json:"audiences,omitempty"`
	RemoteJWKS        *remoteJWKS `json:"remote_jwks,omitempty"`
	LocalJWKS         *localJWKS  `json:"local_jwks,omitempty"`
	Forward           bool        `json:"forward,omitempty"`
	FromHeaders       []jwtHeader `json:"from_headers,omitempty"`
	PayloadInMetadata string      `json:"payload_in_metadata,omitempty"`
}

type remoteJWKS struct {
	URI                  string  `json:"uri"`
	Cluster              string  `json:"cluster"`
	TimeoutSeconds       *uint32 `json:"timeout_seconds,omitempty"`
	CacheDurationSeconds *uint32 `json:"cache_duration_seconds,omitempty"`
}

type localJWKS struct {
	InlineString string `json:"inline_string"`
}

type jwtHeader struct {
	Name        string `json:"name"`
	ValuePrefix string `json:"value_prefix,omitempty"`
}

type jwtRule struct {
	Match jwtRuleMatch `json:"match"`
	// RequirementName references an entry in requirement_map.
	RequirementName string `json:"requirement_name,omitempty"`
	// Requires names a provider directly.
	Requires string `json:"requires,omitempty"`
}

type jwtRuleMatch struct {
	Prefix string `json:"prefix,omitempty"`
	Path   string `json:"path,omitempty"`
}

type jwtPerRouteConfig struct {
	RequirementName string `json:"requirement_name,omitempty"`
	Disabled        bool   `json:"disabled,omitempty"`
}

func jwtSchema() *Schema {
	return &Schema{
		Name:             JWTFilterType,
		DisplayName:      "JWT Authentication",
		EnvoyName:        "envoy.filters.http.jwt_authn",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRoute:         PerRouteReferenceOnly,
		Validate:         validateJWT,
		Build: func(raw json.RawMessage) (*anypb.Any, error) {
			cfg, err := parseJWT(raw)
			if err != nil {
				return nil, err
			}
			return buildJWTAuthentication(cfg)
		},
		BuildPerRoute: buildJWTPerRoute,
	}
}

func parseJWT(raw json.RawMessage) (*jwtConfig, error) {
	var cfg jwtConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("jwt_auth config does not parse: %s", err)
	}
	return &cfg, validateJWTConfig(&cfg)
}

func validateJWT(raw json.RawMessage) error {
	_, err := parseJWT(raw)
	return err
}

func validateJWTConfig(cfg *jwtConfig) error {
	if len(cfg.Providers) == 0 {
		return apierror.Validationf("jwt_auth requires at least one provider")
	}
	for name, p := range cfg.Providers {
		if p.RemoteJWKS == nil && p.LocalJWKS == nil {
			return apierror.Validationf("jwt_auth provider %q requires a JWKS source", name)
		}
		if p.RemoteJWKS != nil && p.LocalJWKS != nil {
			return apierror.Validationf("jwt_auth provider %q sets both remote and local JWKS", name)
		}
		if p.RemoteJWKS != nil {
			if p.RemoteJWKS.URI == "" || p.RemoteJWKS.Cluster == "" {
				return apierror.Validationf("jwt_auth provider %q remote JWKS requires a uri and cluster", name)
			}
			if _, err := url.Parse(p.RemoteJWKS.URI); err != nil {
				return apierror.Validationf("jwt_auth provider %q JWKS uri does not parse: %s", name, err)
			}
		}
	}
	for i, rule := range cfg.Rules {
		if rule.Match.Prefix == "" && rule.Match.Path == "" {
			return apierror.Validationf("jwt_auth rule %d requires a prefix or path match", i)
		}
		if rule.RequirementName != "" && rule.Requires != "" {
			return apierror.Validationf("jwt_auth rule %d sets both requirement_name and requires", i)
		}
	}
	for name, provider := range cfg.RequirementMap {
		if name == "" || provider == "" {
			return apierror.Validationf("jwt_auth requirement_map entries must name a provider")
		}
	}
	return nil
}

// mergeJWT folds the given configs, in order, into one. Later providers
// win name collisions; rules concatenate; booleans OR; the requirement
// map is auto-populated from provider names when empty.
func mergeJWT(log logrus.FieldLogger, configs []*jwtConfig) *jwtConfig {
	merged := &jwtConfig{
		Providers:      map[string]jwtProvider{},
		RequirementMap: map[string]string{},
	}
	for _, cfg := range configs {
		for name, p := range cfg.Providers {
			if _, exists := merged.Providers[name]; exists {
				log.WithField("provider", name).Warn("duplicate jwt provider, later definition wins")
			}
			merged.Providers[name] = p
		}
		merged.Rules = append(merged.Rules, cfg.Rules...)
		for name, provider := range cfg.RequirementMap {
			merged.RequirementMap[name] = provider
		}
		merged.BypassCorsPreflight = merged.BypassCorsPreflight || cfg.BypassCorsPreflight
		merged.StripFailureResponse = merged.StripFailureResponse || cfg.StripFailureResponse
		if cfg.StatPrefix != "" {
			merged.StatPrefix = cfg.StatPrefix
		}
	}

	if len(merged.RequirementMap) == 0 && len(merged.Providers) > 0 {
		for name := range merged.Providers {
			merged.RequirementMap[name] = name
		}
	}
	return merged
}

func buildJWTAuthentication(cfg *jwtConfig) (*anypb.Any, error) {
	out := &envoy_filter_http_jwt_authn_v3.JwtAuthentication{
		Providers:            map[string]*envoy_filter_http_jwt_authn_v3.JwtProvider{},
		RequirementMap:       map[string]*envoy_filter_http_jwt_authn_v3.JwtRequirement{},
		BypassCorsPreflight:  cfg.BypassCorsPreflight,
		StripFailureResponse: cfg.StripFailureResponse,
	}

	// Provider names are iterated in sorted order so repeated builds of
	// the same config yield identical output.
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out.Providers[name] = jwtProviderProto(cfg.Providers[name])
	}
	for name, provider := range cfg.RequirementMap {
		out.RequirementMap[name] = providerRequirement(provider)
	}
	for _, rule := range cfg.Rules {
		out.Rules = append(out.Rules, jwtRuleProto(rule))
	}
	return protobuf.MustMarshalAny(out), nil
}

func jwtProviderProto(p jwtProvider) *envoy_filter_http_jwt_authn_v3.JwtProvider {
	out := &envoy_filter_http_jwt_authn_v3.JwtProvider{
		Issuer:            p.Issuer,
		Audiences:         p.Audiences,
		Forward:           p.Forward,
		PayloadInMetadata: p.PayloadInMetadata,
	}
	for _, h := range p.FromHeaders {
		out.FromHeaders = append(out.FromHeaders, &envoy_filter_http_jwt_authn_v3.JwtHeader{
			Name:        h.Name,
			ValuePrefix: h.ValuePrefix,
		})
	}
	switch {
	case p.RemoteJWKS != nil:
		remote := &envoy_filter_http_jwt_authn_v3.RemoteJwks{
			HttpUri: &envoy_config_core_v3.HttpUri{
				Uri: p.RemoteJWKS.URI,
				HttpUpstreamType: &envoy_config_core_v3.HttpUri_Cluster{
					Cluster: p.RemoteJWKS.Cluster,
				},
				Timeout: jwksTimeout(p.RemoteJWKS.TimeoutSeconds),
			},
			CacheDuration: protobuf.SecondsOrNil(p.RemoteJWKS.CacheDurationSeconds),
		}
		out.JwksSourceSpecifier = &envoy_filter_http_jwt_authn_v3.JwtProvider_RemoteJwks{
			RemoteJwks: remote,
		}
	case p.LocalJWKS != nil:
		out.JwksSourceSpecifier = &envoy_filter_http_jwt_authn_v3.JwtProvider_LocalJwks{
			LocalJwks: &envoy_config_core_v3.DataSource{
				Specifier: &envoy_config_core_v3.DataSource_InlineString{
					InlineString: p.LocalJWKS.InlineString,
				},
			},
		}
	}
	return out
}

func jwtRuleProto(rule jwtRule) *envoy_filter_http_jwt_authn_v3.RequirementRule {
	match := &envoy_config_route_v3.RouteMatch{}
	if rule.Match.Path != "" {
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_Path{Path: rule.Match.Path}
	} else {
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_Prefix{Prefix: rule.Match.Prefix}
	}

	out := &envoy_filter_http_jwt_authn_v3.RequirementRule{Match: match}
	switch {
	case rule.RequirementName != "":
		out.RequirementType = &envoy_filter_http_jwt_authn_v3.RequirementRule_RequirementName{
			RequirementName: rule.RequirementName,
		}
	case rule.Requires != "":
		out.RequirementType = &envoy_filter_http_jwt_authn_v3.RequirementRule_Requires{
			Requires: providerRequirement(rule.Requires),
		}
	}
	return out
}

func providerRequirement(provider string) *envoy_filter_http_jwt_authn_v3.JwtRequirement {
	return &envoy_filter_http_jwt_authn_v3.JwtRequirement{
		RequiresType: &envoy_filter_http_jwt_authn_v3.JwtRequirement_ProviderName{
			ProviderName: provider,
		},
	}
}

func buildJWTPerRoute(raw json.RawMessage) (*anypb.Any, error) {
	var cfg jwtPerRouteConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("jwt_auth per-route config does not parse: %s", err)
	}
	out := &envoy_filter_http_jwt_authn_v3.PerRouteConfig{}
	switch {
	case cfg.Disabled && cfg.RequirementName == "":
		out.RequirementSpecifier = &envoy_filter_http_jwt_authn_v3.PerRouteConfig_Disabled{Disabled: true}
	case !cfg.Disabled && cfg.RequirementName != "":
		out.RequirementSpecifier = &envoy_filter_http_jwt_authn_v3.PerRouteConfig_RequirementName{
			RequirementName: cfg.RequirementName,
		}
	default:
		return nil, apierror.Validationf("jwt_auth per-route override requires exactly one of requirement_name or disabled")
	}
	return protobuf.MustMarshalAny(out), nil
}

// jwksClusters synthesizes a cluster for every remote-JWKS provider whose
// declared cluster does not already exist. The cluster points at the JWKS
// host with TLS and SNI inferred from the URI.
func jwksClusters(cfg *jwtConfig, exists func(name string) bool) ([]*model.Cluster, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[string]bool{}
	var clusters []*model.Cluster
	for _, name := range names {
		p := cfg.Providers[name]
		if p.RemoteJWKS == nil {
			continue
		}
		cluster := p.RemoteJWKS.Cluster
		if seen[cluster] || exists(cluster) {
			continue
		}
		seen[cluster] = true

		u, err := url.Parse(p.RemoteJWKS.URI)
		if err != nil {
			return nil, apierror.Validationf("jwt_auth provider %q JWKS uri does not parse: %s", name, err)
		}
		host := u.Hostname()
		if host == "" {
			return nil, apierror.Validationf("jwt_auth provider %q JWKS uri has no host", name)
		}
		port := uint32(443)
		useTLS := u.Scheme != "http"
		if !useTLS {
			port = 80
		}
		if u.Port() != "" {
			ep, err := model.ParseEndpoint(u.Host)
			if err != nil {
				return nil, err
			}
			port = ep.Port
		}

		clusters = append(clusters, &model.Cluster{
			Name:        cluster,
			ServiceName: cluster,
			Source:      model.SourceNativeAPI,
			Config: model.ClusterConfig{
				Endpoints:     []model.Endpoint{{Host: host, Port: port}},
				UseTLS:        &useTLS,
				TLSServerName: host,
			},
		})
	}
	return clusters, nil
}

func jwksTimeout(seconds *uint32) *durationpb.Duration {
	if seconds == nil {
		return durationpb.New(5 * time.Second)
	}
	return durationpb.New(time.Duration(*seconds) * time.Second)
}
