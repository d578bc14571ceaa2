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
	"testing"

	envoy_filter_http_jwt_authn_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/jwt_authn/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/fixture"
)

func parseJWTConfig(t *testing.T, raw string) *jwtConfig {
	t.Helper()
	cfg, err := parseJWT(json.RawMessage(raw))
	require.NoError(t, err)
	return cfg
}

func TestJWTValidation(t *testing.T) {
	tests := map[string]struct {
		config string
		want   string
	}{
		"no providers": {
			config: `{"providers": {}}`,
			want:   "at least one provider",
		},
		"provider without jwks": {
			config: `{"providers": {"p": {"issuer": "https://issuer"}}}`,
			want:   "requires a JWKS source",
		},
		"provider with both jwks sources": {
			config: `{"providers": {"p": {
				"remote_jwks": {"uri": "https://a/jwks", "cluster": "a"},
				"local_jwks": {"inline_string": "{}"}
			}}}`,
			want: "both remote and local",
		},
		"remote jwks without cluster": {
			config: `{"providers": {"p": {"remote_jwks": {"uri": "https://a/jwks"}}}}`,
			want:   "requires a uri and cluster",
		},
		"rule without match": {
			config: `{
				"providers": {"p": {"local_jwks": {"inline_string": "{}"}}},
				"rules": [{"match": {}, "requires": "p"}]
			}`,
			want: "requires a prefix or path",
		},
		"rule with both requirement forms": {
			config: `{
				"providers": {"p": {"local_jwks": {"inline_string": "{}"}}},
				"rules": [{"match": {"prefix": "/"}, "requires": "p", "requirement_name": "r"}]
			}`,
			want: "both requirement_name and requires",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := validateJWT(json.RawMessage(tc.config))
			require.Error(t, err)
			assert.True(t, apierror.IsValidation(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestJWTMergeProvidersLaterWins(t *testing.T) {
	first := parseJWTConfig(t, `{"providers": {
		"shared": {"issuer": "https://first", "local_jwks": {"inline_string": "{}"}},
		"p1": {"issuer": "https://p1", "local_jwks": {"inline_string": "{}"}}
	}}`)
	second := parseJWTConfig(t, `{"providers": {
		"shared": {"issuer": "https://second", "local_jwks": {"inline_string": "{}"}}
	}}`)

	merged := mergeJWT(fixture.NewTestLogger(t), []*jwtConfig{first, second})

	require.Len(t, merged.Providers, 2)
	assert.Equal(t, "https://second", merged.Providers["shared"].Issuer)
	assert.Equal(t, "https://p1", merged.Providers["p1"].Issuer)
}

func TestJWTMergeRulesConcatenate(t *testing.T) {
	first := parseJWTConfig(t, `{
		"providers": {"p1": {"local_jwks": {"inline_string": "{}"}}},
		"rules": [{"match": {"prefix": "/a"}, "requires": "p1"}]
	}`)
	second := parseJWTConfig(t, `{
		"providers": {"p2": {"local_jwks": {"inline_string": "{}"}}},
		"rules": [
			{"match": {"prefix": "/b"}, "requires": "p2"},
			{"match": {"path": "/c"}, "requirement_name": "r"}
		]
	}`)

	merged := mergeJWT(fixture.NewTestLogger(t), []*jwtConfig{first, second})

	require.Len(t, merged.Rules, 3)
	assert.Equal(t, "/a", merged.Rules[0].Match.Prefix)
	assert.Equal(t, "/b", merged.Rules[1].Match.Prefix)
	assert.Equal(t, "/c", merged.Rules[2].Match.Path)
}

func TestJWTMergeRequirementMapAutoPopulates(t *testing.T) {
	first := parseJWTConfig(t, `{"providers": {"p1": {"local_jwks": {"inline_string": "{}"}}}}`)
	second := parseJWTConfig(t, `{"providers": {"p2": {"local_jwks": {"inline_string": "{}"}}}}`)

	merged := mergeJWT(fixture.NewTestLogger(t), []*jwtConfig{first, second})

	assert.Equal(t, map[string]string{"p1": "p1", "p2": "p2"}, merged.RequirementMap)
}

func TestJWTMergeExplicitRequirementMapKept(t *testing.T) {
	first := parseJWTConfig(t, `{
		"providers": {"p1": {"local_jwks": {"inline_string": "{}"}}},
		"requirement_map": {"auth": "p1"}
	}`)
	second := parseJWTConfig(t, `{"providers": {"p2": {"local_jwks": {"inline_string": "{}"}}}}`)

	merged := mergeJWT(fixture.NewTestLogger(t), []*jwtConfig{first, second})

	assert.Equal(t, map[string]string{"auth": "p1"}, merged.RequirementMap)
}

func TestJWTMergeFlags(t *testing.T) {
	first := parseJWTConfig(t, `{
		"providers": {"p1": {"local_jwks": {"inline_string": "{}"}}},
		"bypass_cors_preflight": true,
		"stat_prefix": "first"
	}`)
	second := parseJWTConfig(t, `{
		"providers": {"p2": {"local_jwks": {"inline_string": "{}"}}},
		"strip_failure_response": true,
		"stat_prefix": "second"
	}`)
	third := parseJWTConfig(t, `{"providers": {"p3": {"local_jwks": {"inline_string": "{}"}}}}`)

	merged := mergeJWT(fixture.NewTestLogger(t), []*jwtConfig{first, second, third})

	assert.True(t, merged.BypassCorsPreflight)
	assert.True(t, merged.StripFailureResponse)
	assert.Equal(t, "second", merged.StatPrefix)
}

func TestJWTBuildIsDeterministic(t *testing.T) {
	cfg := parseJWTConfig(t, `{"providers": {
		"zeta": {"issuer": "https://z", "remote_jwks": {"uri": "https://z/jwks", "cluster": "jwks_z"}},
		"alpha": {"issuer": "https://a", "local_jwks": {"inline_string": "{}"}},
		"mid": {"issuer": "https://m", "local_jwks": {"inline_string": "{}"}}
	}}`)

	first, err := buildJWTAuthentication(cfg)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := buildJWTAuthentication(cfg)
		require.NoError(t, err)
		assert.Equal(t, first.Value, again.Value)
	}
}

func TestJWTBuildProviderFields(t *testing.T) {
	cfg := parseJWTConfig(t, `{
		"providers": {"p": {
			"issuer": "https://issuer",
			"audiences": ["aud1", "aud2"],
			"forward": true,
			"payload_in_metadata": "jwt_payload",
			"from_headers": [{"name": "x-token", "value_prefix": "Bearer "}],
			"remote_jwks": {"uri": "https://issuer/jwks", "cluster": "jwks_p", "cache_duration_seconds": 300}
		}},
		"rules": [{"match": {"prefix": "/api"}, "requires": "p"}]
	}`)

	payload, err := buildJWTAuthentication(cfg)
	require.NoError(t, err)

	var authn envoy_filter_http_jwt_authn_v3.JwtAuthentication
	require.NoError(t, payload.UnmarshalTo(&authn))

	p := authn.Providers["p"]
	require.NotNil(t, p)
	assert.Equal(t, "https://issuer", p.Issuer)
	assert.Equal(t, []string{"aud1", "aud2"}, p.Audiences)
	assert.True(t, p.Forward)
	assert.Equal(t, "jwt_payload", p.PayloadInMetadata)
	require.Len(t, p.FromHeaders, 1)
	assert.Equal(t, "x-token", p.FromHeaders[0].Name)

	remote := p.GetRemoteJwks()
	require.NotNil(t, remote)
	assert.Equal(t, "https://issuer/jwks", remote.HttpUri.Uri)
	assert.Equal(t, "jwks_p", remote.HttpUri.GetCluster())
	assert.Equal(t, int64(300), remote.CacheDuration.Seconds)

	require.Len(t, authn.Rules, 1)
	assert.Equal(t, "/api", authn.Rules[0].Match.GetPrefix())
	assert.Equal(t, "p", authn.Rules[0].GetRequires().GetProviderName())
}

func TestJWKSClusterSynthesis(t *testing.T) {
	cfg := parseJWTConfig(t, `{"providers": {
		"a": {"remote_jwks": {"uri": "https://auth.example.com/jwks", "cluster": "jwks_a"}},
		"b": {"remote_jwks": {"uri": "http://auth.internal:8080/jwks", "cluster": "jwks_b"}},
		"c": {"remote_jwks": {"uri": "https://other.example.com/jwks", "cluster": "existing"}},
		"d": {"local_jwks": {"inline_string": "{}"}}
	}}`)

	clusters, err := jwksClusters(cfg, func(name string) bool { return name == "existing" })
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	a := clusters[0]
	assert.Equal(t, "jwks_a", a.Name)
	require.Len(t, a.Config.Endpoints, 1)
	assert.Equal(t, "auth.example.com", a.Config.Endpoints[0].Host)
	assert.Equal(t, uint32(443), a.Config.Endpoints[0].Port)
	require.NotNil(t, a.Config.UseTLS)
	assert.True(t, *a.Config.UseTLS)
	assert.Equal(t, "auth.example.com", a.Config.TLSServerName)

	b := clusters[1]
	assert.Equal(t, "jwks_b", b.Name)
	assert.Equal(t, uint32(8080), b.Config.Endpoints[0].Port)
	require.NotNil(t, b.Config.UseTLS)
	assert.False(t, *b.Config.UseTLS)
}

func TestJWTPerRoute(t *testing.T) {
	payload, err := buildJWTPerRoute(json.RawMessage(`{"requirement_name": "auth"}`))
	require.NoError(t, err)
	var cfg envoy_filter_http_jwt_authn_v3.PerRouteConfig
	require.NoError(t, payload.UnmarshalTo(&cfg))
	assert.Equal(t, "auth", cfg.GetRequirementName())

	payload, err = buildJWTPerRoute(json.RawMessage(`{"disabled": true}`))
	require.NoError(t, err)
	require.NoError(t, payload.UnmarshalTo(&cfg))
	assert.True(t, cfg.GetDisabled())

	_, err = buildJWTPerRoute(json.RawMessage(`{"disabled": true, "requirement_name": "auth"}`))
	require.Error(t, err)
	assert.True(t, apierror.IsValidation(err))

	_, err = buildJWTPerRoute(json.RawMessage(`{}`))
	require.Error(t, err)
}
