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
	"time"

	envoy_config_rbac_v3 "github.com/envoyproxy/go-control-plane/envoy/config/rbac/v3"
	envoy_filter_http_compressor_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/compressor/v3"
	envoy_filter_http_cors_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/cors/v3"
	envoy_filter_http_ext_authz_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_authz/v3"
	envoy_filter_http_header_mutation_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/header_mutation/v3"
	envoy_filter_http_local_ratelimit_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	envoy_filter_http_rbac_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/rbac/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apierror"
)

func TestCORSValidation(t *testing.T) {
	tests := map[string]struct {
		config string
		want   string
	}{
		"no origins": {
			config: `{"allow_origins": []}`,
			want:   "at least one allowed origin",
		},
		"origin with two matchers": {
			config: `{"allow_origins": [{"exact": "https://a", "prefix": "https://"}]}`,
			want:   "exactly one of exact, prefix or regex",
		},
		"bad regex": {
			config: `{"allow_origins": [{"regex": "["}]}`,
			want:   "does not compile",
		},
		"credentials with wildcard": {
			config: `{"allow_origins": [{"exact": "*"}], "allow_credentials": true}`,
			want:   "wildcard origin",
		},
		"bad method": {
			config: `{"allow_origins": [{"exact": "https://a"}], "allow_methods": ["FETCH"]}`,
			want:   "not an HTTP method",
		},
		"bad header token": {
			config: `{"allow_origins": [{"exact": "https://a"}], "allow_headers": ["bad header"]}`,
			want:   "not a valid header token",
		},
		"max age too large": {
			config: `{"allow_origins": [{"exact": "https://a"}], "max_age_seconds": 315576000001}`,
			want:   "exceeds the maximum",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := validateCORS(json.RawMessage(tc.config))
			require.Error(t, err)
			assert.True(t, apierror.IsValidation(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCORSPerRoutePolicy(t *testing.T) {
	payload, err := buildCORSPolicy(json.RawMessage(`{
		"allow_origins": [{"exact": "https://app.example.com"}, {"prefix": "https://preview-"}],
		"allow_methods": ["GET", "POST"],
		"allow_headers": ["authorization"],
		"max_age_seconds": 600,
		"allow_credentials": true
	}`))
	require.NoError(t, err)

	var policy envoy_filter_http_cors_v3.CorsPolicy
	require.NoError(t, payload.UnmarshalTo(&policy))
	require.Len(t, policy.AllowOriginStringMatch, 2)
	assert.Equal(t, "https://app.example.com", policy.AllowOriginStringMatch[0].GetExact())
	assert.Equal(t, "https://preview-", policy.AllowOriginStringMatch[1].GetPrefix())
	assert.Equal(t, "GET,POST", policy.AllowMethods)
	assert.Equal(t, "authorization", policy.AllowHeaders)
	assert.Equal(t, "600", policy.MaxAge)
	assert.True(t, policy.AllowCredentials.GetValue())
}

func TestExtAuthzBuild(t *testing.T) {
	payload, err := buildExtAuthz(json.RawMessage(`{
		"grpc_service": {"cluster": "authz", "timeout_seconds": 1},
		"with_request_body": {"max_request_bytes": 4096, "allow_partial_message": true}
	}`))
	require.NoError(t, err)

	var authz envoy_filter_http_ext_authz_v3.ExtAuthz
	require.NoError(t, payload.UnmarshalTo(&authz))
	assert.Equal(t, "authz", authz.GetGrpcService().GetEnvoyGrpc().ClusterName)
	assert.Equal(t, int64(1), authz.GetGrpcService().Timeout.Seconds)
	assert.Equal(t, uint32(4096), authz.WithRequestBody.MaxRequestBytes)

	_, err = buildExtAuthz(json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires grpc_service or http_service")

	_, err = buildExtAuthz(json.RawMessage(`{
		"grpc_service": {"cluster": "a"},
		"http_service": {"cluster": "b"}
	}`))
	require.Error(t, err)
}

func TestLocalRateLimitBuild(t *testing.T) {
	payload, err := buildLocalRateLimit(json.RawMessage(`{
		"token_bucket": {"max_tokens": 100, "tokens_per_fill": 10, "fill_interval_ms": 250},
		"status_code": 429
	}`))
	require.NoError(t, err)

	var lrl envoy_filter_http_local_ratelimit_v3.LocalRateLimit
	require.NoError(t, payload.UnmarshalTo(&lrl))
	assert.Equal(t, "http_local_rate_limiter", lrl.StatPrefix)
	assert.Equal(t, uint32(100), lrl.TokenBucket.MaxTokens)
	assert.Equal(t, uint32(10), lrl.TokenBucket.TokensPerFill.GetValue())
	assert.Equal(t, 250*time.Millisecond, lrl.TokenBucket.FillInterval.AsDuration())
	assert.EqualValues(t, 100, lrl.FilterEnabled.DefaultValue.Numerator)
	assert.EqualValues(t, 100, lrl.FilterEnforced.DefaultValue.Numerator)
	assert.EqualValues(t, 429, lrl.Status.Code)

	_, err = buildLocalRateLimit(json.RawMessage(`{"token_bucket": {"max_tokens": 0, "fill_interval_ms": 100}}`))
	require.Error(t, err)

	_, err = buildLocalRateLimit(json.RawMessage(`{"token_bucket": {"max_tokens": 1, "fill_interval_ms": 100}, "status_code": 200}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an error status")
}

func TestCompressorBuild(t *testing.T) {
	payload, err := buildCompressor(json.RawMessage(`{
		"gzip": {"memory_level": 5, "window_bits": 12},
		"content_types": ["application/json"]
	}`))
	require.NoError(t, err)

	var comp envoy_filter_http_compressor_v3.Compressor
	require.NoError(t, payload.UnmarshalTo(&comp))
	assert.Equal(t, "envoy.compression.gzip.compressor", comp.CompressorLibrary.Name)
	assert.Equal(t, []string{"application/json"}, comp.ResponseDirectionConfig.CommonConfig.ContentType)

	_, err = buildCompressor(json.RawMessage(`{"gzip": {"memory_level": 10}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range [1,9]")

	_, err = buildCompressor(json.RawMessage(`{"gzip": {"window_bits": 8}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range [9,15]")
}

func TestHeaderMutationBuild(t *testing.T) {
	payload, err := buildHeaderMutation(json.RawMessage(`{
		"request_headers_to_add": [
			{"key": "x-env", "value": "prod"},
			{"key": "x-trace", "value": "on", "append": true}
		],
		"request_headers_to_remove": ["x-internal"],
		"response_headers_to_add": [{"key": "x-served-by", "value": "flowplane"}]
	}`))
	require.NoError(t, err)

	var hm envoy_filter_http_header_mutation_v3.HeaderMutation
	require.NoError(t, payload.UnmarshalTo(&hm))
	require.Len(t, hm.Mutations.RequestMutations, 3)
	assert.Equal(t, "x-env", hm.Mutations.RequestMutations[0].GetAppend().Header.Key)
	assert.Equal(t, "x-internal", hm.Mutations.RequestMutations[2].GetRemove())
	require.Len(t, hm.Mutations.ResponseMutations, 1)

	_, err = buildHeaderMutation(json.RawMessage(`{"request_headers_to_add": [{"key": "", "value": "v"}]}`))
	require.Error(t, err)

	_, err = buildHeaderMutation(json.RawMessage(`{"response_headers_to_remove": [""]}`))
	require.Error(t, err)
}

func TestRBACBuild(t *testing.T) {
	payload, err := buildRBAC(json.RawMessage(`{
		"action": "ALLOW",
		"policies": {
			"internal": {"principals": ["ip:10.0.0.0/8", "header:x-role=admin", "any"]}
		}
	}`))
	require.NoError(t, err)

	var rbac envoy_filter_http_rbac_v3.RBAC
	require.NoError(t, payload.UnmarshalTo(&rbac))
	assert.Equal(t, envoy_config_rbac_v3.RBAC_ALLOW, rbac.Rules.Action)
	policy := rbac.Rules.Policies["internal"]
	require.NotNil(t, policy)
	require.Len(t, policy.Principals, 3)
	assert.Equal(t, "10.0.0.0", policy.Principals[0].GetDirectRemoteIp().AddressPrefix)
	assert.EqualValues(t, 8, policy.Principals[0].GetDirectRemoteIp().PrefixLen.GetValue())
	assert.Equal(t, "x-role", policy.Principals[1].GetHeader().Name)
	assert.True(t, policy.Principals[2].GetAny())

	_, err = buildRBAC(json.RawMessage(`{"action": "AUDIT", "policies": {"p": {"principals": ["any"]}}}`))
	require.Error(t, err)

	_, err = buildRBAC(json.RawMessage(`{"action": "DENY", "policies": {"p": {"principals": ["ip:not-a-cidr"]}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a CIDR")
}

func TestCustomResponseValidation(t *testing.T) {
	good := `{"matchers": [{"status_code": 503, "body": "upstream down", "new_status_code": 200}]}`
	require.NoError(t, validateCustomResponse(json.RawMessage(good)))

	tests := map[string]string{
		"neither form":      `{}`,
		"both forms":        `{"matchers": [{"status_code": 500}], "custom_response_matcher": {}}`,
		"code and range":    `{"matchers": [{"status_code": 500, "status_range": {"min": 500, "max": 599}}]}`,
		"code out of range": `{"matchers": [{"status_code": 99}]}`,
		"inverted range":    `{"matchers": [{"status_range": {"min": 599, "max": 500}}]}`,
	}
	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			err := validateCustomResponse(json.RawMessage(config))
			require.Error(t, err)
			assert.True(t, apierror.IsValidation(err))
		})
	}
}

func TestOAuth2Validation(t *testing.T) {
	good := `{
		"token_endpoint": {"cluster": "idp", "uri": "https://idp.example.com/token"},
		"client_id": "flowplane",
		"token_secret_name": "oauth-token",
		"hmac_secret_name": "oauth-hmac"
	}`
	require.NoError(t, validateOAuth2(json.RawMessage(good)))

	err := validateOAuth2(json.RawMessage(`{"client_id": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_endpoint")
}

func TestWasmValidation(t *testing.T) {
	require.NoError(t, validateWasm(json.RawMessage(`{"name": "p", "code_base64": "AGFzbQEAAAA="}`)))

	err := validateWasm(json.RawMessage(`{"name": "p", "code_base64": "!!"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid base64")

	err = validateWasm(json.RawMessage(`{"code_base64": "AA=="}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a name")
}
