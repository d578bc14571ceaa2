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
	"time"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_filter_http_local_ratelimit_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	envoy_type_v3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

type localRateLimitConfig struct {
	StatPrefix  string          `json:"stat_prefix,omitempty"`
	TokenBucket tokenBucketSpec `json:"token_bucket"`
	StatusCode  *uint32         `json:"status_code,omitempty"`
}

type tokenBucketSpec struct {
	MaxTokens          uint32  `json:"max_tokens"`
	TokensPerFill      *uint32 `json:"tokens_per_fill,omitempty"`
	FillIntervalMillis uint64  `json:"fill_interval_ms"`
}

func localRateLimitSchema() *Schema {
	return &Schema{
		Name:             "local_rate_limit",
		DisplayName:      "Local Rate Limit",
		EnvoyName:        "envoy.filters.http.local_ratelimit",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig, model.AttachVirtualHost, model.AttachRoute},
		PerRoute:         PerRouteFullConfig,
		Validate:         validateLocalRateLimit,
		Build:            buildLocalRateLimit,
		BuildPerRoute:    buildLocalRateLimit,
	}
}

func validateLocalRateLimit(raw json.RawMessage) error {
	var cfg localRateLimitConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("local_rate_limit config does not parse: %s", err)
	}
	if cfg.TokenBucket.MaxTokens == 0 {
		return apierror.Validationf("local_rate_limit token_bucket requires max_tokens > 0")
	}
	if cfg.TokenBucket.FillIntervalMillis == 0 {
		return apierror.Validationf("local_rate_limit token_bucket requires fill_interval > 0")
	}
	if cfg.StatusCode != nil && (*cfg.StatusCode < 400 || *cfg.StatusCode > 599) {
		return apierror.Validationf("local_rate_limit status_code %d is not an error status", *cfg.StatusCode)
	}
	return nil
}

func buildLocalRateLimit(raw json.RawMessage) (*anypb.Any, error) {
	if err := validateLocalRateLimit(raw); err != nil {
		return nil, err
	}
	var cfg localRateLimitConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("local_rate_limit config does not parse: %s", err)
	}

	statPrefix := cfg.StatPrefix
	if statPrefix == "" {
		statPrefix = "http_local_rate_limiter"
	}

	out := &envoy_filter_http_local_ratelimit_v3.LocalRateLimit{
		StatPrefix: statPrefix,
		TokenBucket: &envoy_type_v3.TokenBucket{
			MaxTokens:     cfg.TokenBucket.MaxTokens,
			TokensPerFill: protobuf.UInt32PtrOrNil(cfg.TokenBucket.TokensPerFill),
			FillInterval:  durationpb.New(time.Duration(cfg.TokenBucket.FillIntervalMillis) * time.Millisecond),
		},
		// Without runtime keys the filter defaults to 0%: enabled but
		// enforcing nothing. Emit explicit 100% fractions instead.
		FilterEnabled:  fullRuntimePercent("local_rate_limit_enabled"),
		FilterEnforced: fullRuntimePercent("local_rate_limit_enforced"),
	}
	if cfg.StatusCode != nil {
		out.Status = &envoy_type_v3.HttpStatus{
			Code: envoy_type_v3.StatusCode(*cfg.StatusCode),
		}
	}
	return protobuf.MustMarshalAny(out), nil
}

func fullRuntimePercent(key string) *envoy_config_core_v3.RuntimeFractionalPercent {
	return &envoy_config_core_v3.RuntimeFractionalPercent{
		RuntimeKey: key,
		DefaultValue: &envoy_type_v3.FractionalPercent{
			Numerator:   100,
			Denominator: envoy_type_v3.FractionalPercent_HUNDRED,
		},
	}
}
