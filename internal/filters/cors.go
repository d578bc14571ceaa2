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
	"regexp"
	"strconv"
	"strings"

	envoy_filter_http_cors_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/cors/v3"
	envoy_matcher_v3 "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// maxCORSAge is the largest accepted max_age in seconds.
const maxCORSAge = 315576000000

var httpMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "OPTIONS": true, "CONNECT": true, "TRACE": true,
}

// headerNamePattern is the RFC 7230 token grammar.
var headerNamePattern = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// corsConfig is the user-facing CORS policy. The listener-level filter is
// an empty marker; the policy itself rides in typed_per_filter_config.
type corsConfig struct {
	AllowOrigins     []originMatcher `json:"allow_origins"`
	AllowMethods     []string        `json:"allow_methods,omitempty"`
	AllowHeaders     []string        `json:"allow_headers,omitempty"`
	ExposeHeaders    []string        `json:"expose_headers,omitempty"`
	MaxAgeSeconds    *uint64         `json:"max_age_seconds,omitempty"`
	AllowCredentials bool            `json:"allow_credentials,omitempty"`
}

// originMatcher is a closed variant: exactly one member set.
type originMatcher struct {
	Exact  string `json:"exact,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Regex  string `json:"regex,omitempty"`
}

func corsSchema() *Schema {
	return &Schema{
		Name:             "cors",
		DisplayName:      "CORS",
		EnvoyName:        "envoy.filters.http.cors",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig, model.AttachVirtualHost, model.AttachRoute},
		PerRoute:         PerRouteFullConfig,
		Validate:         validateCORS,
		Build: func(json.RawMessage) (*anypb.Any, error) {
			// The HCM-level filter is only a marker enabling per-route
			// policies.
			return protobuf.MustMarshalAny(&envoy_filter_http_cors_v3.Cors{}), nil
		},
		BuildPerRoute: buildCORSPolicy,
	}
}

func validateCORS(raw json.RawMessage) error {
	var cfg corsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("cors config does not parse: %s", err)
	}

	if len(cfg.AllowOrigins) == 0 {
		return apierror.Validationf("cors requires at least one allowed origin")
	}
	for _, origin := range cfg.AllowOrigins {
		set := 0
		if origin.Exact != "" {
			set++
		}
		if origin.Prefix != "" {
			set++
		}
		if origin.Regex != "" {
			set++
			if _, err := regexp.Compile(origin.Regex); err != nil {
				return apierror.Validationf("cors origin regex %q does not compile: %s", origin.Regex, err)
			}
		}
		if set != 1 {
			return apierror.Validationf("cors origin matcher requires exactly one of exact, prefix or regex")
		}
		if cfg.AllowCredentials && origin.Exact == "*" {
			return apierror.Validationf("cors cannot combine allow_credentials with a wildcard origin")
		}
	}

	for _, method := range cfg.AllowMethods {
		if !httpMethods[strings.ToUpper(method)] {
			return apierror.Validationf("cors allow_methods entry %q is not an HTTP method", method)
		}
	}
	for _, header := range append(append([]string{}, cfg.AllowHeaders...), cfg.ExposeHeaders...) {
		if !headerNamePattern.MatchString(header) {
			return apierror.Validationf("cors header name %q is not a valid header token", header)
		}
	}
	if cfg.MaxAgeSeconds != nil && *cfg.MaxAgeSeconds > maxCORSAge {
		return apierror.Validationf("cors max_age_seconds %d exceeds the maximum %d", *cfg.MaxAgeSeconds, maxCORSAge)
	}
	return nil
}

func buildCORSPolicy(raw json.RawMessage) (*anypb.Any, error) {
	if err := validateCORS(raw); err != nil {
		return nil, err
	}
	var cfg corsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("cors config does not parse: %s", err)
	}

	policy := &envoy_filter_http_cors_v3.CorsPolicy{
		AllowMethods:  strings.Join(cfg.AllowMethods, ","),
		AllowHeaders:  strings.Join(cfg.AllowHeaders, ","),
		ExposeHeaders: strings.Join(cfg.ExposeHeaders, ","),
	}
	for _, origin := range cfg.AllowOrigins {
		policy.AllowOriginStringMatch = append(policy.AllowOriginStringMatch, originStringMatcher(origin))
	}
	if cfg.MaxAgeSeconds != nil {
		policy.MaxAge = strconv.FormatUint(*cfg.MaxAgeSeconds, 10)
	}
	if cfg.AllowCredentials {
		policy.AllowCredentials = protobuf.Bool(true)
	}
	return protobuf.MustMarshalAny(policy), nil
}

func originStringMatcher(origin originMatcher) *envoy_matcher_v3.StringMatcher {
	switch {
	case origin.Prefix != "":
		return &envoy_matcher_v3.StringMatcher{
			MatchPattern: &envoy_matcher_v3.StringMatcher_Prefix{Prefix: origin.Prefix},
		}
	case origin.Regex != "":
		return &envoy_matcher_v3.StringMatcher{
			MatchPattern: &envoy_matcher_v3.StringMatcher_SafeRegex{
				SafeRegex: &envoy_matcher_v3.RegexMatcher{Regex: origin.Regex},
			},
		}
	default:
		return &envoy_matcher_v3.StringMatcher{
			MatchPattern: &envoy_matcher_v3.StringMatcher_Exact{Exact: origin.Exact},
		}
	}
}
