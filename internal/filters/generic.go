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

	udpa_type_v1 "github.com/cncf/xds/go/udpa/type/v1"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// jsonToStruct converts a raw JSON object into a protobuf Struct.
func jsonToStruct(raw json.RawMessage) (*structpb.Struct, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// typedStructBuilder returns a Build function that wraps the raw JSON
// config in a TypedStruct carrying the target proto type URL. Envoy
// resolves the struct against the real message at load time, so this path
// serves filter types without a compiled-in conversion.
func typedStructBuilder(typeURL string, validate func(json.RawMessage) error) func(json.RawMessage) (*anypb.Any, error) {
	return func(raw json.RawMessage) (*anypb.Any, error) {
		if validate != nil {
			if err := validate(raw); err != nil {
				return nil, err
			}
		}
		value, err := jsonToStruct(raw)
		if err != nil {
			return nil, apierror.Validationf("filter config does not parse: %s", err)
		}
		return protobuf.MustMarshalAny(&udpa_type_v1.TypedStruct{
			TypeUrl: typeURL,
			Value:   value,
		}), nil
	}
}

// NewSchemaDriven builds a schema for a user-registered filter type with
// no compiled-in conversion: configs pass through as TypedStruct.
func NewSchemaDriven(name, displayName, envoyName, typeURL string, points []model.AttachmentPoint, perRoute PerRouteBehavior) *Schema {
	build := typedStructBuilder(typeURL, nil)
	s := &Schema{
		Name:             name,
		DisplayName:      displayName,
		EnvoyName:        envoyName,
		AttachmentPoints: points,
		PerRoute:         perRoute,
		Build:            build,
	}
	if perRoute != PerRouteNotSupported {
		s.BuildPerRoute = build
	}
	return s
}

// customResponseConfig mirrors the accepted JSON for the custom response
// filter. Either matchers or the legacy custom_response_matcher form is
// allowed, never both.
type customResponseConfig struct {
	Matchers              []customResponseMatcher `json:"matchers,omitempty"`
	CustomResponseMatcher json.RawMessage         `json:"custom_response_matcher,omitempty"`
}

type customResponseMatcher struct {
	StatusCode    *uint32            `json:"status_code,omitempty"`
	StatusRange   *statusRange       `json:"status_range,omitempty"`
	Body          string             `json:"body,omitempty"`
	NewStatusCode *uint32            `json:"new_status_code,omitempty"`
	Headers       map[string]string  `json:"headers,omitempty"`
}

type statusRange struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

func customResponseSchema() *Schema {
	return &Schema{
		Name:             "custom_response",
		DisplayName:      "Custom Response",
		EnvoyName:        "envoy.filters.http.custom_response",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRoute:         PerRouteNotSupported,
		Validate:         validateCustomResponse,
		Build: typedStructBuilder(
			"type.googleapis.com/envoy.extensions.filters.http.custom_response.v3.CustomResponse",
			validateCustomResponse,
		),
	}
}

func validateCustomResponse(raw json.RawMessage) error {
	var cfg customResponseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("custom_response config does not parse: %s", err)
	}

	hasMatchers := len(cfg.Matchers) > 0
	hasLegacy := len(cfg.CustomResponseMatcher) > 0
	if hasMatchers == hasLegacy {
		return apierror.Validationf("custom_response requires exactly one of matchers or custom_response_matcher")
	}

	for _, m := range cfg.Matchers {
		if m.StatusCode != nil && m.StatusRange != nil {
			return apierror.Validationf("custom_response matcher sets both status_code and status_range")
		}
		if m.StatusCode != nil && !validStatus(*m.StatusCode) {
			return apierror.Validationf("custom_response status_code %d out of range [100,599]", *m.StatusCode)
		}
		if r := m.StatusRange; r != nil {
			if !validStatus(r.Min) || !validStatus(r.Max) {
				return apierror.Validationf("custom_response status_range [%d,%d] out of range [100,599]", r.Min, r.Max)
			}
			if r.Min > r.Max {
				return apierror.Validationf("custom_response status_range min %d exceeds max %d", r.Min, r.Max)
			}
		}
		if m.NewStatusCode != nil && !validStatus(*m.NewStatusCode) {
			return apierror.Validationf("custom_response new_status_code %d out of range [100,599]", *m.NewStatusCode)
		}
	}
	return nil
}

func validStatus(code uint32) bool {
	return code >= 100 && code <= 599
}

type oauth2Config struct {
	TokenEndpoint oauth2Endpoint `json:"token_endpoint"`
	ClientID      string         `json:"client_id"`
	// TokenSecretName and HMACSecretName reference stored generic secrets
	// delivered over SDS.
	TokenSecretName string   `json:"token_secret_name"`
	HMACSecretName  string   `json:"hmac_secret_name"`
	AuthScopes      []string `json:"auth_scopes,omitempty"`
	RedirectURI     string   `json:"redirect_uri,omitempty"`
}

type oauth2Endpoint struct {
	Cluster string `json:"cluster"`
	URI     string `json:"uri"`
}

func oauth2Schema() *Schema {
	return &Schema{
		Name:             "oauth2",
		DisplayName:      "OAuth2",
		EnvoyName:        "envoy.filters.http.oauth2",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener},
		PerRoute:         PerRouteNotSupported,
		Validate:         validateOAuth2,
		Build: typedStructBuilder(
			"type.googleapis.com/envoy.extensions.filters.http.oauth2.v3.OAuth2",
			validateOAuth2,
		),
	}
}

func validateOAuth2(raw json.RawMessage) error {
	var cfg oauth2Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("oauth2 config does not parse: %s", err)
	}
	if cfg.TokenEndpoint.Cluster == "" || cfg.TokenEndpoint.URI == "" {
		return apierror.Validationf("oauth2 requires a token_endpoint cluster and uri")
	}
	if cfg.ClientID == "" {
		return apierror.Validationf("oauth2 requires a client_id")
	}
	if cfg.TokenSecretName == "" || cfg.HMACSecretName == "" {
		return apierror.Validationf("oauth2 requires token and hmac secret names")
	}
	return nil
}

func mcpSchema() *Schema {
	return NewSchemaDriven(
		"mcp",
		"Model Context Protocol",
		"envoy.filters.http.mcp",
		"type.googleapis.com/envoy.extensions.filters.http.mcp.v3.Mcp",
		[]model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRouteNotSupported,
	)
}
