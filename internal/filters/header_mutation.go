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

	envoy_mutation_rules_v3 "github.com/envoyproxy/go-control-plane/envoy/config/common/mutation_rules/v3"
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_filter_http_header_mutation_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/header_mutation/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

type headerMutationConfig struct {
	RequestHeadersToAdd     []headerEntry `json:"request_headers_to_add,omitempty"`
	RequestHeadersToRemove []string      `json:"request_headers_to_remove,omitempty"`

	ResponseHeadersToAdd    []headerEntry `json:"response_headers_to_add,omitempty"`
	ResponseHeadersToRemove []string      `json:"response_headers_to_remove,omitempty"`
}

type headerEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	// Append appends to an existing header instead of overwriting it.
	Append bool `json:"append,omitempty"`
}

func headerMutationSchema() *Schema {
	return &Schema{
		Name:             "header_mutation",
		DisplayName:      "Header Mutation",
		EnvoyName:        "envoy.filters.http.header_mutation",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig, model.AttachVirtualHost, model.AttachRoute},
		PerRoute:         PerRouteFullConfig,
		Validate:         validateHeaderMutation,
		Build:            buildHeaderMutation,
		BuildPerRoute:    buildHeaderMutationPerRoute,
	}
}

func validateHeaderMutation(raw json.RawMessage) error {
	var cfg headerMutationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("header_mutation config does not parse: %s", err)
	}
	for _, entry := range append(append([]headerEntry{}, cfg.RequestHeadersToAdd...), cfg.ResponseHeadersToAdd...) {
		if entry.Key == "" {
			return apierror.Validationf("header_mutation header key must not be empty")
		}
	}
	for _, name := range append(append([]string{}, cfg.RequestHeadersToRemove...), cfg.ResponseHeadersToRemove...) {
		if name == "" {
			return apierror.Validationf("header_mutation remove entry must not be empty")
		}
	}
	return nil
}

func headerMutations(raw json.RawMessage) (*envoy_filter_http_header_mutation_v3.Mutations, error) {
	if err := validateHeaderMutation(raw); err != nil {
		return nil, err
	}
	var cfg headerMutationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("header_mutation config does not parse: %s", err)
	}

	out := &envoy_filter_http_header_mutation_v3.Mutations{}
	for _, entry := range cfg.RequestHeadersToAdd {
		out.RequestMutations = append(out.RequestMutations, appendMutation(entry))
	}
	for _, name := range cfg.RequestHeadersToRemove {
		out.RequestMutations = append(out.RequestMutations, removeMutation(name))
	}
	for _, entry := range cfg.ResponseHeadersToAdd {
		out.ResponseMutations = append(out.ResponseMutations, appendMutation(entry))
	}
	for _, name := range cfg.ResponseHeadersToRemove {
		out.ResponseMutations = append(out.ResponseMutations, removeMutation(name))
	}
	return out, nil
}

func buildHeaderMutation(raw json.RawMessage) (*anypb.Any, error) {
	mutations, err := headerMutations(raw)
	if err != nil {
		return nil, err
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_header_mutation_v3.HeaderMutation{
		Mutations: mutations,
	}), nil
}

func buildHeaderMutationPerRoute(raw json.RawMessage) (*anypb.Any, error) {
	mutations, err := headerMutations(raw)
	if err != nil {
		return nil, err
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_header_mutation_v3.HeaderMutationPerRoute{
		Mutations: mutations,
	}), nil
}

func appendMutation(entry headerEntry) *envoy_mutation_rules_v3.HeaderMutation {
	action := envoy_config_core_v3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD
	if entry.Append {
		action = envoy_config_core_v3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD
	}
	return &envoy_mutation_rules_v3.HeaderMutation{
		Action: &envoy_mutation_rules_v3.HeaderMutation_Append{
			Append: &envoy_config_core_v3.HeaderValueOption{
				Header: &envoy_config_core_v3.HeaderValue{
					Key:   entry.Key,
					Value: entry.Value,
				},
				AppendAction: action,
			},
		},
	}
}

func removeMutation(name string) *envoy_mutation_rules_v3.HeaderMutation {
	return &envoy_mutation_rules_v3.HeaderMutation{
		Action: &envoy_mutation_rules_v3.HeaderMutation_Remove{Remove: name},
	}
}
