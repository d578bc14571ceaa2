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

// Package v3 compiles the declarative resource model into Envoy v3 xDS
// protobuf messages. Every compiler is a deterministic function of its
// model input: compiling the same model twice yields byte-identical
// output, which the resource cache relies on for change detection.
package v3

import (
	"encoding/json"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"
)

// PerFilterConfig converts a map of raw per-route filter overrides (keyed
// by filter type name) into typed_per_filter_config entries keyed by the
// canonical envoy.filters.http.<name> convention. The filter registry
// supplies the implementation; passing it as a function keeps this package
// free of a dependency on the registry.
type PerFilterConfig func(overrides map[string]json.RawMessage) (map[string]*anypb.Any, error)

// EnvoyGen holds state shared across compile calls.
type EnvoyGen struct {
	log logrus.FieldLogger
}

func NewEnvoyGen(log logrus.FieldLogger) *EnvoyGen {
	return &EnvoyGen{log: log}
}

// ADSConfigSource returns the config source that points a resource at the
// aggregated discovery stream this process serves.
func ADSConfigSource() *envoy_config_core_v3.ConfigSource {
	return &envoy_config_core_v3.ConfigSource{
		ResourceApiVersion: envoy_config_core_v3.ApiVersion_V3,
		ConfigSourceSpecifier: &envoy_config_core_v3.ConfigSource_Ads{
			Ads: &envoy_config_core_v3.AggregatedConfigSource{},
		},
	}
}
