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
	"encoding/base64"
	"encoding/json"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_filter_http_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/wasm/v3"
	envoy_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/wasm/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

const defaultWasmRuntime = "envoy.wasm.runtime.v8"

// wasmConfig is the standard WASM plugin description. Custom WASM rows
// (custom_wasm_<id>) are expanded into this shape by the materializer
// before conversion.
type wasmConfig struct {
	Name          string          `json:"name"`
	Runtime       string          `json:"runtime,omitempty"`
	CodeBase64    string          `json:"code_base64"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

func wasmSchema() *Schema {
	return &Schema{
		Name:             "wasm",
		DisplayName:      "WASM Plugin",
		EnvoyName:        "envoy.filters.http.wasm",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRoute:         PerRouteNotSupported,
		Validate:         validateWasm,
		Build:            buildWasm,
	}
}

func validateWasm(raw json.RawMessage) error {
	var cfg wasmConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("wasm config does not parse: %s", err)
	}
	if cfg.Name == "" {
		return apierror.Validationf("wasm plugin requires a name")
	}
	if cfg.CodeBase64 == "" {
		return apierror.Validationf("wasm plugin requires code_base64")
	}
	if _, err := base64.StdEncoding.DecodeString(cfg.CodeBase64); err != nil {
		return apierror.Validationf("wasm code is not valid base64")
	}
	return nil
}

func buildWasm(raw json.RawMessage) (*anypb.Any, error) {
	if err := validateWasm(raw); err != nil {
		return nil, err
	}
	var cfg wasmConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("wasm config does not parse: %s", err)
	}

	code, err := base64.StdEncoding.DecodeString(cfg.CodeBase64)
	if err != nil {
		return nil, apierror.Validationf("wasm code is not valid base64")
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = defaultWasmRuntime
	}

	plugin := &envoy_wasm_v3.PluginConfig{
		Name: cfg.Name,
		Vm: &envoy_wasm_v3.PluginConfig_VmConfig{
			VmConfig: &envoy_wasm_v3.VmConfig{
				Runtime: runtime,
				Code: &envoy_config_core_v3.AsyncDataSource{
					Specifier: &envoy_config_core_v3.AsyncDataSource_Local{
						Local: &envoy_config_core_v3.DataSource{
							Specifier: &envoy_config_core_v3.DataSource_InlineBytes{
								InlineBytes: code,
							},
						},
					},
				},
			},
		},
	}
	if len(cfg.Configuration) > 0 {
		pluginCfg, err := jsonToStruct(cfg.Configuration)
		if err != nil {
			return nil, apierror.Validationf("wasm plugin configuration does not parse: %s", err)
		}
		plugin.Configuration = protobuf.MustMarshalAny(pluginCfg)
	}

	return protobuf.MustMarshalAny(&envoy_filter_http_wasm_v3.Wasm{Config: plugin}), nil
}
