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

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_gzip_compressor_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/compression/gzip/compressor/v3"
	envoy_filter_http_compressor_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/compressor/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

type compressorConfig struct {
	Gzip         *gzipConfig `json:"gzip,omitempty"`
	ContentTypes []string    `json:"content_types,omitempty"`
}

type gzipConfig struct {
	MemoryLevel *uint32 `json:"memory_level,omitempty"`
	WindowBits  *uint32 `json:"window_bits,omitempty"`
}

type compressorPerRouteConfig struct {
	Disabled bool `json:"disabled"`
}

func compressorSchema() *Schema {
	return &Schema{
		Name:             "compressor",
		DisplayName:      "Response Compressor",
		EnvoyName:        "envoy.filters.http.compressor",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRoute:         PerRouteDisableOnly,
		Validate:         validateCompressor,
		Build:            buildCompressor,
		BuildPerRoute:    buildCompressorPerRoute,
	}
}

func validateCompressor(raw json.RawMessage) error {
	var cfg compressorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("compressor config does not parse: %s", err)
	}
	if cfg.Gzip == nil {
		return apierror.Validationf("compressor requires a gzip library configuration")
	}
	if ml := cfg.Gzip.MemoryLevel; ml != nil && (*ml < 1 || *ml > 9) {
		return apierror.Validationf("compressor gzip memory_level %d out of range [1,9]", *ml)
	}
	if wb := cfg.Gzip.WindowBits; wb != nil && (*wb < 9 || *wb > 15) {
		return apierror.Validationf("compressor gzip window_bits %d out of range [9,15]", *wb)
	}
	return nil
}

func buildCompressor(raw json.RawMessage) (*anypb.Any, error) {
	if err := validateCompressor(raw); err != nil {
		return nil, err
	}
	var cfg compressorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("compressor config does not parse: %s", err)
	}

	gz := &envoy_gzip_compressor_v3.Gzip{
		MemoryLevel: protobuf.UInt32PtrOrNil(cfg.Gzip.MemoryLevel),
		WindowBits:  protobuf.UInt32PtrOrNil(cfg.Gzip.WindowBits),
	}

	out := &envoy_filter_http_compressor_v3.Compressor{
		CompressorLibrary: &envoy_config_core_v3.TypedExtensionConfig{
			Name:        "envoy.compression.gzip.compressor",
			TypedConfig: protobuf.MustMarshalAny(gz),
		},
	}
	if len(cfg.ContentTypes) > 0 {
		out.ResponseDirectionConfig = &envoy_filter_http_compressor_v3.Compressor_ResponseDirectionConfig{
			CommonConfig: &envoy_filter_http_compressor_v3.Compressor_CommonDirectionConfig{
				ContentType: cfg.ContentTypes,
			},
		}
	}
	return protobuf.MustMarshalAny(out), nil
}

func buildCompressorPerRoute(raw json.RawMessage) (*anypb.Any, error) {
	var cfg compressorPerRouteConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("compressor per-route config does not parse: %s", err)
	}
	if !cfg.Disabled {
		return nil, apierror.Validationf("compressor per-route overrides support disabling only")
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_compressor_v3.CompressorPerRoute{
		Override: &envoy_filter_http_compressor_v3.CompressorPerRoute_Disabled{Disabled: true},
	}), nil
}
