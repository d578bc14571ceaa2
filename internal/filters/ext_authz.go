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
	envoy_filter_http_ext_authz_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_authz/v3"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

type extAuthzConfig struct {
	GRPCService *extAuthzGRPCService `json:"grpc_service,omitempty"`
	HTTPService *extAuthzHTTPService `json:"http_service,omitempty"`

	FailureModeAllow bool               `json:"failure_mode_allow,omitempty"`
	WithRequestBody  *extAuthzBufferCfg `json:"with_request_body,omitempty"`
}

type extAuthzGRPCService struct {
	Cluster        string  `json:"cluster"`
	TimeoutSeconds *uint32 `json:"timeout_seconds,omitempty"`
}

type extAuthzHTTPService struct {
	Cluster        string  `json:"cluster"`
	PathPrefix     string  `json:"path_prefix,omitempty"`
	TimeoutSeconds *uint32 `json:"timeout_seconds,omitempty"`
}

type extAuthzBufferCfg struct {
	MaxRequestBytes     uint32 `json:"max_request_bytes"`
	AllowPartialMessage bool   `json:"allow_partial_message,omitempty"`
}

type extAuthzPerRouteConfig struct {
	Disabled bool `json:"disabled"`
}

func extAuthzSchema() *Schema {
	return &Schema{
		Name:             "ext_authz",
		DisplayName:      "External Authorization",
		EnvoyName:        "envoy.filters.http.ext_authz",
		AttachmentPoints: []model.AttachmentPoint{model.AttachListener, model.AttachRouteConfig},
		PerRoute:         PerRouteDisableOnly,
		Validate:         validateExtAuthz,
		Build:            buildExtAuthz,
		BuildPerRoute:    buildExtAuthzPerRoute,
	}
}

func validateExtAuthz(raw json.RawMessage) error {
	var cfg extAuthzConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return apierror.Validationf("ext_authz config does not parse: %s", err)
	}
	switch {
	case cfg.GRPCService != nil && cfg.HTTPService != nil:
		return apierror.Validationf("ext_authz sets both grpc_service and http_service")
	case cfg.GRPCService != nil:
		if cfg.GRPCService.Cluster == "" {
			return apierror.Validationf("ext_authz grpc_service requires a cluster")
		}
	case cfg.HTTPService != nil:
		if cfg.HTTPService.Cluster == "" {
			return apierror.Validationf("ext_authz http_service requires a cluster")
		}
	default:
		return apierror.Validationf("ext_authz requires grpc_service or http_service")
	}
	return nil
}

func buildExtAuthz(raw json.RawMessage) (*anypb.Any, error) {
	if err := validateExtAuthz(raw); err != nil {
		return nil, err
	}
	var cfg extAuthzConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("ext_authz config does not parse: %s", err)
	}

	out := &envoy_filter_http_ext_authz_v3.ExtAuthz{
		TransportApiVersion: envoy_config_core_v3.ApiVersion_V3,
		FailureModeAllow:    cfg.FailureModeAllow,
	}

	if svc := cfg.GRPCService; svc != nil {
		out.Services = &envoy_filter_http_ext_authz_v3.ExtAuthz_GrpcService{
			GrpcService: &envoy_config_core_v3.GrpcService{
				TargetSpecifier: &envoy_config_core_v3.GrpcService_EnvoyGrpc_{
					EnvoyGrpc: &envoy_config_core_v3.GrpcService_EnvoyGrpc{
						ClusterName: svc.Cluster,
					},
				},
				Timeout: authzTimeout(svc.TimeoutSeconds),
			},
		}
	}
	if svc := cfg.HTTPService; svc != nil {
		out.Services = &envoy_filter_http_ext_authz_v3.ExtAuthz_HttpService{
			HttpService: &envoy_filter_http_ext_authz_v3.HttpService{
				ServerUri: &envoy_config_core_v3.HttpUri{
					Uri: svc.Cluster,
					HttpUpstreamType: &envoy_config_core_v3.HttpUri_Cluster{
						Cluster: svc.Cluster,
					},
					Timeout: authzTimeout(svc.TimeoutSeconds),
				},
				PathPrefix: svc.PathPrefix,
			},
		}
	}
	if body := cfg.WithRequestBody; body != nil {
		out.WithRequestBody = &envoy_filter_http_ext_authz_v3.BufferSettings{
			MaxRequestBytes:     body.MaxRequestBytes,
			AllowPartialMessage: body.AllowPartialMessage,
		}
	}
	return protobuf.MustMarshalAny(out), nil
}

func buildExtAuthzPerRoute(raw json.RawMessage) (*anypb.Any, error) {
	var cfg extAuthzPerRouteConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apierror.Validationf("ext_authz per-route config does not parse: %s", err)
	}
	if !cfg.Disabled {
		return nil, apierror.Validationf("ext_authz per-route overrides support disabling only")
	}
	return protobuf.MustMarshalAny(&envoy_filter_http_ext_authz_v3.ExtAuthzPerRoute{
		Override: &envoy_filter_http_ext_authz_v3.ExtAuthzPerRoute_Disabled{Disabled: true},
	}), nil
}

func authzTimeout(seconds *uint32) *durationpb.Duration {
	if seconds == nil {
		return durationpb.New(200 * time.Millisecond)
	}
	return durationpb.New(time.Duration(*seconds) * time.Second)
}
