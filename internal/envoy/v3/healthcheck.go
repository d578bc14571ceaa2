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

package v3

import (
	"time"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_type_v3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// Health check defaults applied when the model omits a value.
const (
	hcDefaultTimeout            = 2 * time.Second
	hcDefaultInterval           = 10 * time.Second
	hcDefaultUnhealthyThreshold = 3
	hcDefaultHealthyThreshold   = 2
	hcDefaultHost               = "flowplane-envoy-healthcheck"
)

func healthCheck(hc *model.HealthCheckConfig) *envoy_config_core_v3.HealthCheck {
	out := &envoy_config_core_v3.HealthCheck{
		Timeout:            secondsOrDefault(hc.TimeoutSeconds, hcDefaultTimeout),
		Interval:           secondsOrDefault(hc.IntervalSeconds, hcDefaultInterval),
		UnhealthyThreshold: thresholdOrDefault(hc.UnhealthyThreshold, hcDefaultUnhealthyThreshold),
		HealthyThreshold:   thresholdOrDefault(hc.HealthyThreshold, hcDefaultHealthyThreshold),
	}

	switch hc.Type {
	case "tcp":
		out.HealthChecker = &envoy_config_core_v3.HealthCheck_TcpHealthCheck_{
			TcpHealthCheck: &envoy_config_core_v3.HealthCheck_TcpHealthCheck{},
		}
	default:
		host := hc.Host
		if host == "" {
			host = hcDefaultHost
		}
		out.HealthChecker = &envoy_config_core_v3.HealthCheck_HttpHealthCheck_{
			HttpHealthCheck: &envoy_config_core_v3.HealthCheck_HttpHealthCheck{
				Path:             hc.Path,
				Host:             host,
				ExpectedStatuses: expectedStatuses(hc.ExpectedStatuses),
			},
		}
	}
	return out
}

// expectedStatuses converts each expected code into the half-open range
// [code, code+1) that Envoy requires.
func expectedStatuses(codes []uint32) []*envoy_type_v3.Int64Range {
	if len(codes) == 0 {
		return nil
	}
	var res []*envoy_type_v3.Int64Range
	for _, code := range codes {
		res = append(res, &envoy_type_v3.Int64Range{
			Start: int64(code),
			End:   int64(code) + 1,
		})
	}
	return res
}

func secondsOrDefault(seconds *uint32, def time.Duration) *durationpb.Duration {
	if seconds == nil || *seconds == 0 {
		return durationpb.New(def)
	}
	return durationpb.New(time.Duration(*seconds) * time.Second)
}

func thresholdOrDefault(val *uint32, def uint32) *wrapperspb.UInt32Value {
	if val == nil || *val == 0 {
		return protobuf.UInt32(def)
	}
	return protobuf.UInt32(*val)
}
