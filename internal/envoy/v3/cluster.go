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

	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_upstream_http_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/upstreams/http/v3"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// defaultConnectTimeout applies when the model does not set one.
const defaultConnectTimeout = 5 * time.Second

func clusterDefaults() *envoy_config_cluster_v3.Cluster {
	return &envoy_config_cluster_v3.Cluster{
		ConnectTimeout: protobuf.Duration(defaultConnectTimeout),
		LbPolicy:       envoy_config_cluster_v3.Cluster_ROUND_ROBIN,
	}
}

// Cluster compiles a model cluster into an Envoy cluster. Discovery type is
// inferred from the endpoint set: all IP literals select STATIC, a single
// DNS name selects LOGICAL_DNS, several DNS names select STRICT_DNS.
func (e *EnvoyGen) Cluster(c *model.Cluster) *envoy_config_cluster_v3.Cluster {
	cfg := &c.Config
	cluster := clusterDefaults()
	cluster.Name = c.Name
	cluster.ClusterDiscoveryType = discoveryType(cfg)
	cluster.LoadAssignment = loadAssignment(c.Name, cfg.Endpoints)
	cluster.DnsLookupFamily = dnsLookupFamily(cfg.DNSLookupFamily)

	if cfg.ConnectTimeoutSeconds != nil {
		cluster.ConnectTimeout = durationpb.New(time.Duration(*cfg.ConnectTimeoutSeconds) * time.Second)
	}

	e.applyLbPolicy(cluster, cfg)

	if cb := cfg.CircuitBreakers; cb != nil {
		cluster.CircuitBreakers = circuitBreakers(cb)
	}

	for _, hc := range cfg.HealthChecks {
		cluster.HealthChecks = append(cluster.HealthChecks, healthCheck(&hc))
	}
	if len(cluster.HealthChecks) > 0 {
		cluster.IgnoreHealthOnHostRemoval = true
	}

	if od := cfg.OutlierDetection; od != nil {
		cluster.OutlierDetection = outlierDetection(od)
	}

	if cfg.WantsTLS() {
		cluster.TransportSocket = UpstreamTLSTransportSocket(
			UpstreamTLSContext(sniForCluster(cfg)),
		)
	}

	switch cfg.ProtocolType {
	case model.ProtocolHTTP2, model.ProtocolGRPC:
		cluster.TypedExtensionProtocolOptions = http2ProtocolOptions()
	}

	return cluster
}

func discoveryType(cfg *model.ClusterConfig) *envoy_config_cluster_v3.Cluster_Type {
	switch {
	case cfg.AllEndpointsAreIPs():
		return &envoy_config_cluster_v3.Cluster_Type{Type: envoy_config_cluster_v3.Cluster_STATIC}
	case len(cfg.Endpoints) == 1:
		return &envoy_config_cluster_v3.Cluster_Type{Type: envoy_config_cluster_v3.Cluster_LOGICAL_DNS}
	default:
		return &envoy_config_cluster_v3.Cluster_Type{Type: envoy_config_cluster_v3.Cluster_STRICT_DNS}
	}
}

func loadAssignment(name string, endpoints []model.Endpoint) *envoy_config_endpoint_v3.ClusterLoadAssignment {
	lbEndpoints := make([]*envoy_config_endpoint_v3.LbEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		lbEndpoints = append(lbEndpoints, &envoy_config_endpoint_v3.LbEndpoint{
			HostIdentifier: &envoy_config_endpoint_v3.LbEndpoint_Endpoint{
				Endpoint: &envoy_config_endpoint_v3.Endpoint{
					Address: SocketAddress(ep.Host, int(ep.Port)),
				},
			},
		})
	}
	return &envoy_config_endpoint_v3.ClusterLoadAssignment{
		ClusterName: name,
		Endpoints: []*envoy_config_endpoint_v3.LocalityLbEndpoints{{
			LbEndpoints: lbEndpoints,
		}},
	}
}

func (e *EnvoyGen) applyLbPolicy(cluster *envoy_config_cluster_v3.Cluster, cfg *model.ClusterConfig) {
	switch cfg.LBPolicy {
	case "", model.LBRoundRobin:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_ROUND_ROBIN
	case model.LBLeastRequest:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_LEAST_REQUEST
		if lr := cfg.LeastRequest; lr != nil && lr.ChoiceCount > 0 {
			cluster.LbConfig = &envoy_config_cluster_v3.Cluster_LeastRequestLbConfig_{
				LeastRequestLbConfig: &envoy_config_cluster_v3.Cluster_LeastRequestLbConfig{
					ChoiceCount: protobuf.UInt32(lr.ChoiceCount),
				},
			}
		}
	case model.LBRingHash:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_RING_HASH
		if rh := cfg.RingHash; rh != nil {
			lbConfig := &envoy_config_cluster_v3.Cluster_RingHashLbConfig{
				MinimumRingSize: protobuf.UInt64PtrOrNil(rh.MinimumRingSize),
				MaximumRingSize: protobuf.UInt64PtrOrNil(rh.MaximumRingSize),
			}
			if rh.HashFunction == "MURMUR_HASH_2" {
				lbConfig.HashFunction = envoy_config_cluster_v3.Cluster_RingHashLbConfig_MURMUR_HASH_2
			}
			cluster.LbConfig = &envoy_config_cluster_v3.Cluster_RingHashLbConfig_{
				RingHashLbConfig: lbConfig,
			}
		}
	case model.LBMaglev:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_MAGLEV
		if mg := cfg.Maglev; mg != nil && mg.TableSize != nil {
			cluster.LbConfig = &envoy_config_cluster_v3.Cluster_MaglevLbConfig_{
				MaglevLbConfig: &envoy_config_cluster_v3.Cluster_MaglevLbConfig{
					TableSize: protobuf.UInt64PtrOrNil(mg.TableSize),
				},
			}
		}
	case model.LBRandom:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_RANDOM
	case model.LBClusterProvided:
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_CLUSTER_PROVIDED
	default:
		e.log.WithField("lb_policy", cfg.LBPolicy).Warn("unknown lb policy, falling back to ROUND_ROBIN")
		cluster.LbPolicy = envoy_config_cluster_v3.Cluster_ROUND_ROBIN
	}
}

func circuitBreakers(cb *model.CircuitBreakersConfig) *envoy_config_cluster_v3.CircuitBreakers {
	out := &envoy_config_cluster_v3.CircuitBreakers{}
	if cb.Default != nil {
		out.Thresholds = append(out.Thresholds, thresholds(cb.Default, envoy_config_core_v3.RoutingPriority_DEFAULT))
	}
	if cb.High != nil {
		out.Thresholds = append(out.Thresholds, thresholds(cb.High, envoy_config_core_v3.RoutingPriority_HIGH))
	}
	return out
}

func thresholds(t *model.CircuitBreakerThresholds, priority envoy_config_core_v3.RoutingPriority) *envoy_config_cluster_v3.CircuitBreakers_Thresholds {
	return &envoy_config_cluster_v3.CircuitBreakers_Thresholds{
		Priority:           priority,
		MaxConnections:     protobuf.UInt32PtrOrNil(t.MaxConnections),
		MaxPendingRequests: protobuf.UInt32PtrOrNil(t.MaxPendingRequests),
		MaxRequests:        protobuf.UInt32PtrOrNil(t.MaxRequests),
		MaxRetries:         protobuf.UInt32PtrOrNil(t.MaxRetries),
	}
}

func outlierDetection(od *model.OutlierDetection) *envoy_config_cluster_v3.OutlierDetection {
	return &envoy_config_cluster_v3.OutlierDetection{
		Consecutive_5Xx:                    protobuf.UInt32PtrOrNil(od.Consecutive5xx),
		Interval:                           protobuf.SecondsOrNil(od.IntervalSeconds),
		BaseEjectionTime:                   protobuf.SecondsOrNil(od.BaseEjectionTimeSeconds),
		MaxEjectionPercent:                 protobuf.UInt32PtrOrNil(od.MaxEjectionPercent),
		EnforcingConsecutive_5Xx:           protobuf.UInt32PtrOrNil(od.EnforcingConsecutive5xxPercent),
	}
}

// sniForCluster returns the TLS server name: the configured override, or
// the first DNS-name endpoint host.
func sniForCluster(cfg *model.ClusterConfig) string {
	if cfg.TLSServerName != "" {
		return cfg.TLSServerName
	}
	for _, ep := range cfg.Endpoints {
		if !ep.IsIP() {
			return ep.Host
		}
	}
	return ""
}

func dnsLookupFamily(value string) envoy_config_cluster_v3.Cluster_DnsLookupFamily {
	switch value {
	case "V4_ONLY":
		return envoy_config_cluster_v3.Cluster_V4_ONLY
	case "V6_ONLY":
		return envoy_config_cluster_v3.Cluster_V6_ONLY
	case "V4_PREFERRED":
		return envoy_config_cluster_v3.Cluster_V4_PREFERRED
	case "ALL":
		return envoy_config_cluster_v3.Cluster_ALL
	}
	return envoy_config_cluster_v3.Cluster_AUTO
}

func http2ProtocolOptions() map[string]*anypb.Any {
	return map[string]*anypb.Any{
		"envoy.extensions.upstreams.http.v3.HttpProtocolOptions": protobuf.MustMarshalAny(
			&envoy_upstream_http_v3.HttpProtocolOptions{
				UpstreamProtocolOptions: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig_{
					ExplicitHttpConfig: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig{
						ProtocolConfig: &envoy_upstream_http_v3.HttpProtocolOptions_ExplicitHttpConfig_Http2ProtocolOptions{
							Http2ProtocolOptions: &envoy_config_core_v3.Http2ProtocolOptions{},
						},
					},
				},
			},
		),
	}
}
