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

// Package xds implements the aggregated discovery service that delivers
// compiled resources to Envoy.
package xds

import (
	"time"

	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// NewAPIServer returns a gRPC server wired with Prometheus interceptors
// and keepalive settings suitable for long-lived discovery streams.
func NewAPIServer(registry *prometheus.Registry, opts ...grpc.ServerOption) *grpc.Server {
	grpcMetrics := grpc_prometheus.NewServerMetrics()
	registry.MustRegister(grpcMetrics)

	opts = append(opts,
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpcMetrics.StreamServerInterceptor(),
		)),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpcMetrics.UnaryServerInterceptor(),
		)),
		// Envoy holds one stream open for the lifetime of the process;
		// keepalives detect half-open connections after network failures.
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	return grpc.NewServer(opts...)
}

// RegisterServer registers the aggregated discovery service on g.
func RegisterServer(srv envoy_service_discovery_v3.AggregatedDiscoveryServiceServer, g *grpc.Server) {
	envoy_service_discovery_v3.RegisterAggregatedDiscoveryServiceServer(g, srv)
}
