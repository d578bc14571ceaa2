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
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_transport_socket_tls_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"

	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// UpstreamTLSContext builds the client-side TLS context for a cluster.
// sni may be empty, in which case no server name is sent.
func UpstreamTLSContext(sni string) *envoy_transport_socket_tls_v3.UpstreamTlsContext {
	return &envoy_transport_socket_tls_v3.UpstreamTlsContext{
		CommonTlsContext: &envoy_transport_socket_tls_v3.CommonTlsContext{},
		Sni:              sni,
	}
}

// UpstreamTLSTransportSocket wraps the given TLS context in a transport
// socket suitable for a cluster.
func UpstreamTLSTransportSocket(tls *envoy_transport_socket_tls_v3.UpstreamTlsContext) *envoy_config_core_v3.TransportSocket {
	return &envoy_config_core_v3.TransportSocket{
		Name: "envoy.transport_sockets.tls",
		ConfigType: &envoy_config_core_v3.TransportSocket_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(tls),
		},
	}
}

// DownstreamTLSContext builds the server-side TLS context for a listener
// filter chain. Certificates and validation contexts are referenced by
// secret name and delivered over the aggregated discovery stream.
func DownstreamTLSContext(tls *model.DownstreamTLS) *envoy_transport_socket_tls_v3.DownstreamTlsContext {
	common := &envoy_transport_socket_tls_v3.CommonTlsContext{
		TlsCertificateSdsSecretConfigs: []*envoy_transport_socket_tls_v3.SdsSecretConfig{
			sdsSecretConfig(tls.CertificateSecret),
		},
		AlpnProtocols: tls.ALPNProtocols,
	}
	if tls.ValidationSecret != "" {
		common.ValidationContextType = &envoy_transport_socket_tls_v3.CommonTlsContext_ValidationContextSdsSecretConfig{
			ValidationContextSdsSecretConfig: sdsSecretConfig(tls.ValidationSecret),
		}
	}
	out := &envoy_transport_socket_tls_v3.DownstreamTlsContext{
		CommonTlsContext: common,
	}
	if tls.RequireClientCert {
		out.RequireClientCertificate = protobuf.Bool(true)
	}
	return out
}

// DownstreamTLSTransportSocket wraps the given TLS context in a transport
// socket suitable for a listener filter chain.
func DownstreamTLSTransportSocket(tls *envoy_transport_socket_tls_v3.DownstreamTlsContext) *envoy_config_core_v3.TransportSocket {
	return &envoy_config_core_v3.TransportSocket{
		Name: "envoy.transport_sockets.tls",
		ConfigType: &envoy_config_core_v3.TransportSocket_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(tls),
		},
	}
}

func sdsSecretConfig(name string) *envoy_transport_socket_tls_v3.SdsSecretConfig {
	return &envoy_transport_socket_tls_v3.SdsSecretConfig{
		Name:      name,
		SdsConfig: ADSConfigSource(),
	}
}
