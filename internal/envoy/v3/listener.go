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
	"fmt"

	envoy_config_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_filter_http_router_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	http_connection_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	envoy_tcp_proxy_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/tcp_proxy/v3"
	envoy_type_v3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/pkg/errors"

	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/protobuf"
)

// RouterFilterName is the terminal HTTP filter every connection manager
// filter chain must end with.
const RouterFilterName = "envoy.filters.http.router"

// HTTPFilterSource materializes the named filter rows (plus any rows
// attached to the listener) into compiled HTTP filters, in install order
// and without the terminal router. The filter registry supplies the
// implementation; a nil source yields a router-only chain.
type HTTPFilterSource func(names []string) ([]*http_connection_manager_v3.HttpFilter, error)

// Listener compiles a model listener into an Envoy listener.
func (e *EnvoyGen) Listener(l *model.Listener, filterSource HTTPFilterSource, perFilter PerFilterConfig) (*envoy_config_listener_v3.Listener, error) {
	out := &envoy_config_listener_v3.Listener{
		Name:    l.Name,
		Address: SocketAddress(l.Address, int(l.Port)),
	}
	for i := range l.Config.FilterChains {
		chain, err := e.filterChain(l, &l.Config.FilterChains[i], i, filterSource, perFilter)
		if err != nil {
			return nil, errors.Wrapf(err, "listener %q", l.Name)
		}
		out.FilterChains = append(out.FilterChains, chain)
	}
	return out, nil
}

func (e *EnvoyGen) filterChain(l *model.Listener, fc *model.FilterChain, index int, filterSource HTTPFilterSource, perFilter PerFilterConfig) (*envoy_config_listener_v3.FilterChain, error) {
	out := &envoy_config_listener_v3.FilterChain{
		Name: fc.Name,
	}
	if out.Name == "" {
		out.Name = fmt.Sprintf("%s-chain-%d", l.Name, index)
	}

	for _, nf := range fc.Filters {
		var compiled *envoy_config_listener_v3.Filter
		var err error
		switch {
		case nf.HTTPConnectionManager != nil:
			compiled, err = e.httpConnectionManager(l, &nf, filterSource, perFilter)
		case nf.TCPProxy != nil:
			compiled = tcpProxy(l.Name, nf.TCPProxy)
		}
		if err != nil {
			return nil, err
		}
		out.Filters = append(out.Filters, compiled)
	}

	if fc.TLSContext != nil {
		out.TransportSocket = DownstreamTLSTransportSocket(DownstreamTLSContext(fc.TLSContext))
	}
	return out, nil
}

func (e *EnvoyGen) httpConnectionManager(l *model.Listener, nf *model.NetworkFilter, filterSource HTTPFilterSource, perFilter PerFilterConfig) (*envoy_config_listener_v3.Filter, error) {
	cfg := nf.HTTPConnectionManager
	hcm := &http_connection_manager_v3.HttpConnectionManager{
		StatPrefix: statPrefix(l.Name, nf.Name),
		AccessLog:  FileAccessLogEnvoy(cfg.AccessLogPath),
	}

	switch {
	case cfg.RouteConfigName != "":
		hcm.RouteSpecifier = &http_connection_manager_v3.HttpConnectionManager_Rds{
			Rds: &http_connection_manager_v3.Rds{
				RouteConfigName: cfg.RouteConfigName,
				ConfigSource:    ADSConfigSource(),
			},
		}
	case cfg.InlineRouteConfig != nil:
		rc, err := e.RouteConfigurationFromSpec(statPrefix(l.Name, nf.Name), cfg.InlineRouteConfig, perFilter)
		if err != nil {
			return nil, err
		}
		hcm.RouteSpecifier = &http_connection_manager_v3.HttpConnectionManager_RouteConfig{
			RouteConfig: rc,
		}
	}

	if t := cfg.Tracing; t != nil {
		hcm.Tracing = tracing(t)
	}

	var filters []*http_connection_manager_v3.HttpFilter
	if filterSource != nil {
		var err error
		filters, err = filterSource(cfg.HTTPFilters)
		if err != nil {
			return nil, err
		}
	}
	hcm.HttpFilters = EnsureRouterLast(filters)

	return &envoy_config_listener_v3.Filter{
		Name: "envoy.filters.network.http_connection_manager",
		ConfigType: &envoy_config_listener_v3.Filter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(hcm),
		},
	}, nil
}

// EnsureRouterLast returns the filter chain with the terminal router filter
// present exactly once, in last position. Any router placed earlier by the
// caller is moved to the end.
func EnsureRouterLast(filters []*http_connection_manager_v3.HttpFilter) []*http_connection_manager_v3.HttpFilter {
	out := make([]*http_connection_manager_v3.HttpFilter, 0, len(filters)+1)
	for _, f := range filters {
		if f == nil || f.Name == RouterFilterName {
			continue
		}
		out = append(out, f)
	}
	return append(out, routerFilter())
}

func routerFilter() *http_connection_manager_v3.HttpFilter {
	return &http_connection_manager_v3.HttpFilter{
		Name: RouterFilterName,
		ConfigType: &http_connection_manager_v3.HttpFilter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(&envoy_filter_http_router_v3.Router{}),
		},
	}
}

func tcpProxy(listenerName string, cfg *model.TCPProxyConfig) *envoy_config_listener_v3.Filter {
	proxy := &envoy_tcp_proxy_v3.TcpProxy{
		StatPrefix: statPrefix(listenerName, "tcp"),
		ClusterSpecifier: &envoy_tcp_proxy_v3.TcpProxy_Cluster{
			Cluster: cfg.Cluster,
		},
		AccessLog: FileAccessLogEnvoy(cfg.AccessLogPath),
	}
	return &envoy_config_listener_v3.Filter{
		Name: "envoy.filters.network.tcp_proxy",
		ConfigType: &envoy_config_listener_v3.Filter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(proxy),
		},
	}
}

func tracing(t *model.TracingConfig) *http_connection_manager_v3.HttpConnectionManager_Tracing {
	out := &http_connection_manager_v3.HttpConnectionManager_Tracing{}
	if t.ClientSamplingPercent != nil {
		out.ClientSampling = percent(*t.ClientSamplingPercent)
	}
	if t.RandomSamplingPercent != nil {
		out.RandomSampling = percent(*t.RandomSamplingPercent)
	}
	if t.OverallSamplingPercent != nil {
		out.OverallSampling = percent(*t.OverallSamplingPercent)
	}
	return out
}

func percent(v float64) *envoy_type_v3.Percent {
	return &envoy_type_v3.Percent{Value: v}
}

func statPrefix(listenerName, filterName string) string {
	if filterName == "" {
		return listenerName
	}
	return fmt.Sprintf("%s/%s", listenerName, filterName)
}
