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

package model

import (
	"github.com/flowplane/flowplane/internal/apierror"
)

// Listener is a stored Envoy listener definition.
type Listener struct {
	ID       string
	Name     string
	Address  string
	Port     uint32
	Protocol string
	Team     string
	Source   Source
	Version  int64
	Config   ListenerConfig
}

type ListenerConfig struct {
	FilterChains []FilterChain `json:"filter_chains"`
}

// FilterChain is one Envoy filter chain: an ordered list of network
// filters plus an optional downstream TLS context.
type FilterChain struct {
	Name       string          `json:"name,omitempty"`
	Filters    []NetworkFilter `json:"filters"`
	TLSContext *DownstreamTLS  `json:"tls_context,omitempty"`
}

// NetworkFilter is a closed variant: exactly one of HTTPConnectionManager
// or TCPProxy is set.
type NetworkFilter struct {
	Name                  string                       `json:"name"`
	HTTPConnectionManager *HTTPConnectionManagerConfig `json:"http_connection_manager,omitempty"`
	TCPProxy              *TCPProxyConfig              `json:"tcp_proxy,omitempty"`
}

// HTTPConnectionManagerConfig configures an HCM network filter. Exactly one
// of RouteConfigName (RDS by name) or InlineRouteConfig may be set.
type HTTPConnectionManagerConfig struct {
	RouteConfigName   string           `json:"route_config_name,omitempty"`
	InlineRouteConfig *RouteConfigSpec `json:"inline_route_config,omitempty"`
	AccessLogPath     string           `json:"access_log_path,omitempty"`
	Tracing           *TracingConfig   `json:"tracing,omitempty"`
	// HTTPFilters names filter rows to install in declaration order;
	// rows attached through the filter tables are merged in as well.
	HTTPFilters []string `json:"http_filters,omitempty"`
}

type TracingConfig struct {
	ClientSamplingPercent  *float64 `json:"client_sampling,omitempty"`
	RandomSamplingPercent  *float64 `json:"random_sampling,omitempty"`
	OverallSamplingPercent *float64 `json:"overall_sampling,omitempty"`
}

type TCPProxyConfig struct {
	Cluster       string `json:"cluster"`
	AccessLogPath string `json:"access_log_path,omitempty"`
}

// DownstreamTLS references stored secrets by name via SDS.
type DownstreamTLS struct {
	CertificateSecret string   `json:"certificate_secret"`
	ValidationSecret  string   `json:"validation_secret,omitempty"`
	RequireClientCert bool     `json:"require_client_certificate,omitempty"`
	ALPNProtocols     []string `json:"alpn_protocols,omitempty"`
}

// Validate checks the listener invariants: a valid bind address, and for
// every filter chain exactly one route source per HCM.
func (l *Listener) Validate() error {
	if err := requireName("listener", l.Name); err != nil {
		return err
	}
	if l.Address == "" {
		return apierror.Validationf("listener %q requires a bind address", l.Name)
	}
	if l.Port == 0 || l.Port > 65535 {
		return apierror.Validationf("listener %q port %d out of range", l.Name, l.Port)
	}
	if len(l.Config.FilterChains) == 0 {
		return apierror.Validationf("listener %q requires at least one filter chain", l.Name)
	}
	for i, chain := range l.Config.FilterChains {
		if len(chain.Filters) == 0 {
			return apierror.Validationf("listener %q filter chain %d has no filters", l.Name, i)
		}
		for _, f := range chain.Filters {
			if err := f.validate(l.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *NetworkFilter) validate(listener string) error {
	switch {
	case f.HTTPConnectionManager != nil && f.TCPProxy != nil:
		return apierror.Validationf("listener %q filter %q sets both http_connection_manager and tcp_proxy", listener, f.Name)
	case f.HTTPConnectionManager != nil:
		hcm := f.HTTPConnectionManager
		if hcm.RouteConfigName != "" && hcm.InlineRouteConfig != nil {
			return apierror.Validationf("listener %q filter %q sets both route_config_name and inline_route_config", listener, f.Name)
		}
		if hcm.RouteConfigName == "" && hcm.InlineRouteConfig == nil {
			return apierror.Validationf("listener %q filter %q requires route_config_name or inline_route_config", listener, f.Name)
		}
		if hcm.InlineRouteConfig != nil {
			if err := hcm.InlineRouteConfig.Validate(); err != nil {
				return err
			}
		}
	case f.TCPProxy != nil:
		if f.TCPProxy.Cluster == "" {
			return apierror.Validationf("listener %q tcp_proxy filter requires a cluster", listener)
		}
	default:
		return apierror.Validationf("listener %q filter %q has no configuration", listener, f.Name)
	}
	return nil
}

// RouteConfigNames returns the set of RDS route config names referenced by
// any HCM in the listener, in first-seen order.
func (l *Listener) RouteConfigNames() []string {
	var names []string
	seen := map[string]bool{}
	for _, chain := range l.Config.FilterChains {
		for _, f := range chain.Filters {
			if f.HTTPConnectionManager == nil {
				continue
			}
			if name := f.HTTPConnectionManager.RouteConfigName; name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
