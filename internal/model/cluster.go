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

// Load balancing policy names accepted in cluster configuration. Unknown
// values fall back to round robin at compile time (with a log), so they are
// not rejected here.
const (
	LBRoundRobin      = "ROUND_ROBIN"
	LBLeastRequest    = "LEAST_REQUEST"
	LBRingHash        = "RING_HASH"
	LBMaglev          = "MAGLEV"
	LBRandom          = "RANDOM"
	LBClusterProvided = "CLUSTER_PROVIDED"
)

// Upstream protocol hints. HTTP2 and GRPC both install HTTP/2 typed
// extension protocol options on the compiled cluster.
const (
	ProtocolHTTP2 = "HTTP2"
	ProtocolGRPC  = "GRPC"
)

// Cluster is a stored upstream group.
type Cluster struct {
	ID          string
	Name        string
	ServiceName string
	Team        string
	Source      Source
	Version     int64
	Config      ClusterConfig
}

// ClusterConfig is the user-supplied cluster configuration.
type ClusterConfig struct {
	Endpoints             []Endpoint             `json:"endpoints"`
	LBPolicy              string                 `json:"lb_policy,omitempty"`
	ConnectTimeoutSeconds *uint32                `json:"connect_timeout_seconds,omitempty"`
	LeastRequest          *LeastRequestConfig    `json:"least_request,omitempty"`
	RingHash              *RingHashConfig        `json:"ring_hash,omitempty"`
	Maglev                *MaglevConfig          `json:"maglev,omitempty"`
	CircuitBreakers       *CircuitBreakersConfig `json:"circuit_breakers,omitempty"`
	HealthChecks          []HealthCheckConfig    `json:"health_checks,omitempty"`
	OutlierDetection      *OutlierDetection      `json:"outlier_detection,omitempty"`
	UseTLS                *bool                  `json:"use_tls,omitempty"`
	TLSServerName         string                 `json:"tls_server_name,omitempty"`
	DNSLookupFamily       string                 `json:"dns_lookup_family,omitempty"`
	ProtocolType          string                 `json:"protocol_type,omitempty"`
}

type LeastRequestConfig struct {
	ChoiceCount uint32 `json:"choice_count"`
}

type RingHashConfig struct {
	MinimumRingSize *uint64 `json:"minimum_ring_size,omitempty"`
	MaximumRingSize *uint64 `json:"maximum_ring_size,omitempty"`
	// HashFunction is XX_HASH or MURMUR_HASH_2.
	HashFunction string `json:"hash_function,omitempty"`
}

type MaglevConfig struct {
	TableSize *uint64 `json:"table_size,omitempty"`
}

// CircuitBreakersConfig carries the default and high priority thresholds.
type CircuitBreakersConfig struct {
	Default *CircuitBreakerThresholds `json:"default,omitempty"`
	High    *CircuitBreakerThresholds `json:"high,omitempty"`
}

type CircuitBreakerThresholds struct {
	MaxConnections     *uint32 `json:"max_connections,omitempty"`
	MaxPendingRequests *uint32 `json:"max_pending_requests,omitempty"`
	MaxRequests        *uint32 `json:"max_requests,omitempty"`
	MaxRetries         *uint32 `json:"max_retries,omitempty"`
}

// HealthCheckConfig is either an HTTP or a TCP health check.
type HealthCheckConfig struct {
	// Type is "http" or "tcp".
	Type               string   `json:"type"`
	Path               string   `json:"path,omitempty"`
	Host               string   `json:"host,omitempty"`
	IntervalSeconds    *uint32  `json:"interval_seconds,omitempty"`
	TimeoutSeconds     *uint32  `json:"timeout_seconds,omitempty"`
	HealthyThreshold   *uint32  `json:"healthy_threshold,omitempty"`
	UnhealthyThreshold *uint32  `json:"unhealthy_threshold,omitempty"`
	ExpectedStatuses   []uint32 `json:"expected_statuses,omitempty"`
}

type OutlierDetection struct {
	Consecutive5xx                 *uint32 `json:"consecutive_5xx,omitempty"`
	IntervalSeconds                *uint32 `json:"interval_seconds,omitempty"`
	BaseEjectionTimeSeconds        *uint32 `json:"base_ejection_time_seconds,omitempty"`
	MaxEjectionPercent             *uint32 `json:"max_ejection_percent,omitempty"`
	EnforcingConsecutive5xxPercent *uint32 `json:"enforcing_consecutive_5xx,omitempty"`
}

// WantsTLS reports whether the compiled cluster should carry an upstream
// TLS transport socket: either requested explicitly or implied by any
// endpoint listening on 443.
func (c *ClusterConfig) WantsTLS() bool {
	if c.UseTLS != nil {
		return *c.UseTLS
	}
	for _, ep := range c.Endpoints {
		if ep.Port == 443 {
			return true
		}
	}
	return false
}

// AllEndpointsAreIPs reports whether every endpoint host is an IP literal,
// which selects STATIC discovery.
func (c *ClusterConfig) AllEndpointsAreIPs() bool {
	for _, ep := range c.Endpoints {
		if !ep.IsIP() {
			return false
		}
	}
	return len(c.Endpoints) > 0
}

// Validate checks the cluster invariants from the data model.
func (c *Cluster) Validate() error {
	if err := requireName("cluster", c.Name); err != nil {
		return err
	}
	return c.Config.Validate()
}

func (c *ClusterConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return apierror.Validationf("cluster requires at least one endpoint")
	}
	for _, ep := range c.Endpoints {
		if ep.Host == "" || ep.Port == 0 {
			return apierror.Validationf("endpoint %q is incomplete", ep.String())
		}
	}

	switch c.ProtocolType {
	case "", ProtocolHTTP2, ProtocolGRPC:
	default:
		return apierror.Validationf("protocol_type %q is not supported", c.ProtocolType)
	}

	switch c.DNSLookupFamily {
	case "", "AUTO", "V4_ONLY", "V6_ONLY", "V4_PREFERRED", "ALL":
	default:
		return apierror.Validationf("dns_lookup_family %q is not supported", c.DNSLookupFamily)
	}

	if c.RingHash != nil && c.RingHash.HashFunction != "" {
		switch c.RingHash.HashFunction {
		case "XX_HASH", "MURMUR_HASH_2":
		default:
			return apierror.Validationf("ring_hash hash_function %q is not supported", c.RingHash.HashFunction)
		}
	}

	for _, hc := range c.HealthChecks {
		switch hc.Type {
		case "http":
			if hc.Path == "" {
				return apierror.Validationf("http health check requires a path")
			}
			for _, status := range hc.ExpectedStatuses {
				if status < 100 || status > 599 {
					return apierror.Validationf("health check expected status %d out of range", status)
				}
			}
		case "tcp":
		default:
			return apierror.Validationf("health check type %q is not supported", hc.Type)
		}
	}

	return nil
}
