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

// Package model holds the in-memory typed representation of the declarative
// gateway configuration: listeners, route configurations, clusters, secrets,
// filters and the tenant entities that own them. Every type that crosses the
// operations facade carries a Validate method; validation is total and never
// panics.
package model

import (
	"net"
	"strconv"
	"strings"

	"github.com/flowplane/flowplane/internal/apierror"
)

// Source records which subsystem created a resource row.
type Source string

const (
	SourceNativeAPI     Source = "native_api"
	SourcePlatformAPI   Source = "platform_api"
	SourceOpenAPIImport Source = "openapi_import"
)

// Endpoint is a single upstream address in host:port form.
type Endpoint struct {
	Host string
	Port uint32
}

// ParseEndpoint splits a host:port string. The host may be a DNS name,
// an IPv4 address, or a bracketed IPv6 address.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, apierror.Validationf("endpoint %q must be host:port", s)
	}
	if host == "" {
		return Endpoint{}, apierror.Validationf("endpoint %q has an empty host", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, apierror.Validationf("endpoint %q has an invalid port", s)
	}
	return Endpoint{Host: host, Port: uint32(port)}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

// IsIP reports whether the endpoint host parses as an IP literal.
func (e Endpoint) IsIP() bool {
	return net.ParseIP(e.Host) != nil
}

func validName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func requireName(kind, name string) error {
	if !validName(name) {
		return apierror.Validationf("%s name %q must be a non-empty DNS-style name", kind, name)
	}
	return nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
