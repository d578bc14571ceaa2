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
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apierror"
)

func TestParseEndpoint(t *testing.T) {
	tests := map[string]struct {
		in   string
		want Endpoint
		ok   bool
	}{
		"dns host":       {in: "svc.internal:8080", want: Endpoint{Host: "svc.internal", Port: 8080}, ok: true},
		"ipv4 host":      {in: "10.0.0.1:443", want: Endpoint{Host: "10.0.0.1", Port: 443}, ok: true},
		"ipv6 host":      {in: "[::1]:9000", want: Endpoint{Host: "::1", Port: 9000}, ok: true},
		"missing port":   {in: "svc.internal"},
		"empty host":     {in: ":8080"},
		"zero port":      {in: "svc.internal:0"},
		"port overflow":  {in: "svc.internal:70000"},
		"not numeric":    {in: "svc.internal:http"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseEndpoint(tc.in)
			if !tc.ok {
				assert.True(t, apierror.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.in, got.String())
		})
	}
}

func TestClusterValidate(t *testing.T) {
	valid := func() *Cluster {
		return &Cluster{
			Name: "backend",
			Config: ClusterConfig{
				Endpoints: []Endpoint{{Host: "10.0.0.1", Port: 8080}},
			},
		}
	}

	tests := map[string]struct {
		mutate  func(*Cluster)
		wantErr string
	}{
		"valid": {mutate: func(*Cluster) {}},
		"bad name": {
			mutate:  func(c *Cluster) { c.Name = "no spaces allowed" },
			wantErr: "must be a non-empty DNS-style name",
		},
		"no endpoints": {
			mutate:  func(c *Cluster) { c.Config.Endpoints = nil },
			wantErr: "at least one endpoint",
		},
		"bad protocol": {
			mutate:  func(c *Cluster) { c.Config.ProtocolType = "SPDY" },
			wantErr: "protocol_type",
		},
		"bad dns family": {
			mutate:  func(c *Cluster) { c.Config.DNSLookupFamily = "V5" },
			wantErr: "dns_lookup_family",
		},
		"bad hash function": {
			mutate:  func(c *Cluster) { c.Config.RingHash = &RingHashConfig{HashFunction: "CRC32"} },
			wantErr: "hash_function",
		},
		"http check without path": {
			mutate:  func(c *Cluster) { c.Config.HealthChecks = []HealthCheckConfig{{Type: "http"}} },
			wantErr: "requires a path",
		},
		"check status out of range": {
			mutate: func(c *Cluster) {
				c.Config.HealthChecks = []HealthCheckConfig{{Type: "http", Path: "/healthz", ExpectedStatuses: []uint32{99}}}
			},
			wantErr: "out of range",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.True(t, apierror.IsValidation(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestClusterConfigTLSAndDiscovery(t *testing.T) {
	explicit := false
	cfg := ClusterConfig{
		Endpoints: []Endpoint{{Host: "api.example.com", Port: 443}},
	}
	assert.True(t, cfg.WantsTLS(), "port 443 implies TLS")
	assert.False(t, cfg.AllEndpointsAreIPs())

	cfg.UseTLS = &explicit
	assert.False(t, cfg.WantsTLS(), "explicit use_tls wins over the port hint")

	static := ClusterConfig{Endpoints: []Endpoint{
		{Host: "10.0.0.1", Port: 80},
		{Host: "::1", Port: 80},
	}}
	assert.True(t, static.AllEndpointsAreIPs())
	assert.False(t, static.WantsTLS())
}

func TestRouteValidate(t *testing.T) {
	cluster := RouteAction{Cluster: &ClusterAction{Name: "backend"}}

	tests := map[string]struct {
		route   Route
		wantErr string
	}{
		"prefix match": {
			route: Route{MatchType: MatchPrefix, PathPattern: "/api", Action: cluster},
		},
		"regex compiles": {
			route: Route{MatchType: MatchRegex, PathPattern: `/api/v\d+`, Action: cluster},
		},
		"regex does not compile": {
			route:   Route{MatchType: MatchRegex, PathPattern: "/api/(", Action: cluster},
			wantErr: "does not compile",
		},
		"unknown match type": {
			route:   Route{MatchType: "Glob", PathPattern: "/api", Action: cluster},
			wantErr: "not supported",
		},
		"empty pattern": {
			route:   Route{MatchType: MatchExact, Action: cluster},
			wantErr: "requires a path pattern",
		},
		"no action": {
			route:   Route{MatchType: MatchPrefix, PathPattern: "/"},
			wantErr: "exactly one action",
		},
		"two actions": {
			route: Route{MatchType: MatchPrefix, PathPattern: "/", Action: RouteAction{
				Cluster:  &ClusterAction{Name: "backend"},
				Redirect: &RedirectAction{Host: "example.com"},
			}},
			wantErr: "exactly one action",
		},
		"redirect needs target": {
			route:   Route{MatchType: MatchPrefix, PathPattern: "/", Action: RouteAction{Redirect: &RedirectAction{}}},
			wantErr: "requires a host or a path",
		},
		"redirect bad code": {
			route: Route{MatchType: MatchPrefix, PathPattern: "/", Action: RouteAction{
				Redirect: &RedirectAction{Host: "example.com", Code: 200},
			}},
			wantErr: "not a redirect status",
		},
		"weighted needs entries": {
			route: Route{MatchType: MatchPrefix, PathPattern: "/", Action: RouteAction{
				WeightedClusters: &WeightedClustersAction{},
			}},
			wantErr: "at least one entry",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.route.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.True(t, apierror.IsValidation(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRouteConfigSpecRejectsDuplicates(t *testing.T) {
	vh := VirtualHost{
		Name:    "web",
		Domains: []string{"example.com"},
		Routes: []Route{
			{MatchType: MatchPrefix, PathPattern: "/", Action: RouteAction{Cluster: &ClusterAction{Name: "backend"}}},
		},
	}

	spec := RouteConfigSpec{VirtualHosts: []VirtualHost{vh, vh}}
	err := spec.Validate()
	require.True(t, apierror.IsValidation(err))
	assert.Contains(t, err.Error(), "duplicated")

	// Two unnamed routes with the same match collapse to the same
	// generated name.
	dup := vh
	dup.Routes = append(dup.Routes, dup.Routes[0])
	err = (&RouteConfigSpec{VirtualHosts: []VirtualHost{dup}}).Validate()
	require.True(t, apierror.IsValidation(err))
	assert.Contains(t, err.Error(), "duplicated")
}

func TestSortedRoutesOrdering(t *testing.T) {
	cluster := RouteAction{Cluster: &ClusterAction{Name: "backend"}}
	vh := VirtualHost{
		Name:    "web",
		Domains: []string{"example.com"},
		Routes: []Route{
			{Name: "zz", RuleOrder: 1, MatchType: MatchPrefix, PathPattern: "/z", Action: cluster},
			{Name: "aa", RuleOrder: 2, MatchType: MatchPrefix, PathPattern: "/a", Action: cluster},
			{Name: "mm", RuleOrder: 1, MatchType: MatchPrefix, PathPattern: "/m", Action: cluster},
		},
	}

	var got []string
	for _, r := range vh.SortedRoutes() {
		got = append(got, r.Name)
	}
	assert.Equal(t, []string{"mm", "zz", "aa"}, got, "rule order first, then name")
}

func TestSecretValidate(t *testing.T) {
	key80 := base64.StdEncoding.EncodeToString(make([]byte, 80))
	key79 := base64.StdEncoding.EncodeToString(make([]byte, 79))
	pem := base64.StdEncoding.EncodeToString([]byte("-----BEGIN CERTIFICATE-----"))

	tests := map[string]struct {
		secret  Secret
		wantErr string
	}{
		"tls certificate": {
			secret: Secret{Name: "edge-cert", Type: SecretTLSCertificate, Config: SecretConfig{
				TLSCertificate: &TLSCertificateConfig{CertificateChain: pem, PrivateKey: pem},
			}},
		},
		"tls certificate missing key": {
			secret: Secret{Name: "edge-cert", Type: SecretTLSCertificate, Config: SecretConfig{
				TLSCertificate: &TLSCertificateConfig{CertificateChain: pem},
			}},
			wantErr: "certificate chain and private key",
		},
		"generic bad base64": {
			secret: Secret{Name: "api-key", Type: SecretGeneric, Config: SecretConfig{
				Generic: &GenericSecretConfig{Data: "not base64!"},
			}},
			wantErr: "not valid base64",
		},
		"session ticket keys": {
			secret: Secret{Name: "stek", Type: SecretSessionTicketKeys, Config: SecretConfig{
				SessionTicketKeys: &SessionTicketKeysConfig{Keys: []string{key80}},
			}},
		},
		"session ticket key wrong length": {
			secret: Secret{Name: "stek", Type: SecretSessionTicketKeys, Config: SecretConfig{
				SessionTicketKeys: &SessionTicketKeysConfig{Keys: []string{key79}},
			}},
			wantErr: "exactly 80 bytes",
		},
		"unknown type": {
			secret:  Secret{Name: "mystery", Type: "Opaque"},
			wantErr: "not supported",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.secret.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.True(t, apierror.IsValidation(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestPlatformNames(t *testing.T) {
	id := "b1946ac9-2492-4d1f-aaaa-6a39b9d9f417"

	assert.Equal(t, "b1946ac92492", ShortID(id))
	assert.Equal(t, "platform-api-b1946ac92492", PlatformRouteConfigName(id))
	assert.Equal(t, "platform-b1946ac92492-api-example-com-443",
		PlatformClusterName(id, "api.example.com:443"))

	assert.Equal(t, "short", ShortID("short"))
}
