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
	"testing"

	envoy_filter_http_jwt_authn_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/jwt_authn/v3"
	envoy_filter_http_wasm_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/wasm/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/fixture"
	"github.com/flowplane/flowplane/internal/model"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(fixture.NewTestLogger(t))
}

func rdsListener(id, routeConfig string) *model.Listener {
	return &model.Listener{
		ID:      id,
		Name:    id,
		Address: "0.0.0.0",
		Port:    8080,
		Config: model.ListenerConfig{
			FilterChains: []model.FilterChain{{
				Filters: []model.NetworkFilter{{
					Name: "http",
					HTTPConnectionManager: &model.HTTPConnectionManagerConfig{
						RouteConfigName: routeConfig,
					},
				}},
			}},
		},
	}
}

func attachedTo(point model.AttachmentPoint, targetID string, order int64) []model.FilterAttachment {
	return []model.FilterAttachment{{Point: point, TargetID: targetID, Order: order}}
}

// Two JWT rows on one listener (one direct, one via the referenced route
// config) collapse into a single jwt_authn filter with both providers, an
// auto-populated requirement map, and a synthesized JWKS cluster.
func TestMaterializeMergesJWTRows(t *testing.T) {
	listener := rdsListener("lst-1", "routes-main")
	rows := []*model.FilterRow{
		{
			ID:         "row-1",
			Name:       "jwt-a",
			FilterType: JWTFilterType,
			Config: json.RawMessage(`{"providers": {
				"p1": {"issuer": "https://a", "remote_jwks": {"uri": "https://a.example.com/jwks", "cluster": "jwks_a"}}
			}}`),
			Attachments: attachedTo(model.AttachListener, "lst-1", 0),
		},
		{
			ID:         "row-2",
			Name:       "jwt-b",
			FilterType: JWTFilterType,
			Config: json.RawMessage(`{"providers": {
				"p2": {"issuer": "https://b", "local_jwks": {"inline_string": "{}"}}
			}}`),
			Attachments: attachedTo(model.AttachRouteConfig, "rc-1", 0),
		},
	}

	out, err := testRegistry(t).Materialize(MaterializeInput{
		Listener: listener,
		Rows:     rows,
		RouteConfigID: func(name string) (string, bool) {
			if name == "routes-main" {
				return "rc-1", true
			}
			return "", false
		},
		ClusterExists: func(string) bool { return false },
	})
	require.NoError(t, err)

	filters := out.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, "envoy.filters.http.jwt_authn", filters[0].Name)

	var authn envoy_filter_http_jwt_authn_v3.JwtAuthentication
	require.NoError(t, filters[0].GetTypedConfig().UnmarshalTo(&authn))
	require.Len(t, authn.Providers, 2)
	assert.Contains(t, authn.Providers, "p1")
	assert.Contains(t, authn.Providers, "p2")
	require.Len(t, authn.RequirementMap, 2)
	assert.Equal(t, "p1", authn.RequirementMap["p1"].GetProviderName())
	assert.Equal(t, "p2", authn.RequirementMap["p2"].GetProviderName())

	require.Len(t, out.JWKSClusters, 1)
	assert.Equal(t, "jwks_a", out.JWKSClusters[0].Name)
	assert.Equal(t, "a.example.com", out.JWKSClusters[0].Config.Endpoints[0].Host)
}

func TestMaterializeSkipsExistingJWKSCluster(t *testing.T) {
	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{{
		ID:         "row-1",
		Name:       "jwt-a",
		FilterType: JWTFilterType,
		Config: json.RawMessage(`{"providers": {
			"p1": {"remote_jwks": {"uri": "https://a.example.com/jwks", "cluster": "jwks_a"}}
		}}`),
		Attachments: attachedTo(model.AttachListener, "lst-1", 0),
	}}

	out, err := testRegistry(t).Materialize(MaterializeInput{
		Listener:      listener,
		Rows:          rows,
		ClusterExists: func(name string) bool { return name == "jwks_a" },
	})
	require.NoError(t, err)
	assert.Empty(t, out.JWKSClusters)
}

func TestMaterializeOrdersByAttachment(t *testing.T) {
	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{
		{
			ID:          "row-b",
			Name:        "limits",
			FilterType:  "local_rate_limit",
			Config:      json.RawMessage(`{"token_bucket": {"max_tokens": 10, "fill_interval_ms": 1000}}`),
			Attachments: attachedTo(model.AttachListener, "lst-1", 2),
		},
		{
			ID:          "row-a",
			Name:        "cors",
			FilterType:  "cors",
			Config:      json.RawMessage(`{"allow_origins": [{"exact": "https://app.example.com"}]}`),
			Attachments: attachedTo(model.AttachListener, "lst-1", 1),
		},
	}

	out, err := testRegistry(t).Materialize(MaterializeInput{Listener: listener, Rows: rows})
	require.NoError(t, err)

	filters := out.Filters()
	require.Len(t, filters, 2)
	assert.Equal(t, "envoy.filters.http.cors", filters[0].Name)
	assert.Equal(t, "envoy.filters.http.local_ratelimit", filters[1].Name)
}

func TestMaterializeDeduplicatesRows(t *testing.T) {
	listener := rdsListener("lst-1", "routes-main")
	rows := []*model.FilterRow{{
		ID:         "row-1",
		Name:       "cors",
		FilterType: "cors",
		Config:     json.RawMessage(`{"allow_origins": [{"exact": "https://app.example.com"}]}`),
		Attachments: []model.FilterAttachment{
			{Point: model.AttachListener, TargetID: "lst-1", Order: 0},
			{Point: model.AttachRouteConfig, TargetID: "rc-1", Order: 0},
		},
	}}

	out, err := testRegistry(t).Materialize(MaterializeInput{
		Listener:      listener,
		Rows:          rows,
		RouteConfigID: func(string) (string, bool) { return "rc-1", true },
	})
	require.NoError(t, err)
	assert.Len(t, out.Filters(), 1)
}

func TestMaterializeExpandsCustomWasm(t *testing.T) {
	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{{
		ID:          "row-1",
		Name:        "my-plugin",
		FilterType:  model.CustomWasmPrefix + "bin-7",
		Config:      json.RawMessage(`{"configuration": {"mode": "audit"}}`),
		Attachments: attachedTo(model.AttachListener, "lst-1", 0),
	}}

	binary := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out, err := testRegistry(t).Materialize(MaterializeInput{
		Listener: listener,
		Rows:     rows,
		WasmBinary: func(id string) ([]byte, error) {
			require.Equal(t, "bin-7", id)
			return binary, nil
		},
	})
	require.NoError(t, err)

	filters := out.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, "envoy.filters.http.wasm", filters[0].Name)

	var wasm envoy_filter_http_wasm_v3.Wasm
	require.NoError(t, filters[0].GetTypedConfig().UnmarshalTo(&wasm))
	assert.Equal(t, "my-plugin", wasm.Config.Name)
	assert.Equal(t, binary, wasm.Config.GetVmConfig().Code.GetLocal().GetInlineBytes())
}

func TestMaterializeSkipsPerRouteOnlyFilters(t *testing.T) {
	registry := testRegistry(t)
	registry.Register(&Schema{
		Name:             "route-only",
		EnvoyName:        "envoy.filters.http.route_only",
		AttachmentPoints: []model.AttachmentPoint{model.AttachRoute},
		PerRoute:         PerRouteFullConfig,
	})

	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{{
		ID:          "row-1",
		Name:        "scoped",
		FilterType:  "route-only",
		Config:      json.RawMessage(`{}`),
		Attachments: attachedTo(model.AttachListener, "lst-1", 0),
	}}

	out, err := registry.Materialize(MaterializeInput{Listener: listener, Rows: rows})
	require.NoError(t, err)
	assert.Empty(t, out.Filters())
}

func TestMaterializeSourceDeclaredNamesFirst(t *testing.T) {
	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{
		{
			ID:          "row-1",
			Name:        "cors",
			FilterType:  "cors",
			Config:      json.RawMessage(`{"allow_origins": [{"exact": "https://app.example.com"}]}`),
			Attachments: attachedTo(model.AttachListener, "lst-1", 0),
		},
		{
			ID:          "row-2",
			Name:        "limits",
			FilterType:  "local_rate_limit",
			Config:      json.RawMessage(`{"token_bucket": {"max_tokens": 10, "fill_interval_ms": 1000}}`),
			Attachments: attachedTo(model.AttachListener, "lst-1", 1),
		},
	}

	out, err := testRegistry(t).Materialize(MaterializeInput{Listener: listener, Rows: rows})
	require.NoError(t, err)

	ordered, err := out.Source([]string{"limits"})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "envoy.filters.http.local_ratelimit", ordered[0].Name)
	assert.Equal(t, "envoy.filters.http.cors", ordered[1].Name)

	_, err = out.Source([]string{"missing"})
	require.Error(t, err)
}

func TestMaterializeUnknownFilterType(t *testing.T) {
	listener := rdsListener("lst-1", "")
	rows := []*model.FilterRow{{
		ID:          "row-1",
		Name:        "mystery",
		FilterType:  "no-such-type",
		Config:      json.RawMessage(`{}`),
		Attachments: attachedTo(model.AttachListener, "lst-1", 0),
	}}

	_, err := testRegistry(t).Materialize(MaterializeInput{Listener: listener, Rows: rows})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered type")
}
