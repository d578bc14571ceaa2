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

package debug

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/fixture"
	"github.com/flowplane/flowplane/internal/httpsvc"
	"github.com/flowplane/flowplane/internal/protobuf"
	"github.com/flowplane/flowplane/internal/xdscache"
)

func TestCacheDump(t *testing.T) {
	log := fixture.NewTestLogger(t)
	cache := xdscache.NewCache(log)
	cache.Apply(resource_v3.ClusterType, map[string]*anypb.Any{
		"svc-a": protobuf.MustMarshalAny(&envoy_config_cluster_v3.Cluster{Name: "svc-a"}),
		"svc-b": protobuf.MustMarshalAny(&envoy_config_cluster_v3.Cluster{Name: "svc-b"}),
	})

	svc := &Service{
		Service: httpsvc.Service{FieldLogger: log},
		Cache:   cache,
	}
	svc.RegisterHandlers()

	rec := httptest.NewRecorder()
	svc.ServeMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/xds", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var dump cacheDump
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dump))
	assert.Equal(t, cache.VersionInfo(), dump.Version)
	assert.Equal(t, []string{"svc-a", "svc-b"}, dump.Resources[resource_v3.ClusterType])
	assert.Empty(t, dump.Resources[resource_v3.ListenerType])
}

func TestPprofRegistered(t *testing.T) {
	svc := &Service{
		Service: httpsvc.Service{FieldLogger: fixture.NewTestLogger(t)},
		Cache:   xdscache.NewCache(fixture.NewTestLogger(t)),
	}
	svc.RegisterHandlers()

	rec := httptest.NewRecorder()
	svc.ServeMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
