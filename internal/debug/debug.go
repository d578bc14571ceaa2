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

// Package debug provides the pprof endpoint and a read-only dump of the
// xDS cache state.
package debug

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"

	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"

	"github.com/flowplane/flowplane/internal/httpsvc"
	"github.com/flowplane/flowplane/internal/xdscache"
)

// Service serves various debug endpoints including /debug/pprof and
// /debug/xds.
type Service struct {
	httpsvc.Service

	Cache *xdscache.Cache
}

// RegisterHandlers installs the debug routes on the service mux. Call once
// before Start.
func (svc *Service) RegisterHandlers() {
	svc.ServeMux.HandleFunc("/debug/pprof/", pprof.Index)
	svc.ServeMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	svc.ServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	svc.ServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	svc.ServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	svc.ServeMux.HandleFunc("/debug/xds", svc.writeCacheDump)
}

// cacheDump is the /debug/xds response body: the current cache version and
// the resource names held per type.
type cacheDump struct {
	Version   string              `json:"version"`
	Resources map[string][]string `json:"resources"`
}

func (svc *Service) writeCacheDump(w http.ResponseWriter, _ *http.Request) {
	dump := cacheDump{
		Version:   svc.Cache.VersionInfo(),
		Resources: map[string][]string{},
	}
	for _, typeURL := range []string{
		resource_v3.ClusterType,
		resource_v3.RouteType,
		resource_v3.ListenerType,
		resource_v3.SecretType,
	} {
		dump.Resources[typeURL] = svc.Cache.Names(typeURL)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dump); err != nil {
		svc.WithError(err).Error("failed to write cache dump")
	}
}
