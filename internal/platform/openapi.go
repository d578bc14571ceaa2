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

package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/authz"
	"github.com/flowplane/flowplane/internal/model"
)

// ImportInput carries one OpenAPI document into the materializer.
type ImportInput struct {
	Team string
	// Domain for the generated API definition; defaults to the first
	// server's hostname.
	Domain string
	// ListenerName optionally names the isolated listener.
	ListenerName string
	// SpecName defaults to the document's info.title.
	SpecName string
	Content  []byte
}

// openapiDocument is the subset of an OpenAPI 3.x document the importer
// reads. yaml.v3 parses both YAML and JSON bodies.
type openapiDocument struct {
	OpenAPI string `yaml:"openapi"`
	Info    struct {
		Title   string `yaml:"title"`
		Version string `yaml:"version"`
	} `yaml:"info"`
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
	Paths map[string]map[string]any `yaml:"paths"`
}

var openapiMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// ImportOpenAPI converts an OpenAPI document into an isolated API
// definition: every server becomes an upstream target and every path with
// at least one operation becomes a route load-balanced across all servers.
// The source document is persisted with its sha-256 checksum so a
// re-import can detect drift.
func (m *Materializer) ImportOpenAPI(ctx context.Context, actx *authz.AuthContext, in ImportInput) (*model.APIDefinition, *model.OpenAPIImport, error) {
	if len(in.Content) == 0 {
		return nil, nil, apierror.Validationf("openapi import requires a document body")
	}

	var doc openapiDocument
	if err := yaml.Unmarshal(in.Content, &doc); err != nil {
		return nil, nil, apierror.Validationf("openapi document does not parse: %s", err)
	}
	if len(doc.Servers) == 0 {
		return nil, nil, apierror.Validationf("openapi document declares no servers")
	}

	targets, firstHost, err := serverTargets(doc)
	if err != nil {
		return nil, nil, err
	}
	routes, err := pathRoutes(doc, targets)
	if err != nil {
		return nil, nil, err
	}

	domain := in.Domain
	if domain == "" {
		domain = firstHost
	}
	def := &model.APIDefinition{
		Team:              in.Team,
		Domain:            domain,
		Routes:            routes,
		ListenerIsolation: true,
	}
	if in.ListenerName != "" {
		def.IsolationListener = &model.IsolationListener{Name: in.ListenerName}
	}

	created, err := m.create(ctx, actx, def, model.SourceOpenAPIImport)
	if err != nil {
		return nil, nil, err
	}

	specName := in.SpecName
	if specName == "" {
		specName = doc.Info.Title
	}
	if specName == "" {
		specName = "openapi-" + model.ShortID(created.ID)
	}

	checksum := sha256.Sum256(in.Content)
	now := time.Now().UTC()
	record := &model.OpenAPIImport{
		SpecName:      specName,
		SpecVersion:   doc.Info.Version,
		SpecChecksum:  hex.EncodeToString(checksum[:]),
		Team:          in.Team,
		SourceContent: string(in.Content),
		ListenerName:  m.generatedListenerName(ctx, created),
		ImportedAt:    now,
		UpdatedAt:     now,
	}
	if err := record.Validate(); err != nil {
		return nil, nil, err
	}
	stored, err := m.repo.Imports().Create(ctx, record)
	if err != nil {
		return nil, nil, apierror.FromRepository(err, "openapi import", specName)
	}
	return created, stored, nil
}

func (m *Materializer) generatedListenerName(ctx context.Context, def *model.APIDefinition) string {
	if def.GeneratedListenerID == "" {
		return ""
	}
	listener, err := m.repo.Listeners().GetByID(ctx, def.GeneratedListenerID)
	if err != nil {
		return ""
	}
	return listener.Name
}

// serverTargets resolves every server URL into an upstream target,
// defaulting the port from the scheme.
func serverTargets(doc openapiDocument) ([]model.UpstreamTarget, string, error) {
	var targets []model.UpstreamTarget
	var firstHost string
	seen := map[string]bool{}
	for _, server := range doc.Servers {
		u, err := url.Parse(server.URL)
		if err != nil || u.Hostname() == "" {
			return nil, "", apierror.Validationf("openapi server url %q does not parse", server.URL)
		}

		port := u.Port()
		if port == "" {
			switch u.Scheme {
			case "https":
				port = "443"
			case "http":
				port = "80"
			default:
				return nil, "", apierror.Validationf("openapi server url %q has no port and an unknown scheme", server.URL)
			}
		}
		if firstHost == "" {
			firstHost = u.Hostname()
		}

		endpoint := u.Hostname() + ":" + port
		if seen[endpoint] {
			continue
		}
		seen[endpoint] = true
		targets = append(targets, model.UpstreamTarget{Endpoint: endpoint})
	}
	return targets, firstHost, nil
}

// pathRoutes emits one route per path that declares at least one
// operation, in lexical path order. Templated paths ({param} segments)
// become path-template matches.
func pathRoutes(doc openapiDocument, targets []model.UpstreamTarget) ([]model.APIRoute, error) {
	paths := make([]string, 0, len(doc.Paths))
	for path, item := range doc.Paths {
		if !hasOperation(item) {
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, apierror.Validationf("openapi document declares no operations")
	}
	sort.Strings(paths)

	routes := make([]model.APIRoute, 0, len(paths))
	for i, path := range paths {
		matchType := model.MatchExact
		if strings.Contains(path, "{") {
			matchType = model.MatchPathTemplate
		}
		routes = append(routes, model.APIRoute{
			MatchType:  matchType,
			MatchValue: path,
			Upstreams:  model.UpstreamTargets{Targets: targets},
			RouteOrder: int64(i),
		})
	}
	return routes, nil
}

func hasOperation(item map[string]any) bool {
	for key := range item {
		if openapiMethods[strings.ToLower(key)] {
			return true
		}
	}
	return false
}
