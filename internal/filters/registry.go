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

// Package filters converts stored HTTP filter rows into Envoy filter
// configuration: the registry maps filter type names to conversion
// functions, and the materializer assembles per-listener filter chains.
package filters

import (
	"encoding/json"
	"sort"
	"sync"

	http_connection_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/model"
)

// PerRouteBehavior describes how a filter type supports per-route
// overrides in typed_per_filter_config.
type PerRouteBehavior int

const (
	// PerRouteNotSupported rejects any per-route override.
	PerRouteNotSupported PerRouteBehavior = iota
	// PerRouteFullConfig serializes the full filter config per route.
	PerRouteFullConfig
	// PerRouteReferenceOnly serializes a reference into the listener-level
	// config, e.g. a JWT requirement name.
	PerRouteReferenceOnly
	// PerRouteDisableOnly only supports disabling the filter per route.
	PerRouteDisableOnly
)

// Schema describes one filter type: where it may attach, how per-route
// overrides behave, and how its JSON configuration compiles to protobuf.
type Schema struct {
	// Name is the filter type name used in stored rows, e.g. "cors".
	Name string
	// DisplayName is the human-readable name shown by listings.
	DisplayName string
	// EnvoyName is the canonical filter name, e.g. "envoy.filters.http.cors".
	EnvoyName string
	// AttachmentPoints lists where rows of this type may attach.
	AttachmentPoints []model.AttachmentPoint
	// PerRoute declares the override behavior.
	PerRoute PerRouteBehavior

	// Validate checks the user-facing JSON config. Total: returns a
	// typed validation error, never panics.
	Validate func(cfg json.RawMessage) error
	// Build compiles the config into the listener-level Any payload.
	Build func(cfg json.RawMessage) (*anypb.Any, error)
	// BuildPerRoute compiles a per-route override. Nil when PerRoute is
	// PerRouteNotSupported.
	BuildPerRoute func(cfg json.RawMessage) (*anypb.Any, error)
}

// AttachesTo reports whether the schema allows attachment at the point.
func (s *Schema) AttachesTo(point model.AttachmentPoint) bool {
	for _, p := range s.AttachmentPoints {
		if p == point {
			return true
		}
	}
	return false
}

// Registry holds filter schemas keyed by type name. Built-in schemas are
// installed at construction; user-defined schema-driven types may be
// registered afterwards.
type Registry struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	r := &Registry{
		log:     log,
		schemas: map[string]*Schema{},
	}
	for _, s := range builtinSchemas() {
		r.schemas[s.Name] = s
	}
	return r
}

// Register installs (or replaces) a schema.
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Name] = s
}

// Get returns the schema for the given filter type name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// ListAll returns every registered schema, ordered by type name.
func (r *Registry) ListAll() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateConfig validates a stored row's configuration against its type.
func (r *Registry) ValidateConfig(filterType string, cfg json.RawMessage) error {
	s, ok := r.Get(filterType)
	if !ok {
		return apierror.Validationf("filter type %q is not registered", filterType)
	}
	if s.Validate == nil {
		return nil
	}
	return s.Validate(cfg)
}

// BuildHTTPFilter compiles a row into an HCM HTTP filter entry.
func (r *Registry) BuildHTTPFilter(filterType string, cfg json.RawMessage) (*http_connection_manager_v3.HttpFilter, error) {
	s, ok := r.Get(filterType)
	if !ok {
		return nil, apierror.Validationf("filter type %q is not registered", filterType)
	}
	payload, err := s.Build(cfg)
	if err != nil {
		return nil, err
	}
	return &http_connection_manager_v3.HttpFilter{
		Name: s.EnvoyName,
		ConfigType: &http_connection_manager_v3.HttpFilter_TypedConfig{
			TypedConfig: payload,
		},
	}, nil
}

// PerFilterConfig converts raw per-route overrides keyed by filter type
// name into typed_per_filter_config entries keyed by the Envoy filter
// name. It satisfies the route compiler's conversion hook.
func (r *Registry) PerFilterConfig(overrides map[string]json.RawMessage) (map[string]*anypb.Any, error) {
	if len(overrides) == 0 {
		return nil, nil
	}

	out := make(map[string]*anypb.Any, len(overrides))
	for name, raw := range overrides {
		s, ok := r.Get(name)
		if !ok {
			return nil, apierror.Validationf("per-route override names unknown filter type %q", name)
		}
		if s.PerRoute == PerRouteNotSupported || s.BuildPerRoute == nil {
			return nil, apierror.Validationf("filter type %q does not support per-route overrides", name)
		}
		payload, err := s.BuildPerRoute(raw)
		if err != nil {
			return nil, err
		}
		out[s.EnvoyName] = payload
	}
	return out, nil
}
