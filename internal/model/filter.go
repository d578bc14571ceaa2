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
	"encoding/json"
	"strings"

	"github.com/flowplane/flowplane/internal/apierror"
)

// AttachmentPoint enumerates where a filter row may attach.
type AttachmentPoint string

const (
	AttachListener    AttachmentPoint = "listener"
	AttachRouteConfig AttachmentPoint = "route_config"
	AttachVirtualHost AttachmentPoint = "virtual_host"
	AttachRoute       AttachmentPoint = "route"
	AttachCluster     AttachmentPoint = "cluster"
)

// FilterRow is a stored HTTP filter configuration that may be attached to
// one or more resources.
type FilterRow struct {
	ID          string
	Name        string
	Team        string
	FilterType  string
	Config      json.RawMessage
	Version     int64
	Source      Source
	Attachments []FilterAttachment
}

// FilterAttachment binds a filter row to a target resource.
type FilterAttachment struct {
	Point    AttachmentPoint
	TargetID string
	// Order positions the filter relative to other rows attached to the
	// same target.
	Order int64
}

// CustomWasmPrefix marks pseudo filter types that reference a stored WASM
// binary by id: custom_wasm_<id>.
const CustomWasmPrefix = "custom_wasm_"

// IsCustomWasm reports whether the row uses the custom WASM pseudo-type,
// returning the referenced binary id.
func (f *FilterRow) IsCustomWasm() (string, bool) {
	if strings.HasPrefix(f.FilterType, CustomWasmPrefix) {
		return strings.TrimPrefix(f.FilterType, CustomWasmPrefix), true
	}
	return "", false
}

// Validate checks structural invariants only; type-specific configuration
// is validated by the filter registry.
func (f *FilterRow) Validate() error {
	if err := requireName("filter", f.Name); err != nil {
		return err
	}
	if f.FilterType == "" {
		return apierror.Validationf("filter %q requires a filter type", f.Name)
	}
	if len(f.Config) == 0 {
		return apierror.Validationf("filter %q requires a configuration body", f.Name)
	}
	if !json.Valid(f.Config) {
		return apierror.Validationf("filter %q configuration is not valid JSON", f.Name)
	}
	for _, a := range f.Attachments {
		switch a.Point {
		case AttachListener, AttachRouteConfig, AttachVirtualHost, AttachRoute, AttachCluster:
		default:
			return apierror.Validationf("filter %q attachment point %q is not supported", f.Name, a.Point)
		}
		if a.TargetID == "" {
			return apierror.Validationf("filter %q attachment requires a target", f.Name)
		}
	}
	return nil
}
