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

// Package repository defines the persistence interface the control plane
// core consumes, plus an in-memory implementation used by tests and by
// single-node deployments. The core is agnostic to the SQL dialect behind
// a production implementation; errors are reported with conventional
// "not found" / "already exists" messages that the facade translates.
package repository

import (
	"context"

	"github.com/flowplane/flowplane/internal/model"
)

// Store is the uniform CRUD shape shared by every entity kind.
//
// ListByTeams returns rows owned by any of the given teams; an empty team
// list returns no rows rather than all rows. Rows without a team are
// treated as shared defaults and included only when includeDefaults is
// set.
type Store[T any] interface {
	GetByID(ctx context.Context, id string) (T, error)
	GetByName(ctx context.Context, name string) (T, error)
	List(ctx context.Context) ([]T, error)
	ListByTeams(ctx context.Context, teams []string, includeDefaults bool) ([]T, error)
	Create(ctx context.Context, row T) (T, error)
	Update(ctx context.Context, row T) (T, error)
	Delete(ctx context.Context, id string) error
}

type (
	ClusterStore     = Store[*model.Cluster]
	RouteConfigStore = Store[*model.RouteConfig]
	ListenerStore    = Store[*model.Listener]
	SecretStore      = Store[*model.Secret]
	FilterStore      = Store[*model.FilterRow]
	ImportStore      = Store[*model.OpenAPIImport]
)

// DefinitionStore extends the uniform shape with the Platform API
// bookkeeping hooks.
type DefinitionStore interface {
	Store[*model.APIDefinition]

	// GetByDomain looks a definition up by (team, domain).
	GetByDomain(ctx context.Context, team, domain string) (*model.APIDefinition, error)

	// UpdateGeneratedListenerID records the id of the listener synthesised
	// for an isolated definition.
	UpdateGeneratedListenerID(ctx context.Context, id, listenerID string) error

	// UpdateGeneratedResourceIDs records the synthesised route and cluster
	// row ids so cleanup can find them later.
	UpdateGeneratedResourceIDs(ctx context.Context, id string, routeIDs, clusterIDs []string) error

	// UpdateBootstrapMetadata bumps the bootstrap revision and records the
	// team-scoped bootstrap URI.
	UpdateBootstrapMetadata(ctx context.Context, id, uri string, revision int64) error
}

// Repository aggregates the per-entity stores.
type Repository interface {
	Clusters() ClusterStore
	RouteConfigs() RouteConfigStore
	Listeners() ListenerStore
	Secrets() SecretStore
	Filters() FilterStore
	Definitions() DefinitionStore
	Imports() ImportStore

	// GetWasmBinary fetches a stored WASM module by id.
	GetWasmBinary(ctx context.Context, id string) ([]byte, error)
}
