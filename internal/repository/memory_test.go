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

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/model"
)

func testCluster(name, team string) *model.Cluster {
	return &model.Cluster{
		Name: name,
		Team: team,
		Config: model.ClusterConfig{
			Endpoints: []model.Endpoint{{Host: "10.0.0.1", Port: 8080}},
		},
	}
}

func TestInMemoryCreateAssignsID(t *testing.T) {
	repo := NewInMemory()
	created, err := repo.Clusters().Create(context.Background(), testCluster("svc", "payments"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := repo.Clusters().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "svc", got.Name)
}

func TestInMemoryCreateDuplicateName(t *testing.T) {
	repo := NewInMemory()
	_, err := repo.Clusters().Create(context.Background(), testCluster("svc", "payments"))
	require.NoError(t, err)

	_, err = repo.Clusters().Create(context.Background(), testCluster("svc", "other"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInMemoryGetByNameNotFound(t *testing.T) {
	repo := NewInMemory()
	_, err := repo.Clusters().GetByName(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInMemoryUpdateBumpsVersion(t *testing.T) {
	repo := NewInMemory()
	created, err := repo.Clusters().Create(context.Background(), testCluster("svc", "payments"))
	require.NoError(t, err)
	require.Equal(t, int64(0), created.Version)

	created.Config.Endpoints = []model.Endpoint{{Host: "10.0.0.2", Port: 8080}}
	updated, err := repo.Clusters().Update(context.Background(), created)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	_, err = repo.Clusters().Update(context.Background(), testCluster("ghost", "payments"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInMemoryUpdateRenameCollision(t *testing.T) {
	repo := NewInMemory()
	_, err := repo.Clusters().Create(context.Background(), testCluster("a", "payments"))
	require.NoError(t, err)
	b, err := repo.Clusters().Create(context.Background(), testCluster("b", "payments"))
	require.NoError(t, err)

	b.Name = "a"
	_, err = repo.Clusters().Update(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInMemoryListByTeams(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()
	for _, c := range []*model.Cluster{
		testCluster("cA", "alpha"),
		testCluster("cB", "beta"),
		testCluster("shared", ""),
	} {
		_, err := repo.Clusters().Create(ctx, c)
		require.NoError(t, err)
	}

	rows, err := repo.Clusters().ListByTeams(ctx, []string{"alpha"}, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cA", rows[0].Name)

	rows, err = repo.Clusters().ListByTeams(ctx, []string{"alpha"}, true)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cA", rows[0].Name)
	assert.Equal(t, "shared", rows[1].Name)

	// No teams means no rows, not all rows.
	rows, err = repo.Clusters().ListByTeams(ctx, nil, true)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInMemoryDelete(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()
	created, err := repo.Clusters().Create(ctx, testCluster("svc", "payments"))
	require.NoError(t, err)

	require.NoError(t, repo.Clusters().Delete(ctx, created.ID))
	err = repo.Clusters().Delete(ctx, created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInMemoryRowsAreIsolated(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()
	created, err := repo.Clusters().Create(ctx, testCluster("svc", "payments"))
	require.NoError(t, err)

	// Mutating the returned row must not change the stored copy.
	created.Name = "mutated"
	got, err := repo.Clusters().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "svc", got.Name)
}

func TestInMemoryDefinitionHooks(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	def, err := repo.Definitions().Create(ctx, &model.APIDefinition{
		Team:   "payments",
		Domain: "api.example.com",
	})
	require.NoError(t, err)

	_, err = repo.Definitions().Create(ctx, &model.APIDefinition{
		Team:   "payments",
		Domain: "api.example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	byDomain, err := repo.Definitions().GetByDomain(ctx, "payments", "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, def.ID, byDomain.ID)

	require.NoError(t, repo.Definitions().UpdateGeneratedListenerID(ctx, def.ID, "lst-1"))
	require.NoError(t, repo.Definitions().UpdateGeneratedResourceIDs(ctx, def.ID, []string{"r1"}, []string{"c1", "c2"}))
	require.NoError(t, repo.Definitions().UpdateBootstrapMetadata(ctx, def.ID, "/bootstrap/payments", 1))

	got, err := repo.Definitions().GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "lst-1", got.GeneratedListenerID)
	assert.Equal(t, []string{"r1"}, got.GeneratedRouteIDs)
	assert.Equal(t, []string{"c1", "c2"}, got.GeneratedClusterIDs)
	assert.Equal(t, int64(1), got.BootstrapRevision)
	assert.Equal(t, "/bootstrap/payments", got.BootstrapURI)
}

func TestInMemoryDefinitionDomainNormalized(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	_, err := repo.Definitions().Create(ctx, &model.APIDefinition{
		Team:   "payments",
		Domain: "API.Example.com",
	})
	require.NoError(t, err)

	// The unique key uses the normalized domain, so a case variant
	// collides and the normalized lookup finds the row.
	_, err = repo.Definitions().Create(ctx, &model.APIDefinition{
		Team:   "payments",
		Domain: "api.example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	byDomain, err := repo.Definitions().GetByDomain(ctx, "payments", "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "API.Example.com", byDomain.Domain)
}

func TestInMemoryWasmBinaries(t *testing.T) {
	repo := NewInMemory()
	repo.PutWasmBinary("bin-1", []byte{0x00, 0x61, 0x73, 0x6d})

	binary, err := repo.GetWasmBinary(context.Background(), "bin-1")
	require.NoError(t, err)
	assert.Len(t, binary, 4)

	_, err = repo.GetWasmBinary(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
