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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apierror"
	"github.com/flowplane/flowplane/internal/authz"
	"github.com/flowplane/flowplane/internal/fixture"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/repository"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return nil
}

func testMaterializer(t *testing.T) (*Materializer, *repository.InMemory, *fakeRefresher) {
	t.Helper()
	refresher := &fakeRefresher{}
	repo := repository.NewInMemory()
	return NewMaterializer(fixture.NewTestLogger(t), repo, refresher), repo, refresher
}

func adminContext() *authz.AuthContext {
	return &authz.AuthContext{Identity: "root", Scopes: []string{authz.AdminScope}}
}

func paymentsDefinition() *model.APIDefinition {
	return &model.APIDefinition{
		Team:   "payments",
		Domain: "api.example.com",
		Routes: []model.APIRoute{
			{
				MatchType:  model.MatchPrefix,
				MatchValue: "/users",
				Upstreams: model.UpstreamTargets{Targets: []model.UpstreamTarget{
					{Endpoint: "a.example.com:443"},
					{Endpoint: "b.example.com:443"},
				}},
			},
			{
				MatchType:  model.MatchPrefix,
				MatchValue: "/orders",
				RouteOrder: 1,
				Upstreams: model.UpstreamTargets{Targets: []model.UpstreamTarget{
					{Endpoint: "a.example.com:443"},
				}},
			},
		},
	}
}

func TestCreateMaterializesClusters(t *testing.T) {
	m, repo, refresher := testMaterializer(t)
	ctx := context.Background()

	created, err := m.Create(ctx, adminContext(), paymentsDefinition())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, refresher.calls)

	// Endpoint a.example.com:443 appears in both routes but yields one
	// cluster.
	clusters, err := repo.Clusters().List(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Equal(t, model.SourcePlatformAPI, c.Source)
		assert.Equal(t, "payments", c.Team)
		assert.Contains(t, c.Name, "platform-"+model.ShortID(created.ID))
	}
	assert.Len(t, created.GeneratedClusterIDs, 2)

	assert.EqualValues(t, 1, created.BootstrapRevision)
	assert.Contains(t, created.BootstrapURI, "/teams/payments/")
}

func TestCreateDomainConflict(t *testing.T) {
	m, _, _ := testMaterializer(t)
	ctx := context.Background()

	_, err := m.Create(ctx, adminContext(), paymentsDefinition())
	require.NoError(t, err)

	_, err = m.Create(ctx, adminContext(), paymentsDefinition())
	assert.True(t, apierror.IsConflict(err))

	// Another team may claim the same domain.
	other := paymentsDefinition()
	other.Team = "billing"
	_, err = m.Create(ctx, adminContext(), other)
	assert.NoError(t, err)
}

func TestCreateDomainConflictIgnoresCase(t *testing.T) {
	m, repo, _ := testMaterializer(t)
	ctx := context.Background()

	upper := paymentsDefinition()
	upper.Domain = "API.Example.com"
	_, err := m.Create(ctx, adminContext(), upper)
	require.NoError(t, err)

	// A case variant of a claimed domain is the same domain.
	_, err = m.Create(ctx, adminContext(), paymentsDefinition())
	require.Error(t, err)
	assert.True(t, apierror.IsConflict(err))

	defs, err := repo.Definitions().List(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestCreateIsolatedListener(t *testing.T) {
	m, repo, _ := testMaterializer(t)
	ctx := context.Background()

	def := paymentsDefinition()
	def.ListenerIsolation = true
	created, err := m.Create(ctx, adminContext(), def)
	require.NoError(t, err)
	require.NotEmpty(t, created.GeneratedListenerID)

	listener, err := repo.Listeners().GetByID(ctx, created.GeneratedListenerID)
	require.NoError(t, err)
	assert.Equal(t, "platform-"+model.ShortID(created.ID), listener.Name)
	assert.Equal(t, IsolationPort("api.example.com"), listener.Port)
	assert.Equal(t, model.SourcePlatformAPI, listener.Source)

	hcm := listener.Config.FilterChains[0].Filters[0].HTTPConnectionManager
	require.NotNil(t, hcm)
	assert.Equal(t, model.PlatformRouteConfigName(created.ID), hcm.RouteConfigName)
}

func TestCreateListenerPortCollision(t *testing.T) {
	m, repo, refresher := testMaterializer(t)
	ctx := context.Background()

	port := IsolationPort("api.example.com")
	_, err := repo.Listeners().Create(ctx, &model.Listener{
		Name: "squatter", Address: "0.0.0.0", Port: port,
		Config: model.ListenerConfig{FilterChains: []model.FilterChain{{
			Filters: []model.NetworkFilter{{Name: "tcp", TCPProxy: &model.TCPProxyConfig{Cluster: "x"}}},
		}}},
	})
	require.NoError(t, err)

	def := paymentsDefinition()
	def.ListenerIsolation = true
	_, err = m.Create(ctx, adminContext(), def)
	assert.True(t, apierror.IsConflict(err))
	assert.Zero(t, refresher.calls)

	// A refused create persists nothing.
	definitions, err := repo.Definitions().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestCreateNamedListenerBindMismatch(t *testing.T) {
	m, repo, _ := testMaterializer(t)
	ctx := context.Background()

	_, err := repo.Listeners().Create(ctx, &model.Listener{
		Name: "edge", Address: "0.0.0.0", Port: 9000,
		Config: model.ListenerConfig{FilterChains: []model.FilterChain{{
			Filters: []model.NetworkFilter{{Name: "tcp", TCPProxy: &model.TCPProxyConfig{Cluster: "x"}}},
		}}},
	})
	require.NoError(t, err)

	def := paymentsDefinition()
	def.ListenerIsolation = true
	def.IsolationListener = &model.IsolationListener{Name: "edge", Port: 9001}
	_, err = m.Create(ctx, adminContext(), def)
	assert.True(t, apierror.IsConflict(err))

	// A matching bind point reuses the existing listener.
	def = paymentsDefinition()
	def.ListenerIsolation = true
	def.IsolationListener = &model.IsolationListener{Name: "edge", Port: 9000}
	created, err := m.Create(ctx, adminContext(), def)
	require.NoError(t, err)

	listener, err := repo.Listeners().GetByID(ctx, created.GeneratedListenerID)
	require.NoError(t, err)
	assert.Equal(t, "edge", listener.Name)
}

func TestUpdateReplacesOrphanedClusters(t *testing.T) {
	m, repo, refresher := testMaterializer(t)
	ctx := context.Background()

	created, err := m.Create(ctx, adminContext(), paymentsDefinition())
	require.NoError(t, err)

	updated := paymentsDefinition()
	updated.ID = created.ID
	updated.Routes = []model.APIRoute{{
		MatchType:  model.MatchPrefix,
		MatchValue: "/users",
		Upstreams: model.UpstreamTargets{Targets: []model.UpstreamTarget{
			{Endpoint: "a.example.com:443"},
			{Endpoint: "c.example.com:443"},
		}},
	}}
	result, err := m.Update(ctx, adminContext(), updated)
	require.NoError(t, err)
	assert.Equal(t, 2, refresher.calls)
	assert.EqualValues(t, 2, result.BootstrapRevision)

	clusters, err := repo.Clusters().List(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	names := []string{clusters[0].Name, clusters[1].Name}
	assert.Contains(t, names, model.PlatformClusterName(created.ID, "a.example.com:443"))
	assert.Contains(t, names, model.PlatformClusterName(created.ID, "c.example.com:443"))
}

func TestUpdateTeamImmutable(t *testing.T) {
	m, _, _ := testMaterializer(t)
	ctx := context.Background()

	created, err := m.Create(ctx, adminContext(), paymentsDefinition())
	require.NoError(t, err)

	moved := paymentsDefinition()
	moved.ID = created.ID
	moved.Team = "billing"
	_, err = m.Update(ctx, adminContext(), moved)
	assert.True(t, apierror.IsValidation(err))
}

func TestDeleteCleansGeneratedResources(t *testing.T) {
	m, repo, _ := testMaterializer(t)
	ctx := context.Background()

	def := paymentsDefinition()
	def.ListenerIsolation = true
	created, err := m.Create(ctx, adminContext(), def)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, adminContext(), created.ID))

	clusters, err := repo.Clusters().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
	listeners, err := repo.Listeners().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, listeners)

	_, err = repo.Definitions().GetByID(ctx, created.ID)
	assert.Error(t, err)
}

func TestCreateForbiddenWithoutTeamScope(t *testing.T) {
	m, _, refresher := testMaterializer(t)

	actx := &authz.AuthContext{Scopes: []string{"team:billing:api-definitions:write"}}
	_, err := m.Create(context.Background(), actx, paymentsDefinition())
	assert.True(t, apierror.IsForbidden(err))
	assert.Zero(t, refresher.calls)
}

func TestIsolationPortRange(t *testing.T) {
	for _, domain := range []string{"a.example.com", "b.example.com", "x", ""} {
		port := IsolationPort(domain)
		assert.GreaterOrEqual(t, port, uint32(20000))
		assert.Less(t, port, uint32(30000))
		assert.Equal(t, port, IsolationPort(domain))
	}
}
