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

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/flowplane/flowplane/internal/authz"
	"github.com/flowplane/flowplane/internal/debug"
	envoy_v3 "github.com/flowplane/flowplane/internal/envoy/v3"
	"github.com/flowplane/flowplane/internal/filters"
	"github.com/flowplane/flowplane/internal/httpsvc"
	"github.com/flowplane/flowplane/internal/metrics"
	"github.com/flowplane/flowplane/internal/model"
	"github.com/flowplane/flowplane/internal/ops"
	"github.com/flowplane/flowplane/internal/platform"
	"github.com/flowplane/flowplane/internal/refresh"
	"github.com/flowplane/flowplane/internal/repository"
	"github.com/flowplane/flowplane/internal/workgroup"
	"github.com/flowplane/flowplane/internal/xds"
	"github.com/flowplane/flowplane/internal/xdscache"
)

// registerServe registers the serve subcommand and flags with the
// Application provided.
func registerServe(app *kingpin.Application) (*kingpin.CmdClause, *serveContext) {
	ctx := &serveContext{}
	serve := app.Command("serve", "Serve xDS API traffic.")

	serve.Flag("config-path", "Path to base configuration.").Short('c').StringVar(&ctx.configFile)
	serve.Flag("xds-address", "xDS gRPC API address.").Default("0.0.0.0").StringVar(&ctx.xdsAddr)
	serve.Flag("xds-port", "xDS gRPC API port.").Default("8001").IntVar(&ctx.xdsPort)
	serve.Flag("ca-file", "CA bundle file for serving gRPC with TLS.").Envar("FLOWPLANE_CAFILE").StringVar(&ctx.caFile)
	serve.Flag("cert-file", "Certificate file for serving gRPC over TLS.").Envar("FLOWPLANE_CERT_FILE").StringVar(&ctx.certFile)
	serve.Flag("key-file", "Key file for serving gRPC over TLS.").Envar("FLOWPLANE_KEY_FILE").StringVar(&ctx.keyFile)
	serve.Flag("metrics-address", "Metrics HTTP address.").Default("0.0.0.0").StringVar(&ctx.metricsAddr)
	serve.Flag("metrics-port", "Metrics HTTP port.").Default("8002").IntVar(&ctx.metricsPort)
	serve.Flag("debug-http-address", "Address the debug http endpoint will bind to.").Default("127.0.0.1").StringVar(&ctx.debugAddr)
	serve.Flag("debug-http-port", "Port the debug http endpoint will bind to.").Default("6060").IntVar(&ctx.debugPort)
	serve.Flag("log-level", "Log level (trace, debug, info, warn, error).").Default("info").StringVar(&ctx.logLevel)
	serve.Flag("default-listener", "Name of the deletion-protected default gateway listener.").Default("default-gateway-listener").StringVar(&ctx.defaultListener)
	serve.Flag("seed-file", "JSON file of resources loaded before the first refresh.").StringVar(&ctx.seedFile)

	return serve, ctx
}

// doServe wires the repository, compiler, cache and ADS server together
// and runs them until a termination signal arrives.
func doServe(log *logrus.Logger, sctx *serveContext) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(registry)

	repo := repository.NewInMemory()
	cache := xdscache.NewCache(log.WithField("context", "xdscache"))
	registryFilters := filters.NewRegistry(log.WithField("context", "filters"))
	orchestrator := refresh.NewOrchestrator(
		log.WithField("context", "refresh"),
		repo, cache,
		envoy_v3.NewEnvoyGen(log.WithField("context", "compiler")),
		registryFilters, m,
	)
	facade := ops.NewFacade(log.WithField("context", "ops"), repo, orchestrator, registryFilters, sctx.defaultListener)
	materializer := platform.NewMaterializer(log.WithField("context", "platform"), repo, orchestrator)

	signalCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if sctx.seedFile != "" {
		if err := loadSeedFile(signalCtx, log, sctx.seedFile, facade, materializer); err != nil {
			return err
		}
	}
	if err := orchestrator.Refresh(signalCtx); err != nil {
		return err
	}
	log.WithField("version", cache.VersionInfo()).Info("initial refresh complete")

	var g workgroup.Group

	g.Add(func(ctx context.Context) error {
		log := log.WithField("context", "xds")

		var opts []grpc.ServerOption
		tlsconfig, err := sctx.tlsconfig()
		if err != nil {
			return err
		}
		if tlsconfig != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsconfig)))
		}

		srv := xds.NewAPIServer(registry, opts...)
		xds.RegisterServer(xds.NewHandler(log, cache, m), srv)

		addr := net.JoinHostPort(sctx.xdsAddr, strconv.Itoa(sctx.xdsPort))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			// GracefulStop drains in-flight discovery streams.
			srv.GracefulStop()
		}()

		log.WithField("address", addr).Info("started ADS server")
		defer log.Info("stopped ADS server")
		return srv.Serve(l)
	})

	metricsvc := &httpsvc.Service{
		Addr:        sctx.metricsAddr,
		Port:        sctx.metricsPort,
		FieldLogger: log.WithField("context", "metricsvc"),
	}
	metricsvc.ServeMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsvc.ServeMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	g.Add(metricsvc.Start)

	debugsvc := &debug.Service{
		Service: httpsvc.Service{
			Addr:        sctx.debugAddr,
			Port:        sctx.debugPort,
			FieldLogger: log.WithField("context", "debugsvc"),
		},
		Cache: cache,
	}
	debugsvc.RegisterHandlers()
	g.Add(debugsvc.Start)

	return g.Run(signalCtx)
}

// seedDocument is the shape of the --seed-file JSON body. Resources load
// through the operations facade so they are validated and authorized the
// same way API writes are.
type seedDocument struct {
	Clusters       []*model.Cluster       `json:"clusters,omitempty"`
	RouteConfigs   []*model.RouteConfig   `json:"route_configs,omitempty"`
	Listeners      []*model.Listener      `json:"listeners,omitempty"`
	Secrets        []*model.Secret        `json:"secrets,omitempty"`
	Filters        []*model.FilterRow     `json:"filters,omitempty"`
	APIDefinitions []*model.APIDefinition `json:"api_definitions,omitempty"`
}

func loadSeedFile(ctx context.Context, log logrus.FieldLogger, path string, facade *ops.Facade, materializer *platform.Materializer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc seedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	actx := &authz.AuthContext{Identity: "seed", Scopes: []string{authz.AdminScope}}
	for _, c := range doc.Clusters {
		if _, err := facade.CreateCluster(ctx, actx, c); err != nil {
			return err
		}
	}
	for _, rc := range doc.RouteConfigs {
		if _, err := facade.CreateRouteConfig(ctx, actx, rc); err != nil {
			return err
		}
	}
	for _, s := range doc.Secrets {
		if _, err := facade.CreateSecret(ctx, actx, s); err != nil {
			return err
		}
	}
	for _, l := range doc.Listeners {
		if _, err := facade.CreateListener(ctx, actx, l); err != nil {
			return err
		}
	}
	for _, row := range doc.Filters {
		if _, err := facade.CreateFilter(ctx, actx, row); err != nil {
			return err
		}
	}
	for _, def := range doc.APIDefinitions {
		if _, err := materializer.Create(ctx, actx, def); err != nil {
			return err
		}
	}

	log.WithField("path", path).Info("seed file loaded")
	return nil
}
