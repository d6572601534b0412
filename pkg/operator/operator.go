/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package operator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/awslabs/operatorpkg/option"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider/metrics"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodegroup"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodetemplate"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
	"github.com/verda-cloud/verda-cloud-provider/pkg/pricing"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/instancetype"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/startupscript"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/verda"
	"github.com/verda-cloud/verda-cloud-provider/pkg/server"
)

const (
	Component = "controller"

	gracePeriod = 10 * time.Second
)

type Operator struct {
	Clock         clock.Clock
	Config        *config.Config
	Gateway       cloudprovider.Gateway
	Engine        *nodegroup.Engine
	CloudProvider *server.Server
	GRPCServer    *server.GRPCServer
}

// NewOperator loads the node group configuration and wires the engine to the Verda API using the options in ctx
func NewOperator(ctx context.Context, gatewayOptions ...option.Function[verda.GatewayOptions]) (*Operator, error) {
	opts := options.FromContext(ctx)
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	template, err := startupScriptTemplate(opts.StartupScriptTemplate)
	if err != nil {
		return nil, err
	}
	verdaGateway, err := verda.NewGateway(ctx, gatewayOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating verda gateway, %w", err)
	}
	gateway := metrics.Decorate(verdaGateway)
	clk := clock.RealClock{}

	instanceTypes := instancetype.NewProvider(clk, gateway, cfg, opts.CacheTTL)
	scripts, err := startupscript.NewProvider(gateway, cfg.Kubernetes, template)
	if err != nil {
		return nil, err
	}
	registry := nodegroup.NewRegistry(cfg)
	engine := nodegroup.NewEngine(clk, registry, gateway, instanceTypes, scripts)
	cloudProvider := server.NewServer(engine, nodetemplate.NewBuilder(registry, instanceTypes), pricing.NewCalculator(registry, instanceTypes))
	grpcServer, err := server.NewGRPCServer(ctx, cloudProvider)
	if err != nil {
		return nil, err
	}
	log.FromContext(ctx).WithValues("node-groups", registry.List()).Info("loaded node groups")
	return &Operator{
		Clock:         clk,
		Config:        cfg,
		Gateway:       gateway,
		Engine:        engine,
		CloudProvider: cloudProvider,
		GRPCServer:    grpcServer,
	}, nil
}

// Start serves the cloud provider and the metrics endpoint until ctx is done. The first refresh is
// best effort so the autoscaler can connect while the cloud is unreachable.
func (o *Operator) Start(ctx context.Context) error {
	opts := options.FromContext(ctx)
	if err := o.Engine.Refresh(ctx); err != nil {
		log.FromContext(ctx).Error(err, "failed initial refresh")
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d, %w", opts.Port, err)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return o.GRPCServer.Start(groupCtx, lis, gracePeriod) })
	group.Go(func() error { return o.serveMetrics(groupCtx, opts.MetricsPort, opts.EnableProfiling) })
	if opts.RefreshSchedule != "" {
		group.Go(func() error { return o.scheduleRefreshes(groupCtx, opts.RefreshSchedule) })
	}
	err = group.Wait()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracePeriod)
	defer cancel()
	return multierr.Append(err, o.Engine.Cleanup(cleanupCtx))
}

// MetricsHandler serves prometheus metrics together with liveness and readiness probes
func (o *Operator) MetricsHandler(enableProfiling bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
	for endpoint, checks := range map[string]map[string]healthz.Checker{
		"/healthz": {"ping": healthz.Ping},
		"/readyz":  {"ping": healthz.Ping},
	} {
		handler := http.StripPrefix(endpoint, &healthz.Handler{Checks: checks})
		mux.Handle(endpoint, handler)
		mux.Handle(endpoint+"/", handler)
	}
	if enableProfiling {
		registerPprof(mux)
	}
	return mux
}

func (o *Operator) serveMetrics(ctx context.Context, port int, enableProfiling bool) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           o.MetricsHandler(enableProfiling),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving metrics, %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracePeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleRefreshes refreshes every node group on the cron schedule. A refresh still running when the
// next one is due makes that tick a no-op.
func (o *Operator) scheduleRefreshes(ctx context.Context, schedule string) error {
	logger := log.FromContext(ctx).WithName("refresh")
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if err := o.Engine.Refresh(ctx); err != nil {
			logger.Error(err, "failed scheduled refresh")
		}
	}); err != nil {
		return fmt.Errorf("scheduling refreshes %q, %w", schedule, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func startupScriptTemplate(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading startup script template %q, %w", path, err)
	}
	return string(raw), nil
}
