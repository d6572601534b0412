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

package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

var serverMetrics = grpcprom.NewServerMetrics()

func init() {
	serverMetrics.EnableHandlingTimeHistogram()
	crmetrics.Registry.MustRegister(serverMetrics)
}

// GRPCServer serves the cloud provider contract together with the health and reflection services
type GRPCServer struct {
	*grpc.Server
	health *health.Server
}

// NewGRPCServer builds the gRPC server for a cloud provider. Requests are served with the logger and
// options of ctx, the same way every handler would see them had it been called directly.
func NewGRPCServer(ctx context.Context, cloudProvider protos.CloudProviderServer) (*GRPCServer, error) {
	opts := options.FromContext(ctx)
	serverOptions := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(serverMetrics.UnaryServerInterceptor(), baseContext(ctx)),
		grpc.ChainStreamInterceptor(serverMetrics.StreamServerInterceptor()),
	}
	if opts.MTLS() {
		creds, err := mutualTLS(opts.TLSCertFile, opts.TLSKeyFile, opts.TLSCAFile)
		if err != nil {
			return nil, err
		}
		serverOptions = append(serverOptions, grpc.Creds(creds))
		log.FromContext(ctx).Info("mTLS enabled")
	} else {
		log.FromContext(ctx).Info("mTLS not configured, serving insecure")
	}
	s := &GRPCServer{Server: grpc.NewServer(serverOptions...), health: health.NewServer()}
	protos.RegisterCloudProviderServer(s.Server, cloudProvider)
	healthpb.RegisterHealthServer(s.Server, s.health)
	s.health.SetServingStatus(protos.CloudProvider_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if opts.EnableReflection {
		reflection.Register(s.Server)
	}
	serverMetrics.InitializeMetrics(s.Server)
	return s, nil
}

// Start serves on the listener until ctx is done, then drains in-flight requests for at most gracePeriod
func (s *GRPCServer) Start(ctx context.Context, lis net.Listener, gracePeriod time.Duration) error {
	errs := make(chan error, 1)
	go func() { errs <- s.Serve(lis) }()
	log.FromContext(ctx).WithValues("address", lis.Addr().String()).Info("serving cloud provider")
	select {
	case err := <-errs:
		return fmt.Errorf("serving grpc, %w", err)
	case <-ctx.Done():
	}
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracePeriod):
		log.FromContext(ctx).Info("grace period elapsed, stopping grpc server")
		s.Stop()
	}
	return nil
}

func baseContext(base context.Context) grpc.UnaryServerInterceptor {
	opts := options.FromContext(base)
	logger := log.FromContext(base)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = options.ToContext(ctx, opts)
		ctx = log.IntoContext(ctx, logger.WithValues("method", path.Base(info.FullMethod)))
		resp, err := handler(ctx, req)
		if err != nil {
			log.FromContext(ctx).V(1).Info("request failed", "error", err.Error())
		}
		return resp, err
	}
}

func mutualTLS(certFile, keyFile, caFile string) (credentials.TransportCredentials, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate, %w", err)
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle, %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("no certificates found in CA bundle %q", caFile)
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
