// Command geomag-server serves the IGRF field model over gRPC
// (geomag.v1.FieldService plus the standard health service) and exposes
// Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/internal/config"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/internal/observability"
	"github.com/signalsfoundry/geomag/internal/rpc"
	"github.com/signalsfoundry/geomag/synth"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geomag-server: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis, prometheus.DefaultRegisterer); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves on lis until ctx is cancelled or serving fails. The coefficient
// table is loaded before the listener accepts calls, so a bad file fails
// startup. lis is closed on every return path.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener, reg prometheus.Registerer) error {
	defer lis.Close()

	store, err := coeffs.NewCache(cfg.Coefficients.Path, log).Store()
	if err != nil {
		return err
	}

	tracing, err := observability.StartTracing(ctx, cfg.TracingConfig(), log,
		observability.ModelAttributes(store.Fingerprint(), store.FirstEpoch(), store.LastEpoch())...)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	collector, err := observability.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	collector.SetModel(store.FirstEpoch(), store.LastEpoch(), store.Fingerprint())

	s := synth.New(store, synth.WithLogger(log), synth.WithRecorder(collector))
	tracer := apex.NewTracer(s, apex.WithLogger(log), apex.WithRecorder(collector))

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RequestIDUnaryServerInterceptor(log),
			rpc.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	rpc.RegisterFieldServiceServer(server, rpc.NewServer(s, tracer, log))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)

	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, collector, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()
	log.Info(ctx, "serving field model",
		logging.String("addr", lis.Addr().String()),
		logging.String("fingerprint", fmt.Sprintf("%016x", store.Fingerprint())),
	)

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			result = fmt.Errorf("serve gRPC: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down")
	healthSrv.Shutdown()
	server.GracefulStop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "metrics server shutdown failed", logging.Err(err))
		}
	}
	return result
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
