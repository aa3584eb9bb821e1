// Package run contains the command to run a data service.
package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	grpc_prometheus "github.com/jon-whit/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/portablefn/fnharness/internal/build"
	"github.com/portablefn/fnharness/pkg/coder"
	"github.com/portablefn/fnharness/pkg/data"
	"github.com/portablefn/fnharness/pkg/logger"
	"github.com/portablefn/fnharness/pkg/middleware/logging"
	"github.com/portablefn/fnharness/pkg/middleware/recovery"
	"github.com/portablefn/fnharness/pkg/middleware/requestid"
	serverconfig "github.com/portablefn/fnharness/pkg/server/config"
	"github.com/portablefn/fnharness/pkg/server/dataplane"
	"github.com/portablefn/fnharness/pkg/server/health"
	"github.com/portablefn/fnharness/pkg/telemetry"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fnharness data service",
		Long:  "Run the fnharness data service.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	flags.String("grpc-addr", defaultConfig.GRPC.Addr, "the host:port address to serve the grpc server on")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Duration("trace-slow-threshold", defaultConfig.Trace.SlowTraceThreshold, "only export traces whose root span lasted at least this long. 0 exports every sampled trace")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	flags.Bool("metrics-enable-rpc-histograms", defaultConfig.Metrics.EnableRPCHistograms, "enables prometheus histogram metrics for RPC latency distributions")

	flags.Int("data-queue-capacity", defaultConfig.Data.QueueCapacity, "the number of batches a bundle buffers before the stream stops reading")

	flags.Int("data-max-pending-batches", defaultConfig.Data.MaxPendingBatches, "the number of batches buffered per stream for instructions whose bundle has not started")

	flags.Duration("data-poisoned-instruction-ttl", defaultConfig.Data.PoisonedInstructionTTL, "how long a finished instruction id is remembered so late batches for it are dropped")

	flags.Int64("data-poisoned-instruction-cache-size", defaultConfig.Data.PoisonedInstructionCacheSize, "the maximum number of finished instruction ids remembered per stream")

	flags.Duration("data-drain-timeout", defaultConfig.Data.DrainTimeout, "how long bundles may keep running after the client closed its side of the stream. 0 waits forever")

	flags.Int("data-max-pooled-observers", defaultConfig.Data.MaxPooledObservers, "the number of idle bundle observers kept for reuse")

	flags.StringSlice("bundle-data-endpoints", defaultConfig.Bundle.DataEndpoints, "the data endpoints of every bundle, as 'transformID:coder'")

	flags.StringSlice("bundle-timer-endpoints", defaultConfig.Bundle.TimerEndpoints, "the timer endpoints of every bundle, as 'transformID/timerFamilyID:coder'")

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the data service configuration based on the values provided in the server's 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/fnharness', '$HOME/.fnharness', or the current working directory. If no configuration
// file is present, the default values are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

type ServerContext struct {
	Logger logger.Logger
}

// telemetryConfig installs the tracer provider. The caller closes it on shutdown.
func (s *ServerContext) telemetryConfig(config *serverconfig.Config) telemetry.TracerProvider {
	if !config.Trace.Enabled {
		return telemetry.Noop()
	}

	s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s'", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint))

	return telemetry.MustNewTracerProvider(
		telemetry.WithOTLPEndpoint(config.Trace.OTLP.Endpoint),
		telemetry.WithServiceName(config.Trace.ServiceName),
		telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		telemetry.WithSlowTraceThreshold(config.Trace.SlowTraceThreshold),
	)
}

func (s *ServerContext) buildServerOpts(config *serverconfig.Config) []grpc.ServerOption {
	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(serverconfig.DefaultMaxRPCMessageSizeInBytes),
		grpc.ChainUnaryInterceptor(
			[]grpc.UnaryServerInterceptor{
				grpc_recovery.UnaryServerInterceptor( // panic middleware must be 1st in chain
					grpc_recovery.WithRecoveryHandlerContext(
						recovery.PanicRecoveryHandler(s.Logger),
					),
				),
				grpc_ctxtags.UnaryServerInterceptor(), // needed for logging
				requestid.NewUnaryInterceptor(),       // add request_id to ctxtags
			}...,
		),
		grpc.ChainStreamInterceptor(
			[]grpc.StreamServerInterceptor{
				grpc_recovery.StreamServerInterceptor( // panic middleware must be 1st in chain
					grpc_recovery.WithRecoveryHandlerContext(
						recovery.PanicRecoveryHandler(s.Logger),
					),
				),
				grpc_ctxtags.StreamServerInterceptor(), // needed for logging
				requestid.NewStreamingInterceptor(),    // add request_id to ctxtags
			}...,
		),
	}

	if config.Metrics.Enabled {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
			grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor))

		if config.Metrics.EnableRPCHistograms {
			grpc_prometheus.EnableHandlingTimeHistogram()
		}
	}

	if config.Trace.Enabled {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(logging.NewLoggingInterceptor(s.Logger)),
		// wraps the server stream and must come last
		grpc.ChainStreamInterceptor(logging.NewStreamingLoggingInterceptor(s.Logger)),
	)

	return serverOpts
}

// observerFactory builds observers wired to the configured bundle endpoints.
// Receivers log every decoded value at debug level.
func (s *ServerContext) observerFactory(config *serverconfig.Config) (dataplane.ObserverFactory, error) {
	dataEndpoints, err := config.DataEndpoints()
	if err != nil {
		return nil, err
	}
	timerEndpoints, err := config.TimerEndpoints()
	if err != nil {
		return nil, err
	}

	return func() (*data.InboundObserver, error) {
		de := make([]data.DataEndpoint, 0, len(dataEndpoints))
		for _, e := range dataEndpoints {
			c, err := coder.ByName(e.Coder)
			if err != nil {
				return nil, err
			}
			log := s.Logger.With(zap.String("transform_id", e.TransformID))
			de = append(de, data.NewDataEndpoint(e.TransformID, c, func(v any) error {
				log.Debug("received element", zap.Any("value", v))
				return nil
			}))
		}

		te := make([]data.TimerEndpoint, 0, len(timerEndpoints))
		for _, e := range timerEndpoints {
			c, err := coder.ByName(e.Coder)
			if err != nil {
				return nil, err
			}
			log := s.Logger.With(zap.String("transform_id", e.TransformID), zap.String("timer_family_id", e.TimerFamilyID))
			te = append(te, data.NewTimerEndpoint(e.TransformID, e.TimerFamilyID, coder.TimerOf(c), func(t coder.Timer[any]) error {
				log.Debug("received timer",
					zap.Any("user_key", t.UserKey),
					zap.String("dynamic_timer_tag", t.DynamicTimerTag),
					zap.Bool("clear", t.Clear),
					zap.Time("fire_timestamp", t.FireTimestamp))
				return nil
			}))
		}

		return data.NewInboundObserver(de, te,
			data.WithLogger(s.Logger),
			data.WithQueueCapacity(config.Data.QueueCapacity),
		)
	}, nil
}

// Run serves the data service until ctx is done or the process is signalled.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := s.telemetryConfig(config)

	factory, err := s.observerFactory(config)
	if err != nil {
		return err
	}

	dataServer := dataplane.NewServer(factory,
		dataplane.WithLogger(s.Logger),
		dataplane.WithServerMaxPendingBatches(config.Data.MaxPendingBatches),
		dataplane.WithServerPoisonedInstructionTTL(config.Data.PoisonedInstructionTTL),
		dataplane.WithPoisonedInstructionCacheSize(config.Data.PoisonedInstructionCacheSize),
		dataplane.WithDrainTimeout(config.Data.DrainTimeout),
		dataplane.WithMaxPooledObservers(config.Data.MaxPooledObservers),
	)

	s.Logger.Info(
		"starting fnharness service...",
		zap.String("version", build.Version),
		zap.String("date", build.Date),
		zap.String("commit", build.Commit),
		zap.String("go-version", goruntime.Version()),
		zap.Any("config", config),
	)

	// nosemgrep: grpc-server-insecure-connection
	grpcServer := grpc.NewServer(s.buildServerOpts(config)...)
	dataplane.RegisterDataServiceServer(grpcServer, dataServer)
	healthServer := &health.Checker{TargetService: dataServer, TargetServiceName: dataplane.ServiceName}
	healthv1pb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	if config.Metrics.Enabled {
		grpc_prometheus.Register(grpcServer)
	}

	lis, err := net.Listen("tcp", config.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Logger.Info(fmt.Sprintf("🚀 starting gRPC server on '%s'...", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
		s.Logger.Info("gRPC server shut down.")
		return nil
	})

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("📈 starting prometheus metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start prometheus metrics server: %w", err)
			}
			s.Logger.Info("metrics server shut down.")
			return nil
		})
	}

	g.Go(func() error {
		// wait for cancellation signal or a failed server
		<-gctx.Done()
		s.Logger.Info("attempting to shutdown gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
			}
		}

		dataServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			s.Logger.Warn("graceful shutdown timed out, closing open streams")
			grpcServer.Stop()
		}
		return nil
	})

	err = g.Wait()

	// can take up to 5 seconds to complete (batch span processor export timeout)
	closeCtx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	if terr := tp.Close(closeCtx); terr != nil {
		s.Logger.Error("failed to shutdown tracing", zap.Error(terr))
	}

	s.Logger.Info("server exited. goodbye 👋")

	return err
}
