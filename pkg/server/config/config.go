// Package config contains all knobs and defaults used to configure the data service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portablefn/fnharness/pkg/coder"
	"github.com/portablefn/fnharness/pkg/server/dataplane"
)

const (
	DefaultGRPCAddr    = "0.0.0.0:8070"
	DefaultMetricsAddr = "0.0.0.0:2112"

	DefaultQueueCapacity = 100

	DefaultMaxRPCMessageSizeInBytes = 64 * 1024 * 1024
)

// GRPCConfig defines the configuration for the gRPC server.
type GRPCConfig struct {
	Addr string
}

// LogConfig defines the data service logging configuration.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string
}

type OTLPTraceConfig struct {
	Endpoint string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string

	// SlowTraceThreshold only exports traces whose root span lasted at least this
	// long. 0 exports every sampled trace.
	SlowTraceThreshold time.Duration
}

// MetricConfig defines configurations for serving custom metrics from the data service.
type MetricConfig struct {
	Enabled             bool
	Addr                string
	EnableRPCHistograms bool
}

// DataConfig defines the buffering and routing limits of the data plane.
type DataConfig struct {
	// QueueCapacity is the number of batches an observer buffers before the
	// producer blocks.
	QueueCapacity int

	// MaxPendingBatches is the number of batches buffered per stream for
	// instructions that are not registered yet.
	MaxPendingBatches int

	// PoisonedInstructionTTL is how long a finished instruction id is remembered
	// so that late batches are dropped instead of starting a new bundle.
	PoisonedInstructionTTL       time.Duration
	PoisonedInstructionCacheSize int64

	// DrainTimeout bounds how long bundles may keep running after the client
	// closes its side of the stream.
	DrainTimeout time.Duration

	MaxPooledObservers int
}

// BundleConfig lists the endpoints every bundle expects. Data endpoints are
// written as "transformID:coder" and timer endpoints as
// "transformID/timerFamilyID:coder", where coder names the timer key coder.
type BundleConfig struct {
	DataEndpoints  []string
	TimerEndpoints []string
}

// Endpoint is a parsed BundleConfig entry.
type Endpoint struct {
	TransformID   string
	TimerFamilyID string
	Coder         string
}

type Config struct {
	GRPC    GRPCConfig
	Log     LogConfig
	Trace   TraceConfig
	Metrics MetricConfig
	Data    DataConfig
	Bundle  BundleConfig
}

// ParseDataEndpoint parses a "transformID:coder" entry.
func ParseDataEndpoint(s string) (Endpoint, error) {
	transformID, coderName, ok := strings.Cut(s, ":")
	if !ok || transformID == "" || coderName == "" {
		return Endpoint{}, fmt.Errorf("data endpoint '%s' must have the form 'transformID:coder'", s)
	}
	return Endpoint{TransformID: transformID, Coder: coderName}, nil
}

// ParseTimerEndpoint parses a "transformID/timerFamilyID:coder" entry.
func ParseTimerEndpoint(s string) (Endpoint, error) {
	target, coderName, ok := strings.Cut(s, ":")
	if ok {
		transformID, timerFamilyID, found := strings.Cut(target, "/")
		if found && transformID != "" && timerFamilyID != "" && coderName != "" {
			return Endpoint{TransformID: transformID, TimerFamilyID: timerFamilyID, Coder: coderName}, nil
		}
	}
	return Endpoint{}, fmt.Errorf("timer endpoint '%s' must have the form 'transformID/timerFamilyID:coder'", s)
}

// DataEndpoints parses Bundle.DataEndpoints.
func (c *Config) DataEndpoints() ([]Endpoint, error) {
	return parseEndpoints(c.Bundle.DataEndpoints, ParseDataEndpoint)
}

// TimerEndpoints parses Bundle.TimerEndpoints.
func (c *Config) TimerEndpoints() ([]Endpoint, error) {
	return parseEndpoints(c.Bundle.TimerEndpoints, ParseTimerEndpoint)
}

func parseEndpoints(entries []string, parse func(string) (Endpoint, error)) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		e, err := parse(entry)
		if err != nil {
			return nil, err
		}
		if !coder.IsKnown(e.Coder) {
			return nil, fmt.Errorf("endpoint '%s': %w '%s', known coders are %v", entry, coder.ErrUnknownCoder, e.Coder, coder.Names())
		}
		key := e.TransformID + "/" + e.TimerFamilyID
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("endpoint '%s' is configured more than once", entry)
		}
		seen[key] = struct{}{}
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

func (c *Config) Verify() error {
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of 'text' or 'json', got '%s'", c.Log.Format)
	}

	switch c.Log.Level {
	case "none", "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("config 'log.level' '%s' is not a valid log level", c.Log.Level)
	}

	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	if c.Trace.Enabled && c.Trace.OTLP.Endpoint == "" {
		return errors.New("config 'trace.otlp.endpoint' must be set when tracing is enabled")
	}

	if c.Data.QueueCapacity <= 0 {
		return fmt.Errorf("config 'data.queueCapacity' must be positive, got %d", c.Data.QueueCapacity)
	}

	if c.Data.MaxPendingBatches < 0 {
		return fmt.Errorf("config 'data.maxPendingBatches' cannot be negative, got %d", c.Data.MaxPendingBatches)
	}

	if c.Data.PoisonedInstructionTTL <= 0 {
		return errors.New("config 'data.poisonedInstructionTTL' must be positive")
	}

	if c.Data.PoisonedInstructionCacheSize <= 0 {
		return errors.New("config 'data.poisonedInstructionCacheSize' must be positive")
	}

	if c.Data.DrainTimeout < 0 {
		return errors.New("config 'data.drainTimeout' cannot be negative")
	}

	if c.Data.MaxPooledObservers < 0 {
		return errors.New("config 'data.maxPooledObservers' cannot be negative")
	}

	if _, err := c.DataEndpoints(); err != nil {
		return err
	}

	if _, err := c.TimerEndpoints(); err != nil {
		return err
	}

	return nil
}

// DefaultConfig is the data service default configuration.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: DefaultGRPCAddr,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Trace: TraceConfig{
			Enabled:     false,
			OTLP:        OTLPTraceConfig{Endpoint: "0.0.0.0:4317"},
			SampleRatio: 0.2,
			ServiceName: "fnharness",
		},
		Metrics: MetricConfig{
			Enabled:             true,
			Addr:                DefaultMetricsAddr,
			EnableRPCHistograms: false,
		},
		Data: DataConfig{
			QueueCapacity:                DefaultQueueCapacity,
			MaxPendingBatches:            dataplane.DefaultMaxPendingBatches,
			PoisonedInstructionTTL:       dataplane.DefaultPoisonedInstructionTTL,
			PoisonedInstructionCacheSize: dataplane.DefaultPoisonedInstructionCacheSize,
			DrainTimeout:                 dataplane.DefaultDrainTimeout,
			MaxPooledObservers:           dataplane.DefaultMaxPooledObservers,
		},
		Bundle: BundleConfig{
			DataEndpoints:  []string{"input:bytes"},
			TimerEndpoints: []string{},
		},
	}
}
