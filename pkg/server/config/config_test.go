package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portablefn/fnharness/pkg/coder"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Verify())

	endpoints, err := cfg.DataEndpoints()
	require.NoError(t, err)
	require.Equal(t, []Endpoint{{TransformID: "input", Coder: coder.NameBytes}}, endpoints)

	timers, err := cfg.TimerEndpoints()
	require.NoError(t, err)
	require.Empty(t, timers)
}

func TestVerifyConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		errMsg string
	}{
		{
			name:   "unknown_log_format",
			modify: func(cfg *Config) { cfg.Log.Format = "xml" },
			errMsg: "config 'log.format' must be one of 'text' or 'json', got 'xml'",
		},
		{
			name:   "unknown_log_level",
			modify: func(cfg *Config) { cfg.Log.Level = "verbose" },
			errMsg: "config 'log.level' 'verbose' is not a valid log level",
		},
		{
			name:   "sample_ratio_above_one",
			modify: func(cfg *Config) { cfg.Trace.SampleRatio = 1.5 },
			errMsg: "config 'trace.sampleRatio' must be between 0 and 1",
		},
		{
			name: "tracing_without_endpoint",
			modify: func(cfg *Config) {
				cfg.Trace.Enabled = true
				cfg.Trace.OTLP.Endpoint = ""
			},
			errMsg: "config 'trace.otlp.endpoint' must be set when tracing is enabled",
		},
		{
			name:   "zero_queue_capacity",
			modify: func(cfg *Config) { cfg.Data.QueueCapacity = 0 },
			errMsg: "config 'data.queueCapacity' must be positive, got 0",
		},
		{
			name:   "negative_max_pending_batches",
			modify: func(cfg *Config) { cfg.Data.MaxPendingBatches = -1 },
			errMsg: "config 'data.maxPendingBatches' cannot be negative, got -1",
		},
		{
			name:   "zero_poisoned_ttl",
			modify: func(cfg *Config) { cfg.Data.PoisonedInstructionTTL = 0 },
			errMsg: "config 'data.poisonedInstructionTTL' must be positive",
		},
		{
			name:   "zero_poisoned_cache_size",
			modify: func(cfg *Config) { cfg.Data.PoisonedInstructionCacheSize = 0 },
			errMsg: "config 'data.poisonedInstructionCacheSize' must be positive",
		},
		{
			name:   "negative_drain_timeout",
			modify: func(cfg *Config) { cfg.Data.DrainTimeout = -time.Second },
			errMsg: "config 'data.drainTimeout' cannot be negative",
		},
		{
			name:   "negative_pooled_observers",
			modify: func(cfg *Config) { cfg.Data.MaxPooledObservers = -1 },
			errMsg: "config 'data.maxPooledObservers' cannot be negative",
		},
		{
			name:   "malformed_data_endpoint",
			modify: func(cfg *Config) { cfg.Bundle.DataEndpoints = []string{"input"} },
			errMsg: "data endpoint 'input' must have the form 'transformID:coder'",
		},
		{
			name:   "malformed_timer_endpoint",
			modify: func(cfg *Config) { cfg.Bundle.TimerEndpoints = []string{"pardo:varint"} },
			errMsg: "timer endpoint 'pardo:varint' must have the form 'transformID/timerFamilyID:coder'",
		},
		{
			name:   "duplicate_data_endpoint",
			modify: func(cfg *Config) { cfg.Bundle.DataEndpoints = []string{"input:bytes", "input:varint"} },
			errMsg: "endpoint 'input:varint' is configured more than once",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(cfg)
			require.EqualError(t, cfg.Verify(), test.errMsg)
		})
	}
}

func TestVerifyRejectsUnknownCoder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bundle.DataEndpoints = []string{"input:bigint"}

	err := cfg.Verify()
	require.ErrorIs(t, err, coder.ErrUnknownCoder)
}

func TestParseEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bundle.DataEndpoints = []string{"read:varint", "side:string_utf8"}
	cfg.Bundle.TimerEndpoints = []string{"pardo/fam:varint", "pardo/other:bytes"}
	require.NoError(t, cfg.Verify())

	data, err := cfg.DataEndpoints()
	require.NoError(t, err)
	require.Equal(t, []Endpoint{
		{TransformID: "read", Coder: "varint"},
		{TransformID: "side", Coder: "string_utf8"},
	}, data)

	timers, err := cfg.TimerEndpoints()
	require.NoError(t, err)
	require.Equal(t, []Endpoint{
		{TransformID: "pardo", TimerFamilyID: "fam", Coder: "varint"},
		{TransformID: "pardo", TimerFamilyID: "other", Coder: "bytes"},
	}, timers)
}
