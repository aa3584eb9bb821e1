package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/portablefn/fnharness/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		util.MustBindPFlag("grpc.addr", flags.Lookup("grpc-addr"))
		util.MustBindEnv("grpc.addr", "FNHARNESS_GRPC_ADDR")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "FNHARNESS_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "FNHARNESS_LOG_LEVEL")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "FNHARNESS_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "FNHARNESS_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "FNHARNESS_TRACE_SAMPLE_RATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "FNHARNESS_TRACE_SERVICE_NAME")

		util.MustBindPFlag("trace.slowTraceThreshold", flags.Lookup("trace-slow-threshold"))
		util.MustBindEnv("trace.slowTraceThreshold", "FNHARNESS_TRACE_SLOW_THRESHOLD")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "FNHARNESS_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "FNHARNESS_METRICS_ADDR")

		util.MustBindPFlag("metrics.enableRPCHistograms", flags.Lookup("metrics-enable-rpc-histograms"))
		util.MustBindEnv("metrics.enableRPCHistograms", "FNHARNESS_METRICS_ENABLE_RPC_HISTOGRAMS")

		util.MustBindPFlag("data.queueCapacity", flags.Lookup("data-queue-capacity"))
		util.MustBindEnv("data.queueCapacity", "FNHARNESS_DATA_QUEUE_CAPACITY")

		util.MustBindPFlag("data.maxPendingBatches", flags.Lookup("data-max-pending-batches"))
		util.MustBindEnv("data.maxPendingBatches", "FNHARNESS_DATA_MAX_PENDING_BATCHES")

		util.MustBindPFlag("data.poisonedInstructionTTL", flags.Lookup("data-poisoned-instruction-ttl"))
		util.MustBindEnv("data.poisonedInstructionTTL", "FNHARNESS_DATA_POISONED_INSTRUCTION_TTL")

		util.MustBindPFlag("data.poisonedInstructionCacheSize", flags.Lookup("data-poisoned-instruction-cache-size"))
		util.MustBindEnv("data.poisonedInstructionCacheSize", "FNHARNESS_DATA_POISONED_INSTRUCTION_CACHE_SIZE")

		util.MustBindPFlag("data.drainTimeout", flags.Lookup("data-drain-timeout"))
		util.MustBindEnv("data.drainTimeout", "FNHARNESS_DATA_DRAIN_TIMEOUT")

		util.MustBindPFlag("data.maxPooledObservers", flags.Lookup("data-max-pooled-observers"))
		util.MustBindEnv("data.maxPooledObservers", "FNHARNESS_DATA_MAX_POOLED_OBSERVERS")

		util.MustBindPFlag("bundle.dataEndpoints", flags.Lookup("bundle-data-endpoints"))
		util.MustBindEnv("bundle.dataEndpoints", "FNHARNESS_BUNDLE_DATA_ENDPOINTS")

		util.MustBindPFlag("bundle.timerEndpoints", flags.Lookup("bundle-timer-endpoints"))
		util.MustBindEnv("bundle.timerEndpoints", "FNHARNESS_BUNDLE_TIMER_ENDPOINTS")
	}
}
