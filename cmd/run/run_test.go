package run

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/portablefn/fnharness/cmd"
	"github.com/portablefn/fnharness/cmd/push"
	"github.com/portablefn/fnharness/cmd/util"
	"github.com/portablefn/fnharness/pkg/data"
	"github.com/portablefn/fnharness/pkg/logger"
	serverconfig "github.com/portablefn/fnharness/pkg/server/config"
	"github.com/portablefn/fnharness/pkg/server/dataplane"
	"github.com/portablefn/fnharness/pkg/testutils"
)

func TestReadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	config, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, serverconfig.DefaultConfig(), config)
}

func TestReadConfigFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	util.PrepareTempConfigFile(t, `grpc:
  addr: localhost:9999
data:
  queueCapacity: 7
  drainTimeout: 3s
bundle:
  dataEndpoints:
    - read:varint
  timerEndpoints:
    - pardo/fam:string_utf8
`)

	cmd.NewRootCommand()

	config, err := ReadConfig()
	require.NoError(t, err)
	require.NoError(t, config.Verify())
	require.Equal(t, "localhost:9999", config.GRPC.Addr)
	require.Equal(t, 7, config.Data.QueueCapacity)
	require.Equal(t, 3*time.Second, config.Data.DrainTimeout)
	require.Equal(t, []string{"read:varint"}, config.Bundle.DataEndpoints)
	require.Equal(t, []string{"pardo/fam:string_utf8"}, config.Bundle.TimerEndpoints)

	// untouched keys keep their defaults
	require.Equal(t, serverconfig.DefaultConfig().Data.MaxPendingBatches, config.Data.MaxPendingBatches)
}

func TestReadConfigFromEnvAndFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	t.Setenv("FNHARNESS_DATA_QUEUE_CAPACITY", "9")
	t.Setenv("FNHARNESS_LOG_LEVEL", "debug")

	runCmd := NewRunCommand()
	runCmd.PreRun(runCmd, nil)
	require.NoError(t, runCmd.Flags().Set("log-level", "warn"))

	config, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, 9, config.Data.QueueCapacity)
	require.Equal(t, "warn", config.Log.Level)
}

func TestReadConfigInvalidFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	util.PrepareTempConfigFile(t, "grpc: [")
	cmd.NewRootCommand()

	_, err := ReadConfig()
	require.ErrorContains(t, err, "failed to load server config")
}

func TestObserverFactory(t *testing.T) {
	config := serverconfig.DefaultConfig()
	config.Bundle.DataEndpoints = []string{"read:varint"}
	config.Bundle.TimerEndpoints = []string{"pardo/fam:bytes"}

	s := &ServerContext{Logger: logger.NewNoopLogger()}
	factory, err := s.observerFactory(config)
	require.NoError(t, err)

	observer, err := factory()
	require.NoError(t, err)
	require.Equal(t, []string{"read:data", "pardo:timers:fam"}, observer.UnfinishedEndpoints())
	require.NoError(t, observer.Close())
}

func TestObserverFactoryInvalidEndpoints(t *testing.T) {
	config := serverconfig.DefaultConfig()
	config.Bundle.DataEndpoints = []string{"read"}

	s := &ServerContext{Logger: logger.NewNoopLogger()}
	_, err := s.observerFactory(config)
	require.Error(t, err)
}

func TestRunServesBundles(t *testing.T) {
	config := testutils.MustDefaultConfigWithRandomPorts()
	config.Bundle.DataEndpoints = []string{"input:varint"}
	config.Metrics.EnableRPCHistograms = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		s := &ServerContext{Logger: logger.NewNoopLogger()}
		done <- s.Run(ctx, config)
	}()

	testutils.EnsureServiceHealthy(t, config.GRPC.Addr)

	client := dataplane.NewDataServiceClient(testutils.CreateGrpcConnection(t, config.GRPC.Addr))

	pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pushCancel()

	err := push.Push(pushCtx, client, push.Bundle{
		InstructionID: "1",
		TransformID:   "input",
		Coder:         "varint",
		Values:        []string{"1", "2", "3"},
		BatchSize:     2,
	})
	require.NoError(t, err)

	err = push.Push(pushCtx, client, push.Bundle{
		InstructionID: "2",
		TransformID:   "missing",
		Coder:         "varint",
		Values:        []string{"1"},
		BatchSize:     2,
	})
	require.ErrorIs(t, err, data.ErrUnknownEndpoint)

	resp, err := http.Get("http://" + config.Metrics.Addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "fnharness_inbound_bundles_total")
	require.Contains(t, string(body), "grpc_server_started_total")

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
