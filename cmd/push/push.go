// Package push contains the command to send one bundle to a data service.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/portablefn/fnharness/pkg/coder"
	"github.com/portablefn/fnharness/pkg/fnapi"
	"github.com/portablefn/fnharness/pkg/logger"
	"github.com/portablefn/fnharness/pkg/server/dataplane"
	"github.com/portablefn/fnharness/pkg/telemetry"
)

const (
	addrFlag          = "addr"
	instructionIDFlag = "instruction-id"
	transformIDFlag   = "transform-id"
	timerFamilyIDFlag = "timer-family-id"
	coderFlag         = "coder"
	batchSizeFlag     = "batch-size"
	timeoutFlag       = "timeout"
	traceEndpointFlag = "trace-otlp-endpoint"
	logFormatFlag     = "log-format"
	logLevelFlag      = "log-level"

	defaultBatchSize = 100
)

var ErrNoCompletion = errors.New("stream closed before the bundle completed")

func NewPushCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [values...]",
		Short: "Send one bundle to a data service",
		Long: `Encode the given values with a named coder and send them to a data service as one bundle.

When --timer-family-id is set the values are timer user keys and one timer firing now is sent per key.
The command exits once the service reports the bundle's completion.`,
		RunE: push,
	}

	flags := cmd.Flags()

	flags.String(addrFlag, "localhost:8070", "the host:port address of the data service")
	flags.String(instructionIDFlag, "", "the instruction id of the bundle. A random id is used when empty")
	flags.String(transformIDFlag, "input", "the transform id the values are addressed to")
	flags.String(timerFamilyIDFlag, "", "send the values as timer keys of this timer family")
	flags.String(coderFlag, coder.NameBytes, fmt.Sprintf("the coder used to encode values. One of %v", coder.Names()))
	flags.Int(batchSizeFlag, defaultBatchSize, "the number of values sent per batch")
	flags.Duration(timeoutFlag, 30*time.Second, "how long to wait for the service to become reachable and the bundle to complete")
	flags.String(traceEndpointFlag, "", "the endpoint of the trace collector. Tracing is disabled when empty")
	flags.String(logFormatFlag, "text", "the log format to output logs in")
	flags.String(logLevelFlag, "info", "the log level to use")

	cmd.PreRun = bindPushFlagsFunc(flags)

	return cmd
}

// Bundle describes the values pushed for one instruction.
type Bundle struct {
	InstructionID string
	TransformID   string
	TimerFamilyID string
	Coder         string
	Values        []string
	BatchSize     int
}

func push(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(viper.GetString(logFormatFlag), viper.GetString(logLevelFlag))
	if err != nil {
		return err
	}

	bundle := Bundle{
		InstructionID: viper.GetString(instructionIDFlag),
		TransformID:   viper.GetString(transformIDFlag),
		TimerFamilyID: viper.GetString(timerFamilyIDFlag),
		Coder:         viper.GetString(coderFlag),
		Values:        args,
		BatchSize:     viper.GetInt(batchSizeFlag),
	}
	if bundle.InstructionID == "" {
		bundle.InstructionID = uuid.NewString()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	tp := telemetry.Noop()
	if endpoint := viper.GetString(traceEndpointFlag); endpoint != "" {
		tp = telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(endpoint),
			telemetry.WithServiceName("fnharness-push"),
			telemetry.WithSamplingRatio(1),
		)
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}
	defer func() {
		if err := tp.Close(context.Background()); err != nil {
			log.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	conn, err := grpc.NewClient(viper.GetString(addrFlag), dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration(timeoutFlag))
	defer cancel()

	log.Info("pushing bundle",
		zap.String("instruction_id", bundle.InstructionID),
		zap.String("transform_id", bundle.TransformID),
		zap.Int("values", len(bundle.Values)))

	if err := Push(ctx, dataplane.NewDataServiceClient(conn), bundle); err != nil {
		log.Error("bundle failed", zap.String("instruction_id", bundle.InstructionID), zap.Error(err))
		return err
	}

	log.Info("bundle completed", zap.String("instruction_id", bundle.InstructionID))
	return nil
}

// Push sends bundle to the data service and waits for its completion notice.
// Opening the stream is retried with exponential backoff until ctx is done.
func Push(ctx context.Context, client dataplane.DataServiceClient, bundle Bundle) error {
	batches, err := bundle.batches()
	if err != nil {
		return err
	}

	var stream dataplane.DataService_DataClient
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err = backoff.Retry(func() error {
		var err error
		stream, err = client.Data(ctx)
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to open data stream: %w", err)
	}

	for _, batch := range batches {
		if err := stream.Send(batch); err != nil {
			// the server ended the stream; Recv reports why
			break
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		elements, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return ErrNoCompletion
		}
		if err != nil {
			return err
		}

		completions, err := dataplane.ParseCompletions(elements)
		if err != nil {
			return err
		}
		for _, c := range completions {
			if c.InstructionID == bundle.InstructionID {
				return c.Err
			}
		}
	}
}

// batches encodes the bundle's values, BatchSize at a time, and closes the
// endpoint with a final empty sub-element.
func (b Bundle) batches() ([]*fnapi.Elements, error) {
	if b.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", b.BatchSize)
	}

	c, err := coder.ByName(b.Coder)
	if err != nil {
		return nil, err
	}
	if b.TimerFamilyID != "" {
		c = coder.Erase(coder.TimerOf(c))
	}

	values := make([]any, 0, len(b.Values))
	now := time.Now()
	for _, s := range b.Values {
		v, err := coder.ParseValue(b.Coder, s)
		if err != nil {
			return nil, err
		}
		if b.TimerFamilyID != "" {
			v = coder.Timer[any]{UserKey: v, FireTimestamp: now, HoldTimestamp: now}
		}
		values = append(values, v)
	}

	var batches []*fnapi.Elements
	for start := 0; start < len(values); start += b.BatchSize {
		end := min(start+b.BatchSize, len(values))
		payload, err := coder.EncodeAll(c, values[start:end]...)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b.batch(payload, false))
	}
	return append(batches, b.batch(nil, true)), nil
}

func (b Bundle) batch(payload []byte, isLast bool) *fnapi.Elements {
	if b.TimerFamilyID != "" {
		return &fnapi.Elements{Timers: []*fnapi.Timers{{
			InstructionID: b.InstructionID,
			TransformID:   b.TransformID,
			TimerFamilyID: b.TimerFamilyID,
			Timers:        payload,
			IsLast:        isLast,
		}}}
	}
	return &fnapi.Elements{Data: []*fnapi.Data{{
		InstructionID: b.InstructionID,
		TransformID:   b.TransformID,
		Data:          payload,
		IsLast:        isLast,
	}}}
}
