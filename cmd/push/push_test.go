package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portablefn/fnharness/pkg/coder"
	"github.com/portablefn/fnharness/pkg/data"
	"github.com/portablefn/fnharness/pkg/server/dataplane"
)

type recorder struct {
	withTimers bool

	mu     sync.Mutex
	values []int64
	timers []string
}

func (r *recorder) factory() dataplane.ObserverFactory {
	return func() (*data.InboundObserver, error) {
		dataEndpoints := []data.DataEndpoint{
			data.NewDataEndpoint("input", coder.VarInt(), func(v int64) error {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.values = append(r.values, v)
				return nil
			}),
		}

		var timerEndpoints []data.TimerEndpoint
		if r.withTimers {
			timerEndpoints = append(timerEndpoints,
				data.NewTimerEndpoint("pardo", "fam", coder.TimerOf(coder.StringUTF8()), func(t coder.Timer[string]) error {
					r.mu.Lock()
					defer r.mu.Unlock()
					r.timers = append(r.timers, t.UserKey)
					return nil
				}))
		}

		return data.NewInboundObserver(dataEndpoints, timerEndpoints)
	}
}

func setup(t *testing.T, withTimers bool, opts ...dataplane.ServerOption) (dataplane.DataServiceClient, *recorder) {
	r := &recorder{withTimers: withTimers}
	conn, _ := dataplane.SetupTestClientServer(t, r.factory(), opts...)
	return dataplane.NewDataServiceClient(conn), r
}

func TestPushBundle(t *testing.T) {
	client, r := setup(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := Push(ctx, client, Bundle{
		InstructionID: "1",
		TransformID:   "input",
		Coder:         coder.NameVarInt,
		Values:        []string{"7", "-1", "42"},
		BatchSize:     2,
	})
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, []int64{7, -1, 42}, r.values)
}

func TestPushIncompleteBundleTimesOut(t *testing.T) {
	client, _ := setup(t, true, dataplane.WithDrainTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the data endpoint never receives its last element
	err := Push(ctx, client, Bundle{
		InstructionID: "1",
		TransformID:   "pardo",
		TimerFamilyID: "fam",
		Coder:         coder.NameStringUTF8,
		Values:        []string{"a", "b"},
		BatchSize:     defaultBatchSize,
	})
	require.ErrorIs(t, err, dataplane.ErrDrainTimeout)
}

func TestPushDataAndTimersCompleteBundle(t *testing.T) {
	client, r := setup(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.Data(ctx)
	require.NoError(t, err)

	dataBundle := Bundle{InstructionID: "1", TransformID: "input", Coder: coder.NameVarInt, Values: []string{"1", "2", "3"}, BatchSize: 2}
	timerBundle := Bundle{InstructionID: "1", TransformID: "pardo", TimerFamilyID: "fam", Coder: coder.NameStringUTF8, Values: []string{"k"}, BatchSize: 2}

	for _, b := range []Bundle{dataBundle, timerBundle} {
		batches, err := b.batches()
		require.NoError(t, err)
		for _, batch := range batches {
			require.NoError(t, stream.Send(batch))
		}
	}
	require.NoError(t, stream.CloseSend())

	elements, err := stream.Recv()
	require.NoError(t, err)
	completions, err := dataplane.ParseCompletions(elements)
	require.NoError(t, err)
	require.Equal(t, []dataplane.Completion{{InstructionID: "1"}}, completions)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, []int64{1, 2, 3}, r.values)
	require.Equal(t, []string{"k"}, r.timers)
}

func TestPushReportsFailedBundle(t *testing.T) {
	client, _ := setup(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := Push(ctx, client, Bundle{
		InstructionID: "1",
		TransformID:   "missing",
		Coder:         coder.NameVarInt,
		Values:        []string{"1"},
		BatchSize:     defaultBatchSize,
	})
	require.ErrorIs(t, err, data.ErrUnknownEndpoint)
}

func TestBundleBatches(t *testing.T) {
	b := Bundle{InstructionID: "1", TransformID: "input", Coder: coder.NameVarInt, Values: []string{"1", "2", "3", "4", "5"}, BatchSize: 2}

	batches, err := b.batches()
	require.NoError(t, err)
	require.Len(t, batches, 4)

	var decoded []any
	for i, batch := range batches {
		require.Len(t, batch.Data, 1)
		require.Empty(t, batch.Timers)
		require.Equal(t, "1", batch.Data[0].InstructionID)
		require.Equal(t, i == len(batches)-1, batch.Data[0].IsLast)

		values, err := coder.DecodeAll(coder.Erase(coder.VarInt()), batch.Data[0].Data)
		require.NoError(t, err)
		decoded = append(decoded, values...)
	}
	require.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, decoded)
}

func TestBundleWithoutValuesOnlyCloses(t *testing.T) {
	b := Bundle{InstructionID: "1", TransformID: "input", Coder: coder.NameBytes, BatchSize: 1}

	batches, err := b.batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.True(t, batches[0].Data[0].IsLast)
	require.Empty(t, batches[0].Data[0].Data)
}

func TestBundleBatchesErrors(t *testing.T) {
	tests := map[string]struct {
		bundle Bundle
		target error
	}{
		"zero_batch_size": {
			bundle: Bundle{Coder: coder.NameVarInt},
		},
		"unknown_coder": {
			bundle: Bundle{Coder: "bigint", BatchSize: 1},
			target: coder.ErrUnknownCoder,
		},
		"invalid_value": {
			bundle: Bundle{Coder: coder.NameVarInt, Values: []string{"one"}, BatchSize: 1},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := test.bundle.batches()
			require.Error(t, err)
			if test.target != nil {
				require.ErrorIs(t, err, test.target)
			}
		})
	}
}
