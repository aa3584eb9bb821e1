package dataplane

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/portablefn/fnharness/pkg/data"
	"github.com/portablefn/fnharness/pkg/fnapi"
	"github.com/portablefn/fnharness/pkg/logger"
	"github.com/portablefn/fnharness/pkg/storage"
)

const (
	DefaultPoisonedInstructionCacheSize = 10000
	DefaultDrainTimeout                 = 10 * time.Second
	DefaultMaxPooledObservers           = 16
)

// Server implements the data service. Every instruction id seen on a stream
// gets its own observer, consumed on its own goroutine; when the bundle ends a
// completion notice is sent back on the stream.
type Server struct {
	pool   *observerPool
	logger logger.Logger

	maxPendingBatches            int
	poisonedInstructionTTL       time.Duration
	poisonedInstructionCacheSize int64
	drainTimeout                 time.Duration

	serving atomic.Bool
}

var _ DataServiceServer = (*Server)(nil)

type ServerOption func(*Server)

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

func WithServerMaxPendingBatches(n int) ServerOption {
	return func(s *Server) {
		s.maxPendingBatches = n
	}
}

func WithServerPoisonedInstructionTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.poisonedInstructionTTL = ttl
	}
}

func WithPoisonedInstructionCacheSize(size int64) ServerOption {
	return func(s *Server) {
		s.poisonedInstructionCacheSize = size
	}
}

// WithDrainTimeout bounds how long bundles may keep running once the client has
// closed its side of the stream. 0 waits for them indefinitely.
func WithDrainTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.drainTimeout = d
	}
}

func WithMaxPooledObservers(n int) ServerOption {
	return func(s *Server) {
		s.pool.max = n
	}
}

func NewServer(newObserver ObserverFactory, opts ...ServerOption) *Server {
	s := &Server{
		pool:                         newObserverPool(newObserver, DefaultMaxPooledObservers),
		logger:                       logger.NewNoopLogger(),
		maxPendingBatches:            DefaultMaxPendingBatches,
		poisonedInstructionTTL:       DefaultPoisonedInstructionTTL,
		poisonedInstructionCacheSize: DefaultPoisonedInstructionCacheSize,
		drainTimeout:                 DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.serving.Store(true)
	return s
}

// IsReady reports whether the server accepts new streams.
func (s *Server) IsReady(context.Context) (bool, error) {
	return s.serving.Load(), nil
}

// Shutdown makes the server report itself as not ready. Open streams are left to
// the gRPC server to drain.
func (s *Server) Shutdown() {
	s.serving.Store(false)
}

func (s *Server) Data(stream DataService_DataServer) error {
	ctx := stream.Context()
	log := s.logger.With(zap.String("stream_id", uuid.NewString()))

	dataStreamsActiveGauge.Inc()
	defer dataStreamsActiveGauge.Dec()

	poisoned, err := storage.NewInMemoryTTLCache[bool](
		storage.WithMaxCacheSize[bool](s.poisonedInstructionCacheSize),
	)
	if err != nil {
		return toGRPCError(err)
	}
	mux := NewMultiplexer(poisoned,
		WithMaxPendingBatches(s.maxPendingBatches),
		WithPoisonedInstructionTTL(s.poisonedInstructionTTL),
		WithMultiplexerLogger(log),
	)
	defer mux.Close()

	bundleCtx, cancelBundles := context.WithCancelCause(ctx)
	defer cancelBundles(nil)

	var sendMu sync.Mutex
	send := func(elements *fnapi.Elements) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(elements)
	}

	log.InfoWithContext(ctx, "data stream opened")

	bundles := pool.New()
	recvErr := s.receive(stream, mux, func(instructionID string) error {
		observer, err := s.pool.get()
		if err != nil {
			return err
		}
		bundles.Go(func() {
			s.consume(bundleCtx, log, mux, instructionID, observer, send)
		})
		if err := mux.Register(instructionID, observer); err != nil {
			log.Debug("instruction not registered",
				zap.String("instruction_id", instructionID),
				zap.Error(err),
			)
		}
		return nil
	})

	if recvErr != nil {
		cancelBundles(recvErr)
	} else if s.drainTimeout > 0 {
		timer := time.AfterFunc(s.drainTimeout, func() {
			cancelBundles(ErrDrainTimeout)
		})
		defer timer.Stop()
	}
	bundles.Wait()

	if recvErr != nil {
		log.WarnWithContext(ctx, "data stream failed", zap.Error(recvErr))
		return toGRPCError(recvErr)
	}
	log.InfoWithContext(ctx, "data stream closed")
	return nil
}

// receive routes batches until the client closes its side of the stream. start is
// called for every instruction id that has neither a receiver nor finished.
func (s *Server) receive(stream DataService_DataServer, mux *Multiplexer, start func(instructionID string) error) error {
	for {
		elements, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, id := range instructionIDs(elements) {
			if mux.IsRegistered(id) || mux.IsFinished(id) {
				continue
			}
			if err := start(id); err != nil {
				return err
			}
		}

		if err := mux.Route(elements); err != nil {
			return err
		}
	}
}

func (s *Server) consume(
	ctx context.Context,
	log logger.Logger,
	mux *Multiplexer,
	instructionID string,
	observer *data.InboundObserver,
	send func(*fnapi.Elements) error,
) {
	bundlesInFlightGauge.Inc()
	defer bundlesInFlightGauge.Dec()

	observer.SetInstructionID(instructionID)
	start := time.Now()
	err := observer.AwaitCompletion(ctx)
	bundleDurationHistogram.Observe(float64(time.Since(start).Milliseconds()))

	mux.Unregister(instructionID)

	if err != nil {
		log.InfoWithContext(ctx, "bundle failed",
			zap.String("instruction_id", instructionID),
			zap.Strings("unfinished_endpoints", observer.UnfinishedEndpoints()),
			zap.Error(err),
		)
	} else {
		log.DebugWithContext(ctx, "bundle complete", zap.String("instruction_id", instructionID))
	}

	notice, nerr := newCompletionNotice(instructionID, err)
	if nerr == nil {
		nerr = send(notice)
	}
	if nerr != nil {
		log.Debug("failed to send completion notice",
			zap.String("instruction_id", instructionID),
			zap.Error(nerr),
		)
	}

	s.pool.put(observer)
}

// instructionIDs lists the distinct instruction ids of a batch in order of first
// appearance.
func instructionIDs(elements *fnapi.Elements) []string {
	if id, ok := singleInstruction(elements); ok {
		return []string{id}
	}

	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, d := range elements.Data {
		add(d.InstructionID)
	}
	for _, t := range elements.Timers {
		add(t.InstructionID)
	}
	return ids
}
