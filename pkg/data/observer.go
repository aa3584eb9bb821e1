package data

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/portablefn/fnharness/internal/pipe"
	"github.com/portablefn/fnharness/pkg/coder"
	"github.com/portablefn/fnharness/pkg/fnapi"
	"github.com/portablefn/fnharness/pkg/logger"
	"github.com/portablefn/fnharness/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/data")

// DefaultQueueCapacity bounds the number of batches buffered between the
// transport and the consumer.
const DefaultQueueCapacity = 100

// State describes where an observer is in its bundle lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConsuming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsuming:
		return "consuming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Option func(*InboundObserver)

// WithLogger sets the logger used to report bundle outcomes.
func WithLogger(l logger.Logger) Option {
	return func(o *InboundObserver) {
		o.logger = l
	}
}

// WithInstructionID labels the bundle's logs and spans with instructionID.
func WithInstructionID(instructionID string) Option {
	return func(o *InboundObserver) {
		o.instructionID = instructionID
	}
}

// WithQueueCapacity sets how many batches Accept may buffer before blocking.
func WithQueueCapacity(capacity int) Option {
	return func(o *InboundObserver) {
		o.queueCapacity = capacity
	}
}

// InboundObserver multiplexes accepted batches onto a fixed set of data and timer
// endpoints. Accept is called by a single producer; AwaitCompletion, Reset and
// UnfinishedEndpoints by a single consumer. Close and IsConsumingReceivedData are
// safe from any goroutine.
type InboundObserver struct {
	registry      *registry
	queue         *pipe.Queue[*fnapi.Elements]
	queueCapacity int
	logger        logger.Logger
	instructionID string
	cursor        coder.Cursor

	consumingReceivedData atomic.Bool
	state                 atomic.Int32
}

// NewInboundObserver builds an observer for the given endpoints. Endpoint
// identities are expected to be unique.
func NewInboundObserver(dataEndpoints []DataEndpoint, timerEndpoints []TimerEndpoint, opts ...Option) (*InboundObserver, error) {
	o := &InboundObserver{
		registry:      newRegistry(dataEndpoints, timerEndpoints),
		queueCapacity: DefaultQueueCapacity,
		logger:        logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	queue, err := pipe.NewQueue[*fnapi.Elements](o.queueCapacity)
	if err != nil {
		return nil, ErrInvalidCapacity
	}
	o.queue = queue
	return o, nil
}

// MustNewInboundObserver is like NewInboundObserver but panics on invalid options.
func MustNewInboundObserver(dataEndpoints []DataEndpoint, timerEndpoints []TimerEndpoint, opts ...Option) *InboundObserver {
	o, err := NewInboundObserver(dataEndpoints, timerEndpoints, opts...)
	if err != nil {
		panic(err)
	}
	return o
}

// Accept hands a batch to the consumer, blocking while the queue is full. It fails
// once the observer has been closed or the consumer has failed.
func (o *InboundObserver) Accept(elements *fnapi.Elements) error {
	start := time.Now()
	err := o.queue.Put(elements)
	inboundAcceptWaitHistogram.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return err
	}
	inboundBatchesCounter.Inc()
	return nil
}

// Flush is not supported on the inbound side.
func (o *InboundObserver) Flush() error {
	return errors.ErrUnsupported
}

// Close releases any producer blocked in Accept and any consumer blocked in
// AwaitCompletion with ErrObserverClosed. It may be called repeatedly.
func (o *InboundObserver) Close() error {
	o.queue.Cancel(ErrObserverClosed)
	return nil
}

// IsConsumingReceivedData reports whether the consumer is working on a batch
// rather than waiting for the next one. It is advisory only.
func (o *InboundObserver) IsConsumingReceivedData() bool {
	return o.consumingReceivedData.Load()
}

// State returns the lifecycle state of the current bundle. It is advisory only.
func (o *InboundObserver) State() State {
	return State(o.state.Load())
}

// UnfinishedEndpoints lists the endpoints that have not signaled the end of their
// stream, as "<transform>:data" and "<transform>:timers:<family>". It must not be
// called while AwaitCompletion is running.
func (o *InboundObserver) UnfinishedEndpoints() []string {
	return o.registry.unfinished()
}

// SetInstructionID labels the next bundle's logs and spans. It is called by the
// consumer before AwaitCompletion, typically after Reset when the observer is reused.
func (o *InboundObserver) SetInstructionID(instructionID string) {
	o.instructionID = instructionID
}

// InstructionID returns the label set by WithInstructionID or SetInstructionID.
func (o *InboundObserver) InstructionID() string {
	return o.instructionID
}

// Reset prepares the observer for another bundle and clears its instruction id. The
// previous bundle must have completed or been closed, and no Accept may be in flight.
func (o *InboundObserver) Reset() {
	o.instructionID = ""
	o.registry.reset()
	o.queue.Reset()
	o.consumingReceivedData.Store(false)
	o.state.Store(int32(StateIdle))
}

// AwaitCompletion uses the calling goroutine to multiplex batches until every
// endpoint has received the end of its stream. Errors from batches, decoders and
// receivers are returned, and also fail any producer blocked in Accept.
//
// When ctx is done the queue is cancelled with the context's cause; callers that
// want a deadline pass a context that has one. The observer is closed on return.
func (o *InboundObserver) AwaitCompletion(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "inbound.AwaitCompletion", trace.WithAttributes(
		attribute.String("instruction_id", o.instructionID),
		attribute.Int("endpoints", o.registry.total),
	))
	defer span.End()

	o.state.Store(int32(StateConsuming))
	cancelled := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(cancelled)
		o.queue.Cancel(context.Cause(ctx))
	})

	defer func() {
		// A cancel that has already started must land before the caller can Reset.
		if !stop() {
			<-cancelled
		}
		o.consumingReceivedData.Store(false)
		_ = o.Close()
		o.finish(ctx, span, err)
	}()

	for {
		// The consumer has handled everything it received before it asks for more.
		o.consumingReceivedData.Store(false)

		elements, err := o.queue.Take()
		if err != nil {
			o.queue.Cancel(err)
			return err
		}

		o.consumingReceivedData.Store(true)
		done, err := o.Multiplex(elements)
		if err != nil {
			o.queue.Cancel(err)
			return err
		}
		if done {
			return nil
		}
	}
}

func (o *InboundObserver) finish(ctx context.Context, span trace.Span, err error) {
	instruction := zap.String("instruction_id", o.instructionID)
	if err == nil {
		o.state.Store(int32(StateComplete))
		inboundBundlesCounter.WithLabelValues(outcomeComplete).Inc()
		o.logger.DebugWithContext(ctx, "inbound bundle complete", instruction)
		return
	}

	o.state.Store(int32(StateFailed))
	telemetry.TraceError(span, err)

	if errors.Is(err, ErrObserverClosed) || errors.Is(err, context.Canceled) {
		inboundBundlesCounter.WithLabelValues(outcomeCancelled).Inc()
		o.logger.DebugWithContext(ctx, "inbound bundle cancelled", instruction, zap.Error(err))
		return
	}

	inboundBundlesCounter.WithLabelValues(outcomeFailed).Inc()
	o.logger.WarnWithContext(ctx, "inbound bundle failed",
		instruction,
		zap.Error(err),
		zap.Strings("unfinished_endpoints", o.registry.unfinished()),
	)
}

// Multiplex delivers one batch to its endpoints and reports whether every endpoint
// is now done. Each sub-element is released from the batch as soon as it is taken
// so that large payloads do not stay reachable for the rest of the batch.
func (o *InboundObserver) Multiplex(elements *fnapi.Elements) (bool, error) {
	if elements == nil {
		return o.registry.done(), nil
	}

	for i := range elements.Data {
		d := elements.Data[i]
		elements.Data[i] = nil
		if err := o.multiplexData(d); err != nil {
			return false, err
		}
	}
	elements.Data = nil

	for i := range elements.Timers {
		t := elements.Timers[i]
		elements.Timers[i] = nil
		if err := o.multiplexTimers(t); err != nil {
			return false, err
		}
	}
	elements.Timers = nil

	return o.registry.done(), nil
}

func (o *InboundObserver) multiplexData(d *fnapi.Data) error {
	status, err := o.registry.dataEndpoint(d)
	if err != nil {
		return err
	}

	n, err := o.decode(status.endpoint.sink, d.Data)
	inboundDecodedElementsCounter.WithLabelValues(kindData).Add(float64(n))
	if err != nil {
		return annotate(err, d.InstructionID, d.TransformID)
	}

	if d.IsLast {
		markDone(o.registry, status)
	}
	return nil
}

func (o *InboundObserver) multiplexTimers(t *fnapi.Timers) error {
	status, err := o.registry.timerEndpoint(t)
	if err != nil {
		return err
	}

	n, err := o.decode(status.endpoint.sink, t.Timers)
	inboundDecodedElementsCounter.WithLabelValues(kindTimers).Add(float64(n))
	if err != nil {
		return annotate(err, t.InstructionID, t.TransformID+":timers:"+t.TimerFamilyID)
	}

	if t.IsLast {
		markDone(o.registry, status)
	}
	return nil
}

// decode feeds payload through s until no bytes remain and returns the number of
// values delivered.
func (o *InboundObserver) decode(s sink, payload []byte) (int, error) {
	o.cursor.Reset(payload)
	defer o.cursor.Release()

	var n int
	for o.cursor.Len() > 0 {
		if err := s(&o.cursor); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func annotate(err error, instructionID, endpoint string) error {
	switch e := err.(type) {
	case *DecodeError:
		e.InstructionID = instructionID
		e.Endpoint = endpoint
	case *SinkError:
		e.InstructionID = instructionID
		e.Endpoint = endpoint
	}
	return err
}
