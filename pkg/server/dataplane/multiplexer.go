package dataplane

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/portablefn/fnharness/pkg/fnapi"
	"github.com/portablefn/fnharness/pkg/logger"
	"github.com/portablefn/fnharness/pkg/storage"
)

const (
	DefaultMaxPendingBatches      = 1000
	DefaultPoisonedInstructionTTL = 10 * time.Minute
)

// Receiver accepts the batches of a single instruction. *data.InboundObserver
// is a Receiver.
type Receiver interface {
	Accept(elements *fnapi.Elements) error
}

// instruction serializes delivery to one receiver so that batches keep the order
// in which they were routed, including those buffered before registration.
type instruction struct {
	// registered is guarded by the multiplexer's mutex.
	registered bool

	mu       sync.Mutex
	receiver Receiver
	pending  []*fnapi.Elements
	closed   bool
}

func (i *instruction) dropPending() {
	pendingBatchesGauge.Sub(float64(len(i.pending)))
	droppedBatchesCounter.WithLabelValues(reasonClosed).Add(float64(len(i.pending)))
	i.pending = nil
}

// Multiplexer splits batches of a data stream by instruction id and hands each
// part to the receiver registered for that instruction. Batches for
// instructions that are not registered yet are buffered; batches for
// instructions that have been unregistered are dropped.
type Multiplexer struct {
	mu           sync.Mutex
	instructions map[string]*instruction
	poisoned     storage.InMemoryCache[bool]
	closed       bool

	maxPendingBatches int
	poisonedTTL       time.Duration
	logger            logger.Logger
}

type MultiplexerOption func(*Multiplexer)

// WithMaxPendingBatches bounds how many batches are buffered per unregistered
// instruction.
func WithMaxPendingBatches(n int) MultiplexerOption {
	return func(m *Multiplexer) {
		m.maxPendingBatches = n
	}
}

// WithPoisonedInstructionTTL sets how long batches for an unregistered
// instruction keep being dropped.
func WithPoisonedInstructionTTL(ttl time.Duration) MultiplexerOption {
	return func(m *Multiplexer) {
		m.poisonedTTL = ttl
	}
}

func WithMultiplexerLogger(l logger.Logger) MultiplexerOption {
	return func(m *Multiplexer) {
		m.logger = l
	}
}

// NewMultiplexer returns a multiplexer that remembers finished instructions in
// poisoned. The multiplexer owns the cache and stops it on Close.
func NewMultiplexer(poisoned storage.InMemoryCache[bool], opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		instructions:      make(map[string]*instruction),
		poisoned:          poisoned,
		maxPendingBatches: DefaultMaxPendingBatches,
		poisonedTTL:       DefaultPoisonedInstructionTTL,
		logger:            logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register attaches r to instructionID and delivers any batches buffered for it,
// in order. It blocks while r does not accept them, so the consumer of r must
// already be running.
func (m *Multiplexer) Register(instructionID string, r Receiver) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMultiplexerClosed
	}
	inst, ok := m.instructions[instructionID]
	if !ok {
		if m.poisoned.Get(instructionID) {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrInstructionFinished, instructionID)
		}
		inst = &instruction{}
		m.instructions[instructionID] = inst
	}
	if inst.registered {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, instructionID)
	}
	inst.registered = true
	m.mu.Unlock()

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.closed {
		return fmt.Errorf("%w: %s", ErrInstructionFinished, instructionID)
	}
	inst.receiver = r

	pending := inst.pending
	inst.pending = nil
	for i, batch := range pending {
		pendingBatchesGauge.Dec()
		if err := r.Accept(batch); err != nil {
			rest := len(pending) - i - 1
			pendingBatchesGauge.Sub(float64(rest))
			droppedBatchesCounter.WithLabelValues(reasonClosed).Add(float64(rest + 1))
			m.logger.Debug("receiver refused buffered batches",
				zap.String("instruction_id", instructionID),
				zap.Error(err),
			)
			break
		}
	}
	return nil
}

// Unregister detaches the receiver of instructionID and drops every later batch
// for it. Once Unregister returns no Accept on the old receiver is in flight.
func (m *Multiplexer) Unregister(instructionID string) {
	m.mu.Lock()
	inst := m.instructions[instructionID]
	delete(m.instructions, instructionID)
	if !m.closed {
		m.poisoned.Set(instructionID, true, m.poisonedTTL)
	}
	m.mu.Unlock()

	if inst == nil {
		return
	}
	inst.mu.Lock()
	inst.closed = true
	inst.receiver = nil
	inst.dropPending()
	inst.mu.Unlock()
}

// IsRegistered reports whether a receiver has been registered for
// instructionID and not unregistered since.
func (m *Multiplexer) IsRegistered(instructionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instructions[instructionID]
	return ok && inst.registered
}

// IsFinished reports whether instructionID has been unregistered recently.
func (m *Multiplexer) IsFinished(instructionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.poisoned.Get(instructionID)
}

// Route delivers a batch received on the stream. Sub-elements are grouped by
// instruction id; the data and timers of each instruction keep their relative
// order.
func (m *Multiplexer) Route(elements *fnapi.Elements) error {
	if elements == nil {
		return nil
	}

	if id, ok := singleInstruction(elements); ok {
		return m.deliver(id, elements)
	}

	var order []string
	batches := make(map[string]*fnapi.Elements)
	batchFor := func(id string) *fnapi.Elements {
		batch, ok := batches[id]
		if !ok {
			batch = &fnapi.Elements{}
			batches[id] = batch
			order = append(order, id)
		}
		return batch
	}
	for _, d := range elements.Data {
		batch := batchFor(d.InstructionID)
		batch.Data = append(batch.Data, d)
	}
	for _, t := range elements.Timers {
		batch := batchFor(t.InstructionID)
		batch.Timers = append(batch.Timers, t)
	}

	for _, id := range order {
		if err := m.deliver(id, batches[id]); err != nil {
			return err
		}
	}
	return nil
}

// Close drops all buffered batches and refuses further registrations.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	instructions := m.instructions
	m.instructions = nil
	m.mu.Unlock()

	for _, inst := range instructions {
		inst.mu.Lock()
		inst.closed = true
		inst.receiver = nil
		inst.dropPending()
		inst.mu.Unlock()
	}
	m.poisoned.Stop()
}

func (m *Multiplexer) deliver(instructionID string, batch *fnapi.Elements) error {
	inst, err := m.instruction(instructionID)
	if err != nil {
		return err
	}
	if inst == nil {
		droppedBatchesCounter.WithLabelValues(reasonPoisoned).Inc()
		return nil
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch {
	case inst.closed:
		droppedBatchesCounter.WithLabelValues(reasonPoisoned).Inc()
	case inst.receiver == nil:
		if len(inst.pending) >= m.maxPendingBatches {
			droppedBatchesCounter.WithLabelValues(reasonOverflow).Inc()
			return fmt.Errorf("%w: instruction %s", ErrPendingOverflow, instructionID)
		}
		inst.pending = append(inst.pending, batch)
		pendingBatchesGauge.Inc()
	default:
		if err := inst.receiver.Accept(batch); err != nil {
			droppedBatchesCounter.WithLabelValues(reasonClosed).Inc()
			m.logger.Debug("receiver refused batch",
				zap.String("instruction_id", instructionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// instruction returns the entry of instructionID, creating it when needed, or
// nil when the instruction has finished.
func (m *Multiplexer) instruction(instructionID string) (*instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMultiplexerClosed
	}
	if inst, ok := m.instructions[instructionID]; ok {
		return inst, nil
	}
	if m.poisoned.Get(instructionID) {
		return nil, nil
	}
	inst := &instruction{}
	m.instructions[instructionID] = inst
	return inst, nil
}

func singleInstruction(elements *fnapi.Elements) (string, bool) {
	var id string
	first := true
	for _, d := range elements.Data {
		if first {
			id, first = d.InstructionID, false
		} else if d.InstructionID != id {
			return "", false
		}
	}
	for _, t := range elements.Timers {
		if first {
			id, first = t.InstructionID, false
		} else if t.InstructionID != id {
			return "", false
		}
	}
	return id, !first
}
