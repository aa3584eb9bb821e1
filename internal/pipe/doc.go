// Package pipe provides a bounded, cancellable queue used to hand batches from a
// network goroutine to a processing goroutine.
//
// The capacity of a Queue is the only backpressure mechanism between the two: a
// producer that runs ahead by more than the capacity stalls in Put until the
// consumer catches up. Cancel releases both sides at once and carries a cause that
// every pending and later call observes through *CancelledError.
package pipe
