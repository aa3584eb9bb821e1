// Package data implements the inbound side of the data plane: it receives batches
// of encoded elements from a transport and demultiplexes them, in order, onto the
// endpoints registered for a bundle.
//
// # Architecture
//
//	transport goroutine              consumer goroutine
//	      │                                  │
//	  Accept(elements)                 AwaitCompletion(ctx)
//	      │                                  │
//	      ▼                                  ▼
//	┌───────────────────────────────────────────┐
//	│        pipe.Queue[*fnapi.Elements]         │  bounded, cancellable
//	└───────────────────────────────────────────┘
//	                                         │
//	                                   Multiplex(elements)
//	                                         │
//	               ┌─────────────────────────┼─────────────────────────┐
//	               ▼                         ▼                         ▼
//	     DataEndpoint "read"       DataEndpoint "side"      TimerEndpoint "pardo/fam1"
//	     coder → receiver          coder → receiver          coder → receiver
//
// An InboundObserver is built once for a fixed set of endpoints. A bundle is
// complete when every endpoint has received a sub-element marked IsLast. The
// same observer can serve the next bundle after Reset.
//
// # Ordering
//
// Batches are multiplexed in the order they were accepted. Within a batch all data
// sub-elements are processed before any timer sub-element, each in the order given.
// There is no fan-out across endpoints.
//
// # Failure
//
// Any failure while consuming (an unknown endpoint, data after the end of a stream,
// a decode or receiver error) cancels the queue with that error, so a producer
// blocked in Accept fails with it too, and is returned from AwaitCompletion. Close
// releases both sides with ErrObserverClosed. Nothing is retried.
//
// # Usage
//
//	obs := data.MustNewInboundObserver(
//	    []data.DataEndpoint{data.NewDataEndpoint("read", coder.VarInt(), func(v int64) error {
//	        return process(v)
//	    })},
//	    nil,
//	)
//
//	go func() {
//	    for batch := range batches {
//	        if err := obs.Accept(batch); err != nil {
//	            return
//	        }
//	    }
//	}()
//
//	if err := obs.AwaitCompletion(ctx); err != nil {
//	    log.Printf("unfinished: %v", obs.UnfinishedEndpoints())
//	}
package data
