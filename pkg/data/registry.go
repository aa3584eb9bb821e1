package data

import (
	"sort"

	"github.com/portablefn/fnharness/pkg/fnapi"
)

// endpointStatus tracks whether an endpoint has seen the end of its stream.
type endpointStatus[T any] struct {
	endpoint T
	isDone   bool
}

// registry holds the endpoints of an observer. Only the consumer goroutine
// mutates it, so it is not synchronized.
type registry struct {
	data   map[string]*endpointStatus[DataEndpoint]
	timers map[string]map[string]*endpointStatus[TimerEndpoint]

	total      int
	incomplete int
}

func newRegistry(dataEndpoints []DataEndpoint, timerEndpoints []TimerEndpoint) *registry {
	r := &registry{
		data:   make(map[string]*endpointStatus[DataEndpoint], len(dataEndpoints)),
		timers: make(map[string]map[string]*endpointStatus[TimerEndpoint]),
		total:  len(dataEndpoints) + len(timerEndpoints),
	}
	for _, endpoint := range dataEndpoints {
		r.data[endpoint.TransformID] = &endpointStatus[DataEndpoint]{endpoint: endpoint}
	}
	for _, endpoint := range timerEndpoints {
		families, ok := r.timers[endpoint.TransformID]
		if !ok {
			families = make(map[string]*endpointStatus[TimerEndpoint])
			r.timers[endpoint.TransformID] = families
		}
		families[endpoint.TimerFamilyID] = &endpointStatus[TimerEndpoint]{endpoint: endpoint}
	}
	r.incomplete = r.total
	return r
}

func (r *registry) dataEndpoint(d *fnapi.Data) (*endpointStatus[DataEndpoint], error) {
	status, ok := r.data[d.TransformID]
	if !ok {
		return nil, unknownDataEndpoint(d.InstructionID, d.TransformID)
	}
	if status.isDone {
		return nil, dataAfterDone(d.InstructionID, d.TransformID)
	}
	return status, nil
}

func (r *registry) timerEndpoint(t *fnapi.Timers) (*endpointStatus[TimerEndpoint], error) {
	status, ok := r.timers[t.TransformID][t.TimerFamilyID]
	if !ok {
		return nil, unknownTimerEndpoint(t.InstructionID, t.TransformID, t.TimerFamilyID)
	}
	if status.isDone {
		return nil, timerAfterDone(t.InstructionID, t.TransformID, t.TimerFamilyID)
	}
	return status, nil
}

// markDone must be called at most once per endpoint and bundle; the lookups above
// refuse endpoints that are already done.
func markDone[T any](r *registry, status *endpointStatus[T]) {
	status.isDone = true
	r.incomplete--
}

func (r *registry) done() bool {
	return r.incomplete == 0
}

func (r *registry) reset() {
	r.incomplete = r.total
	for _, status := range r.data {
		status.isDone = false
	}
	for _, families := range r.timers {
		for _, status := range families {
			status.isDone = false
		}
	}
}

// unfinished lists endpoints that have not completed as "<transform>:data" and
// "<transform>:timers:<family>", data endpoints first, each group sorted.
func (r *registry) unfinished() []string {
	var dataEndpoints, timerEndpoints []string
	for transformID, status := range r.data {
		if !status.isDone {
			dataEndpoints = append(dataEndpoints, transformID+":data")
		}
	}
	for transformID, families := range r.timers {
		for timerFamilyID, status := range families {
			if !status.isDone {
				timerEndpoints = append(timerEndpoints, transformID+":timers:"+timerFamilyID)
			}
		}
	}
	sort.Strings(dataEndpoints)
	sort.Strings(timerEndpoints)
	return append(dataEndpoints, timerEndpoints...)
}
