package dataplane

import (
	"sort"
	"sync"
)

type request struct {
	sel  Selector
	prio Priority
}

// Registry keeps packet requests and processors for a PacketService
// implementation and fans received frames out to the processors.
type Registry struct {
	mu         sync.RWMutex
	requests   []request
	processors map[int]Processor
	nextID     int
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[int]Processor)}
}

func (r *Registry) RequestPackets(sel Selector, prio Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, req := range r.requests {
		if req.sel == sel {
			r.requests[i].prio = prio
			return
		}
	}
	r.requests = append(r.requests, request{sel: sel, prio: prio})
	sort.SliceStable(r.requests, func(i, j int) bool {
		return r.requests[i].prio > r.requests[j].prio
	})
}

func (r *Registry) CancelPackets(sel Selector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.requests[:0]
	for _, req := range r.requests {
		if req.sel != sel {
			out = append(out, req)
		}
	}
	r.requests = out
}

func (r *Registry) AddProcessor(p Processor) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.processors[r.nextID] = p
	return r.nextID
}

func (r *Registry) RemoveProcessor(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processors, id)
}

// Wanted reports whether any active request matches pkt.
func (r *Registry) Wanted(pkt *ParsedPacket) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.sel.Matches(pkt) {
			return true
		}
	}
	return false
}

// Deliver hands pkt to every processor when it matches a request.
func (r *Registry) Deliver(pkt *ParsedPacket) bool {
	if !r.Wanted(pkt) {
		return false
	}
	r.mu.RLock()
	procs := make([]Processor, 0, len(r.processors))
	for _, p := range r.processors {
		procs = append(procs, p)
	}
	r.mu.RUnlock()

	for _, p := range procs {
		p(pkt)
	}
	return true
}
