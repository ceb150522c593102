package aap

import "sync"

// Deliverer receives a reassembled ADU addressed to a registered sink
// (spec §4.9 "agent_forward(agent_id, adu)").
type Deliverer interface {
	deliver(source string, payload []byte) error
}

// Registry maps a registered sink id (the EID suffix after the local base
// EID) to the connection currently serving it. REGISTER replaces any
// existing registration for that sink (spec §4.10), so a reconnecting
// application simply re-registers.
type Registry struct {
	mu    sync.Mutex
	sinks map[string]Deliverer
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Deliverer)}
}

// Register binds sink to d, replacing any previous registration.
func (r *Registry) Register(sink string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[sink] = d
}

// Deregister removes sink's registration, but only if d still owns it (a
// connection that lost a race to a newer REGISTER must not evict it).
func (r *Registry) Deregister(sink string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks[sink] == d {
		delete(r.sinks, sink)
	}
}

// Forward is the proc.AgentForward entry point: delivers payload from
// source to the application currently registered for sink.
func (r *Registry) Forward(sink, source string, payload []byte) error {
	r.mu.Lock()
	d, ok := r.sinks[sink]
	r.mu.Unlock()
	if !ok {
		return errNotRegistered(sink)
	}
	return d.deliver(source, payload)
}

type errNotRegistered string

func (e errNotRegistered) Error() string { return "aap: no application registered for sink " + string(e) }
