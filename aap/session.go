package aap

import (
	"net"
	"sync"
	"time"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/eid"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/store"
)

// Config bundles a Session's tunables (spec §4.10, SPEC_FULL.md's PING
// idle-timeout supplement).
type Config struct {
	LocalEID         string
	BPVersion        bundle.Version
	BundleLifetime   uint64
	MaxPayloadLength uint64
	// IdleTimeout: if no byte crosses the connection for this long, the
	// session emits PING; if the peer still hasn't answered by the next
	// IdleTimeout, the connection is dropped (SPEC_FULL.md C11 addition,
	// grounded on the posix comm task's poll loop, which the distilled
	// spec names the PING message for but never specifies a trigger).
	IdleTimeout time.Duration
}

func DefaultConfig(localEID string) Config {
	return Config{
		LocalEID:         localEID,
		BPVersion:        bundle.Version7,
		BundleLifetime:   3600,
		MaxPayloadLength: 64 << 20,
		IdleTimeout:      30 * time.Second,
	}
}

// Session is one AAP connection's comm task (spec §5 "per-AAP-connection
// comm (1 each)"), grounded on
// original_source/components/agents/posix/application_agent.c's
// application_agent_comm_task, reworked into a blocking-read goroutine per
// connection rather than a poll loop over a raw socket.
type Session struct {
	cfg      Config
	conn     net.Conn
	parser   *Parser
	registry *Registry
	store    *store.Store
	proc     *proc.Processor

	localEID eid.EndpointID

	writeMu sync.Mutex
	mu      sync.Mutex
	sink    string // registered sink id, "" if none
}

func newSession(conn net.Conn, registry *Registry, st *store.Store, p *proc.Processor, cfg Config) *Session {
	parsed, err := eid.Parse(cfg.LocalEID)
	if err != nil {
		nlog.Warningf("aap: local EID %q does not parse: %v", cfg.LocalEID, err)
		parsed = eid.None()
	}
	return &Session{
		cfg:      cfg,
		conn:     conn,
		parser:   NewParser(conn, cfg.MaxPayloadLength),
		registry: registry,
		store:    st,
		proc:     p,
		localEID: parsed,
	}
}

// Run serves the connection until it closes or a protocol error is fatal.
// It always cleans up the connection's sink registration before returning.
func (s *Session) Run() {
	defer s.cleanup()

	if err := s.send(&Message{Type: Welcome, EID: s.cfg.LocalEID}); err != nil {
		nlog.Warningf("aap: sending WELCOME failed: %v", err)
		return
	}

	pinged := false
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		msg, err := s.parser.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				if pinged {
					nlog.Infof("aap: connection idle past two timeouts, closing")
					return
				}
				pinged = true
				if err := s.send(&Message{Type: Ping}); err != nil {
					return
				}
				continue
			}
			return // EOF, reset, or a malformed header: the connection is done
		}
		pinged = false
		if !s.handle(msg) {
			return
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// handle processes one decoded message, replying as needed. Returns false
// if the connection should be closed.
func (s *Session) handle(msg *Message) bool {
	switch msg.Type {
	case Register:
		s.handleRegister(msg.EID)
		return true
	case SendBundle:
		s.handleSendBundle(msg.EID, msg.Payload)
		return true
	case CancelBundle:
		// Bundle cancellation has no processor-side signal to drive it
		// (spec §4.9 names no cancel path); NACK, matching the original's
		// explicit "not implemented".
		_ = s.send(&Message{Type: Nack})
		return true
	case Ping:
		_ = s.send(&Message{Type: Ack})
		return true
	default:
		nlog.Warningf("aap: unexpected client message %s", msg.Type)
		_ = s.send(&Message{Type: Nack})
		return true
	}
}

func (s *Session) handleRegister(sinkEID string) {
	s.mu.Lock()
	prevSink := s.sink
	s.mu.Unlock()
	if prevSink != "" {
		s.registry.Deregister(prevSink, s)
	}

	if sinkEID == "" {
		s.mu.Lock()
		s.sink = ""
		s.mu.Unlock()
		_ = s.send(&Message{Type: Ack})
		return
	}

	s.registry.Register(sinkEID, s)
	s.mu.Lock()
	s.sink = sinkEID
	s.mu.Unlock()
	nlog.Infof("aap: registered sink %q", sinkEID)
	_ = s.send(&Message{Type: Ack})
}

func (s *Session) handleSendBundle(dest string, payload []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == "" {
		nlog.Warningf("aap: SENDBUNDLE with no registered sink, dropping")
		_ = s.send(&Message{Type: Nack})
		return
	}

	id, err := s.submitLocalBundle(sink, dest, payload)
	if err != nil {
		nlog.Warningf("aap: bundle creation for sink %q failed: %v", sink, err)
		_ = s.send(&Message{Type: Nack})
		return
	}
	_ = s.send(&Message{Type: SendConfirm, BundleID: uint64(id)})
}

// submitLocalBundle builds a bundle whose source is <local-eid>/<sink>
// (spec §4.9 "agent_id is the suffix after the local EID"), stores it, and
// asks the processor to dispatch it (BP_SIGNAL_BUNDLE_LOCAL_DISPATCH).
func (s *Session) submitLocalBundle(sink, dest string, payload []byte) (uint16, error) {
	dst, err := eid.Parse(dest)
	if err != nil {
		return 0, err
	}
	src := eid.EndpointID{Scheme: s.localEID.Scheme, SSP: s.localEID.SSP + "/" + sink, Node: s.localEID.Node, Service: s.localEID.Service}

	b := &bundle.Bundle{
		Version:           s.cfg.BPVersion,
		Flags:             bundle.IsSingleton,
		Source:            src,
		Dest:              dst,
		ReportTo:          eid.None(),
		Custodian:         eid.None(),
		CreationTimestamp: s.proc.Now(),
		LifetimeSeconds:   s.cfg.BundleLifetime,
		Retain:            bundle.DispatchPending | bundle.Own,
		Blocks: []bundle.ExtensionBlock{{
			Type:        bundle.BlockPayload,
			BlockNumber: 1,
			Data:        payload,
		}},
	}
	id := s.store.Add(b)
	if id == store.Invalid {
		return 0, errStoreFull
	}
	s.proc.Submit(proc.Signal{Type: proc.LocalDispatch, BundleID: id})
	return id, nil
}

var errStoreFull = errBundleStoreFull{}

type errBundleStoreFull struct{}

func (errBundleStoreFull) Error() string { return "aap: bundle store full" }

// deliver implements Deliverer: sends a RECVBUNDLE for an ADU addressed to
// this session's registered sink.
func (s *Session) deliver(source string, payload []byte) error {
	return s.send(&Message{Type: RecvBundle, EID: source, Payload: payload})
}

func (s *Session) send(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(Encode(msg))
	return err
}

func (s *Session) cleanup() {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != "" {
		s.registry.Deregister(sink, s)
	}
	_ = s.conn.Close()
}
