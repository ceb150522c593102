package aap

import (
	"context"
	"net"

	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/store"
)

// Server is the AAP listener (spec §5 "AAP listener (1)"), grounded on
// application_agent_listener_task's accept loop, spawning one Session per
// accepted connection.
type Server struct {
	cfg      Config
	registry *Registry
	store    *store.Store
	proc     *proc.Processor
}

func NewServer(registry *Registry, st *store.Store, p *proc.Processor, cfg Config) *Server {
	return &Server{cfg: cfg, registry: registry, store: st, proc: p}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}
		nlog.Infof("aap: accepted connection from %s", conn.RemoteAddr())
		sess := newSession(conn, srv.registry, srv.store, srv.proc, srv.cfg)
		go sess.Run()
	}
}
