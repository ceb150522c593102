package agent

import (
	"bufio"
	"context"
	"net"

	"github.com/dtncore/agent/bpv6"
	"github.com/dtncore/agent/bpv7"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/store"
)

// serveCLA is the passive half of the convergence-layer boundary (spec
// §1/§6): accept a byte-stream connection per neighbor, sniff the first
// byte to tell a BP6 stream (version byte 0x06) from a BP7 one (a CBOR
// array), and decode bundles off it for as long as the connection lives.
// Grounded on aap.Server.Serve's accept-loop-plus-goroutine-per-connection
// shape; this is the TCPCL-less minimal CLA the spec leaves undefined
// beyond "byte-stream + link-up/down".
func (a *Agent) serveCLA(ctx context.Context, ln net.Listener) error {
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
		nlog.Infof("cla: accepted connection from %s", conn.RemoteAddr())
		go a.receiveLoop(conn)
	}
}

func (a *Agent) receiveLoop(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		head, err := r.Peek(1)
		if err != nil {
			return
		}

		var id uint16
		var decodeErr error
		if head[0] == 0x06 {
			p := bpv6.NewParser(r, int(a.Config.ParserMaxBytes))
			b, err := p.Parse()
			if err != nil {
				decodeErr = err
			} else {
				id, decodeErr = a.Store.AddWithCapacity(b, a.Config.StoreMaxBytes)
			}
		} else {
			p := bpv7.NewParser(r, int(a.Config.ParserMaxBytes))
			b, valid, err := p.Parse()
			if err != nil {
				decodeErr = err
			} else if !valid {
				nlog.Infof("cla: dropping a bundle with a failed CRC from %s", conn.RemoteAddr())
				continue
			} else {
				id, decodeErr = a.Store.AddWithCapacity(b, a.Config.StoreMaxBytes)
			}
		}

		if decodeErr != nil {
			nlog.Warningf("cla: decoding from %s failed: %v", conn.RemoteAddr(), decodeErr)
			return
		}
		if id == store.Invalid {
			nlog.Warningf("cla: bundle from %s dropped, store at capacity", conn.RemoteAddr())
			continue
		}
		a.metrics.bundlesReceived.Inc()
		a.Proc.Submit(proc.Signal{Type: proc.Incoming, BundleID: id})
	}
}
