// Package main is the dtnagent binary: a standalone DTN bundle agent
// process (spec §5's task set, assembled by package agent) configured by a
// JSON file and flag overrides (package internal/config).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dtncore/agent/agent"
	"github.com/dtncore/agent/cla"
	"github.com/dtncore/agent/internal/config"
	"github.com/dtncore/agent/internal/nlog"
)

// Exit codes (spec §6): 0 on a clean shutdown, non-zero on any failure
// that prevents the agent from starting to serve.
const (
	exitOK            = 0
	exitBadConfig     = 1
	exitListenFailure = 2
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "path to a JSON configuration file")
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dtnagent: %v\n", err)
		return exitBadConfig
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	nlog.SetLevel(cfg.LogLevel)

	claAddr, err := listenAddr(cfg.CLAListen)
	if err != nil {
		nlog.Errorf("dtnagent: bad cla-listen %q: %v", cfg.CLAListen, err)
		return exitBadConfig
	}
	aapAddr, err := listenAddr(cfg.AAPListen)
	if err != nil {
		nlog.Errorf("dtnagent: bad aap-listen %q: %v", cfg.AAPListen, err)
		return exitBadConfig
	}

	claLn, err := net.Listen("tcp", claAddr)
	if err != nil {
		nlog.Errorf("dtnagent: listening on %s for CLA traffic: %v", claAddr, err)
		return exitListenFailure
	}
	defer claLn.Close()

	aapLn, err := net.Listen("tcp", aapAddr)
	if err != nil {
		nlog.Errorf("dtnagent: listening on %s for AAP traffic: %v", aapAddr, err)
		return exitListenFailure
	}
	defer aapLn.Close()

	a := agent.New(cfg, cla.NewTCPDialer())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel)

	nlog.Infof("dtnagent: %s listening for CLA on %s, AAP on %s", cfg.LocalEID, claAddr, aapAddr)
	if err := a.Run(ctx, claLn, aapLn); err != nil && ctx.Err() == nil {
		nlog.Errorf("dtnagent: agent exited: %v", err)
		return exitListenFailure
	}
	return exitOK
}

// listenAddr strips an optional "tcp://" scheme prefix so the same address
// strings config.Config carries for CLA/AAP targets (cla.Dialer-style
// opaque addresses) also work as net.Listen addresses.
func listenAddr(addr string) (string, error) {
	addr = strings.TrimPrefix(addr, "tcp://")
	if addr == "" {
		return "", fmt.Errorf("empty listen address")
	}
	return addr, nil
}

func installSignalHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
}
