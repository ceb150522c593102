// Package nlog is the agent-wide logger: leveled, timestamped, safe for
// concurrent use by every task (bundle processor, router, optimizer, contact
// manager, AAP listener). Adapted from the teacher's buffered/rotating
// cmn/nlog down to what this agent actually needs: severity gating and a
// single flushable writer. No rotation — a long-running space/ground node is
// expected to run under a supervisor that rotates the process, not the file.
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) String() string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	level            = sevInfo
	title   string
	toFile  *os.File
)

// SetTitle tags every line with a short process identifier, e.g. the local EID.
func SetTitle(s string) { mu.Lock(); title = s; mu.Unlock() }

// SetLevel gates Infof/Warningf below the given severity name ("info", "warn", "error").
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch name {
	case "warn", "warning":
		level = sevWarn
	case "error", "err":
		level = sevErr
	default:
		level = sevInfo
	}
}

// SetOutput redirects log output, e.g. to a rotating file opened by main().
func SetOutput(w io.Writer) { mu.Lock(); out = w; mu.Unlock() }

func log(sev severity, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if title != "" {
		fmt.Fprintf(out, "%s %s [%s] %s\n", ts, sev, title, msg)
	} else {
		fmt.Fprintf(out, "%s %s %s\n", ts, sev, msg)
	}
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, fmt.Sprint(args...)) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Warningln(args ...any)               { log(sevWarn, fmt.Sprint(args...)) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }
func Errorln(args ...any)                 { log(sevErr, fmt.Sprint(args...)) }

// Flush syncs the underlying file, if any. A no-op for os.Stderr.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if toFile != nil {
		_ = toFile.Sync()
	}
}

// OpenFile switches output to the named file, keeping a handle for Flush.
func OpenFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	mu.Lock()
	toFile = f
	out = f
	mu.Unlock()
	return nil
}
