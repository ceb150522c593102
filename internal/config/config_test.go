package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtncore/agent/internal/config"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := config.Default()
	if cfg.LocalEID == "" {
		t.Fatal("Default(): empty LocalEID")
	}
	if cfg.RouterMaxContacts <= 0 {
		t.Fatalf("Default(): RouterMaxContacts = %d, want > 0", cfg.RouterMaxContacts)
	}
	if cfg.ContactCheckingMaxPeriod <= 0 {
		t.Fatal("Default(): ContactCheckingMaxPeriod must be positive")
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != config.Default() {
		t.Fatal("Load of a missing file should return Default()")
	}
}

func TestLoadMergesOverDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"local_eid":"dtn:custom","router_max_contacts":2}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalEID != "dtn:custom" {
		t.Fatalf("LocalEID = %q, want dtn:custom", cfg.LocalEID)
	}
	if cfg.RouterMaxContacts != 2 {
		t.Fatalf("RouterMaxContacts = %d, want 2", cfg.RouterMaxContacts)
	}
	// Untouched fields keep their default.
	if cfg.AAPListen != config.Default().AAPListen {
		t.Fatalf("AAPListen = %q, want default preserved", cfg.AAPListen)
	}
}

func TestRegisterFlagsOverridesValue(t *testing.T) {
	cfg := config.Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	if err := fs.Parse([]string{"-local-eid", "dtn:flagged", "-aap-idle-timeout", "5s"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LocalEID != "dtn:flagged" {
		t.Fatalf("LocalEID = %q, want dtn:flagged", cfg.LocalEID)
	}
	if cfg.AAPIdleTimeout != 5*time.Second {
		t.Fatalf("AAPIdleTimeout = %v, want 5s", cfg.AAPIdleTimeout)
	}
}
