// Package config is the agent's configuration surface (SPEC_FULL.md
// Configuration section): a JSON-loadable struct whose values are
// defaults for a flag.FlagSet, the way the teacher's cmn/nlog.InitFlags
// wires flags against package-level state — a package-level FlagSet
// parsed once in cmd/dtnagent/main.go, no cobra/viper.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config carries every tunable named in SPEC_FULL.md's Configuration
// section: local EID, listener addresses, store/parser quotas, and the
// router/optimizer/contact-manager tunables named in spec §4.6-§4.8.
type Config struct {
	LocalEID   string `json:"local_eid"`
	CLAListen  string `json:"cla_listen"`  // e.g. "tcp://0.0.0.0:4556"
	AAPListen  string `json:"aap_listen"`  // e.g. "tcp://127.0.0.1:4551"
	LogLevel   string `json:"log_level"`

	BPVersion uint8 `json:"bp_version"` // 6 or 7

	StoreMaxBytes  uint64 `json:"store_max_bytes"`
	ParserMaxBytes uint64 `json:"parser_max_bytes"`

	AAPMaxPayloadLength uint64        `json:"aap_max_payload_length"`
	AAPBundleLifetime   uint64        `json:"aap_bundle_lifetime_s"`
	AAPIdleTimeout      time.Duration `json:"aap_idle_timeout"`

	// Router tunables (spec §4.6).
	RouterMinProbability         float64 `json:"router_min_probability"`
	RouterDeterministicThreshold float64 `json:"router_deterministic_threshold"`
	RouterFragmentMinPayload     uint64  `json:"router_fragment_min_payload"`
	RouterMaxContacts            int     `json:"router_max_contacts"`

	// Optimizer tunables (spec §4.7).
	OptMinTime                  uint64 `json:"opt_min_time"`
	OptMaxPreBundles            int    `json:"opt_max_pre_bundles"`
	OptMaxPreBundlesPerContact  int    `json:"opt_max_pre_bundles_contact"`

	// Contact manager tunables (spec §4.8).
	MaxConcurrentContacts     int           `json:"max_concurrent_contacts"`
	ContactCheckingMaxPeriod  time.Duration `json:"contact_checking_max_period"`

	// Custody manager tunables (SPEC_FULL.md C10 addition).
	CustodyMaxBundleCount int    `json:"custody_max_bundle_count"`
	CustodyMaxBundleSize  uint64 `json:"custody_max_bundle_size"`

	StatusReporting bool `json:"status_reporting"`
}

// Default returns the built-in defaults, the same values each subsystem's
// own DefaultConfig already uses, collected here so a deployment can start
// from a single JSON document.
func Default() Config {
	return Config{
		LocalEID:  "dtn:none",
		CLAListen: "tcp://0.0.0.0:4556",
		AAPListen: "tcp://127.0.0.1:4551",
		LogLevel:  "info",
		BPVersion: 7,

		StoreMaxBytes:  256 << 20,
		ParserMaxBytes: 16 << 20,

		AAPMaxPayloadLength: 64 << 20,
		AAPBundleLifetime:   3600,
		AAPIdleTimeout:      30 * time.Second,

		RouterMinProbability:         0.9,
		RouterDeterministicThreshold: 0.99,
		RouterFragmentMinPayload:     1,
		RouterMaxContacts:            8,

		OptMinTime:                 30,
		OptMaxPreBundles:           16,
		OptMaxPreBundlesPerContact: 4,

		MaxConcurrentContacts:    4,
		ContactCheckingMaxPeriod: 30 * time.Second,

		CustodyMaxBundleCount: 1024,
		CustodyMaxBundleSize:  64 << 20,

		StatusReporting: true,
	}
}

// Load reads a JSON config file from path, merging it over Default(). A
// missing file is not an error: Default() alone is a usable configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags binds fs's flags to cfg's fields, cfg's current values (set
// by Load) becoming each flag's default — flags override the JSON file,
// matching the teacher's flag-over-file-over-built-in layering.
func (cfg *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.LocalEID, "local-eid", cfg.LocalEID, "this node's base endpoint id")
	fs.StringVar(&cfg.CLAListen, "cla-listen", cfg.CLAListen, "convergence-layer listen address")
	fs.StringVar(&cfg.AAPListen, "aap-listen", cfg.AAPListen, "application agent protocol listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log severity threshold (info, warning, error)")

	fs.Uint64Var(&cfg.StoreMaxBytes, "store-max-bytes", cfg.StoreMaxBytes, "bundle store byte quota, 0 = unbounded")
	fs.Uint64Var(&cfg.ParserMaxBytes, "parser-max-bytes", cfg.ParserMaxBytes, "per-bundle parser byte quota, 0 = unbounded")

	fs.Uint64Var(&cfg.AAPMaxPayloadLength, "aap-max-payload-length", cfg.AAPMaxPayloadLength, "AAP SENDBUNDLE/RECVBUNDLE payload quota")
	fs.DurationVar(&cfg.AAPIdleTimeout, "aap-idle-timeout", cfg.AAPIdleTimeout, "AAP connection idle time before PING/close")

	fs.Float64Var(&cfg.RouterMinProbability, "router-min-probability", cfg.RouterMinProbability, "minimum cumulative delivery probability a route must reach")
	fs.Float64Var(&cfg.RouterDeterministicThreshold, "router-deterministic-threshold", cfg.RouterDeterministicThreshold, "confidence at/above which a contact ends route selection")
	fs.IntVar(&cfg.RouterMaxContacts, "router-max-contacts", cfg.RouterMaxContacts, "contacts considered per fragment")

	fs.Uint64Var(&cfg.OptMinTime, "opt-min-time", cfg.OptMinTime, "idle seconds before the optimizer runs")
	fs.IntVar(&cfg.OptMaxPreBundles, "opt-max-pre-bundles", cfg.OptMaxPreBundles, "max bundles preempted per optimizer pass")
	fs.IntVar(&cfg.OptMaxPreBundlesPerContact, "opt-max-pre-bundles-contact", cfg.OptMaxPreBundlesPerContact, "max bundles preempted per contact")

	fs.IntVar(&cfg.MaxConcurrentContacts, "max-concurrent-contacts", cfg.MaxConcurrentContacts, "concurrent active contacts with distinct nodes")
	fs.DurationVar(&cfg.ContactCheckingMaxPeriod, "contact-checking-max-period", cfg.ContactCheckingMaxPeriod, "contact manager max wakeup interval")

	fs.IntVar(&cfg.CustodyMaxBundleCount, "custody-max-bundle-count", cfg.CustodyMaxBundleCount, "max bundles held in custody at once")
	fs.Uint64Var(&cfg.CustodyMaxBundleSize, "custody-max-bundle-size", cfg.CustodyMaxBundleSize, "max serialized size of a custodied bundle")

	fs.BoolVar(&cfg.StatusReporting, "status-reporting", cfg.StatusReporting, "emit bundle status reports")
}
