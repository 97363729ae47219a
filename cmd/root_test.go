package cmd

import (
	"testing"

	"idm/brain"
	"idm/internal"
	"idm/ratelimit"
)

func resetFlagVars() {
	debug, quiet = false, false
	logLevel, logFile, configFile = "", "", ""
}

func TestLoadConfiguration_Defaults(t *testing.T) {
	resetFlagVars()
	if err := loadConfiguration(); err != nil {
		t.Fatalf("loadConfiguration: %v", err)
	}
	if config.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info (default)", config.LogLevel)
	}
	if config.EnableDebug || config.QuietMode {
		t.Error("debug/quiet should default to false")
	}
}

func TestLoadConfiguration_FlagsOverrideDefaults(t *testing.T) {
	resetFlagVars()
	debug = true
	quiet = true
	logFile = "/tmp/idm.log"

	if err := loadConfiguration(); err != nil {
		t.Fatalf("loadConfiguration: %v", err)
	}
	if !config.EnableDebug || config.LogLevel != "debug" {
		t.Errorf("expected --debug to force debug logging, got EnableDebug=%v LogLevel=%q", config.EnableDebug, config.LogLevel)
	}
	if !config.QuietMode {
		t.Error("expected --quiet to set QuietMode")
	}
	if config.LogFile != "/tmp/idm.log" {
		t.Errorf("LogFile = %q", config.LogFile)
	}
}

func TestLoadConfiguration_ExplicitLogLevelWins(t *testing.T) {
	resetFlagVars()
	logLevel = "warn"

	if err := loadConfiguration(); err != nil {
		t.Fatalf("loadConfiguration: %v", err)
	}
	if config.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", config.LogLevel)
	}
}

func TestBuildBrain_ProducesUsableScheduler(t *testing.T) {
	resetFlagVars()
	workDir = t.TempDir()
	defer func() { workDir = "" }()

	if err := loadConfiguration(); err != nil {
		t.Fatalf("loadConfiguration: %v", err)
	}

	b, collector, err := buildBrain()
	if err != nil {
		t.Fatalf("buildBrain: %v", err)
	}
	if b == nil || collector == nil {
		t.Fatal("expected non-nil brain and collector")
	}
	if got := b.List(); len(got) != 0 {
		t.Errorf("expected a fresh brain to have no jobs, got %d", len(got))
	}
}

func TestSchedulerAdapter_DelegatesToBrain(t *testing.T) {
	cfg := internal.DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	dummyBrain := brain.New(cfg, t.TempDir(), nil, ratelimit.New(0), nil, nil, nil)
	adapter := newSchedulerAdapter(dummyBrain)

	adapter.SetMaxConcurrent(5)
	adapter.SetGlobalSpeedLimit(1024)
	if got := adapter.List(); len(got) != 0 {
		t.Errorf("expected empty job list from a fresh brain, got %d", len(got))
	}
	if err := adapter.Cancel("unknown"); err == nil {
		t.Error("expected error cancelling an unknown job through the adapter")
	}
}
