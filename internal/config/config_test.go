package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Ports) != 1 || cfg.Ports[0].Port != defaultPort {
		t.Fatalf("Ports = %+v, want default port %d", cfg.Ports, defaultPort)
	}
	if cfg.Output.SaveIntervalSecs != defaultSaveIntervalSecs {
		t.Errorf("SaveIntervalSecs = %d, want %d", cfg.Output.SaveIntervalSecs, defaultSaveIntervalSecs)
	}
	if cfg.Output.BufferCount != defaultBufferCount {
		t.Errorf("BufferCount = %d, want %d", cfg.Output.BufferCount, defaultBufferCount)
	}
	if cfg.Output.CurrentPath != defaultCurrentPath {
		t.Errorf("CurrentPath = %q, want %q", cfg.Output.CurrentPath, defaultCurrentPath)
	}
	if cfg.Output.SavedPrefix != defaultSavedPrefix {
		t.Errorf("SavedPrefix = %q, want %q", cfg.Output.SavedPrefix, defaultSavedPrefix)
	}
	if cfg.Output.CurrentMode != defaultMode || cfg.Output.SavedMode != defaultMode {
		t.Errorf("CurrentMode/SavedMode = %o/%o, want %o/%o", cfg.Output.CurrentMode, cfg.Output.SavedMode, defaultMode, defaultMode)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
ports:
  - port: 9996
    drop_detection: false
  - port: 9997
    drop_detection: true
output:
  save_interval_secs: 60
  buffer_count: 16
  max_drop_silent: 5
  current_path: /tmp/flows.current
  saved_prefix: /tmp/saved.
  current_mode: 0640
  saved_mode: 0440
logging:
  level: debug
  syslog_facility: local6
diagnostics:
  reject_pcap:
    enabled: true
    output_file: /tmp/rejects.pcap
    max_size_mb: 10
    max_backups: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Ports) != 2 {
		t.Fatalf("len(Ports) = %d, want 2", len(cfg.Ports))
	}
	if cfg.Ports[0].Port != 9996 || cfg.Ports[0].DropDetection {
		t.Errorf("Ports[0] = %+v, want port=9996 drop_detection=false", cfg.Ports[0])
	}
	if cfg.Ports[1].Port != 9997 || !cfg.Ports[1].DropDetection {
		t.Errorf("Ports[1] = %+v, want port=9997 drop_detection=true", cfg.Ports[1])
	}
	if cfg.Output.SaveIntervalSecs != 60 {
		t.Errorf("SaveIntervalSecs = %d, want 60", cfg.Output.SaveIntervalSecs)
	}
	if cfg.Output.MaxDropSilent != 5 {
		t.Errorf("MaxDropSilent = %d, want 5", cfg.Output.MaxDropSilent)
	}
	if cfg.Logging.SyslogFacility != "local6" {
		t.Errorf("SyslogFacility = %q, want local6", cfg.Logging.SyslogFacility)
	}
	if !cfg.Diagnostics.RejectPCAP.Enabled || cfg.Diagnostics.RejectPCAP.MaxBackups != 3 {
		t.Errorf("Diagnostics.RejectPCAP = %+v, unexpected", cfg.Diagnostics.RejectPCAP)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("Load: want error for missing file, got nil")
	}
}
