package config

import "testing"

func TestLoadOptions_Defaults(t *testing.T) {
	t.Setenv("FERRYX_CONFIG", "")
	t.Setenv("FERRYX_LOG_LEVEL", "")
	t.Setenv("FERRYX_LOG_FORMAT", "")

	opts, err := LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions() error = %v", err)
	}
	if opts.ConfigPath != "/etc/ferryx/ferryx-hub.json" {
		t.Errorf("ConfigPath = %q", opts.ConfigPath)
	}
}

func TestLoadOptions_FromEnv(t *testing.T) {
	t.Setenv("FERRYX_CONFIG", "/srv/ferryx/hub.yaml")
	t.Setenv("FERRYX_LOG_LEVEL", "debug")
	t.Setenv("FERRYX_LOG_FORMAT", "json")

	opts, err := LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions() error = %v", err)
	}
	if opts.ConfigPath != "/srv/ferryx/hub.yaml" {
		t.Errorf("ConfigPath = %q", opts.ConfigPath)
	}
	if opts.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", opts.LogLevel)
	}
	if opts.LogFormat != "json" {
		t.Errorf("LogFormat = %q", opts.LogFormat)
	}
}
