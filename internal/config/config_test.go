package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8088" {
		t.Errorf("ListenAddr = %q, want :8088", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ProfileDir != "./profiles" {
		t.Errorf("ProfileDir = %q, want ./profiles", cfg.ProfileDir)
	}
	if cfg.DefaultFileMaxNum != 1000 {
		t.Errorf("DefaultFileMaxNum = %d, want 1000", cfg.DefaultFileMaxNum)
	}
	if cfg.DefaultTimeZone != "Asia/Shanghai" {
		t.Errorf("DefaultTimeZone = %q, want Asia/Shanghai", cfg.DefaultTimeZone)
	}
}

func TestLoadEnvVarsRead(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"LISTEN_ADDR":          ":9999",
		"DEFAULT_FILE_MAX_NUM": "250",
	})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.DefaultFileMaxNum != 250 {
		t.Errorf("DefaultFileMaxNum = %d, want 250", cfg.DefaultFileMaxNum)
	}
}

func TestLoadCLIOverridesTakePriority(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"LISTEN_ADDR": ":9999"})
	defer cleanup()

	cfg, err := Load(Overrides{
		EnvFile:    "nonexistent.env",
		ListenAddr: ":7000",
		LogLevel:   "debug",
		ProfileDir: "/tmp/profiles",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000 (CLI override)", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ProfileDir != "/tmp/profiles" {
		t.Errorf("ProfileDir = %q, want /tmp/profiles", cfg.ProfileDir)
	}
}

func TestLoadEmptyOverridesUseEnv(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"LOG_LEVEL": "warn"})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (from env, no override given)", cfg.LogLevel)
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
