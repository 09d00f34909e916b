// Package config wraps viper to resolve the engine's tunables — lease
// TTL override, color suppression, repository anchor override, and the
// two timeout knobs from spec.md §5 — following the teacher's
// precedence chain (project file, then user config dir, then home
// dir) and BD_-prefixed env var binding, adapted to LODESTAR_.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lodestar-dev/lodestar/internal/anchor"
)

var v *viper.Viper

// Keys used throughout the engine; mirrored 1:1 onto LODESTAR_<KEY> env
// vars by viper's automatic env binding.
const (
	KeyLeaseTTL     = "lease-ttl"
	KeyNoColor      = "no-color"
	KeyRepo         = "repo"
	KeyLockTimeout  = "lock-timeout"
	KeyBusyTimeout  = "busy-timeout"
)

// Initialize sets up the viper configuration singleton. Should be
// called once at process startup, before the first config.Get* call.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for <repo>/.lodestar/config.yaml —
	// reuses the same upward walk as the repository anchor so a
	// config file travels with the repo it configures.
	if repo, err := anchor.Find("."); err == nil {
		configPath := filepath.Join(repo.Dir(), "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}

	// 2. $XDG_CONFIG_HOME/lodestar/config.yaml
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "lodestar", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. ~/.lodestar/config.yaml
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".lodestar", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("LODESTAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyLeaseTTL, "15m")
	v.SetDefault(KeyNoColor, false)
	v.SetDefault(KeyRepo, "")
	v.SetDefault(KeyLockTimeout, "5s")
	v.SetDefault(KeyBusyTimeout, "1s")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	return nil
}

// LeaseTTL returns the configured default lease TTL (LODESTAR_LEASE_TTL).
func LeaseTTL() time.Duration {
	return getDuration(KeyLeaseTTL, 15*time.Minute)
}

// NoColor reports whether decorative color output is disabled
// (LODESTAR_NO_COLOR), in addition to the standard NO_COLOR convention.
func NoColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return getBool(KeyNoColor)
}

// RepoOverride returns the LODESTAR_REPO override path, or "" if unset.
func RepoOverride() string {
	return getString(KeyRepo)
}

// LockTimeout returns the configured spec-lock acquisition timeout
// (LODESTAR_LOCK_TIMEOUT, spec.md §5, default 5s).
func LockTimeout() time.Duration {
	return getDuration(KeyLockTimeout, 5*time.Second)
}

// BusyTimeout returns the configured runtime-transaction busy-retry
// timeout (LODESTAR_BUSY_TIMEOUT, spec.md §5, default 1s).
func BusyTimeout() time.Duration {
	return getDuration(KeyBusyTimeout, 1*time.Second)
}

func getString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func getBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	d := v.GetDuration(key)
	if d <= 0 {
		return fallback
	}
	return d
}
