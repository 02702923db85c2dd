// Package config resolves the server's runtime configuration from CLI
// flags, environment variables, and an optional .env file, the way the
// teacher's main.go loads godotenv before flag parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every knob the CLI surface in the specification exposes.
type Config struct {
	Port int
	Bind string

	NoAuth              bool
	EnableSSHKeys       bool
	DisallowUserPassword bool
	AllowLocalBypass    bool
	LocalAuthToken      string

	HQ               bool
	HQURL            string
	HQUsername       string
	HQPassword       string
	Name             string
	AllowInsecureHQ  bool

	Debug bool

	ControlDir          string
	DisableColumnResize bool
	DisableWebTerminal  bool
}

// Default returns the configuration defaults from the specification's
// CLI surface table.
func Default() *Config {
	return &Config{
		Port:       4020,
		Bind:       "0.0.0.0",
		ControlDir: defaultControlDir(),
	}
}

// LoadDotEnv loads a .env file if present, logging nothing fatal if absent
// (mirrors the teacher's "Warning: .env file not found" tolerance).
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		return err
	}
	return nil
}

func defaultControlDir() string {
	if v := os.Getenv("VIBETUNNEL_CONTROL_DIR"); v != "" {
		return expandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vibetunnel", "control")
	}
	return filepath.Join(home, ".vibetunnel", "control")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ApplyEnv layers PORT over the flag-resolved Port, matching the spec's
// documented environment variables (§6): PORT wins when set, since it is
// how most process supervisors configure listen ports.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			c.Port = p
		}
	}
	if v := os.Getenv("VIBETUNNEL_CONTROL_DIR"); v != "" {
		c.ControlDir = expandHome(v)
	}
}

// Validate applies the implications documented for the CLI surface
// (--disallow-user-password implies --enable-ssh-keys) and basic sanity
// checks.
func (c *Config) Validate() error {
	if c.DisallowUserPassword {
		c.EnableSSHKeys = true
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HQURL != "" && !c.AllowInsecureHQ && strings.HasPrefix(c.HQURL, "http://") {
		return fmt.Errorf("HQ URL %q is not HTTPS; pass --allow-insecure-hq to permit it", c.HQURL)
	}
	return nil
}
