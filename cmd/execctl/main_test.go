//go:build unix

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/execctl/internal/config"
	"github.com/danmuck/execctl/internal/hostio"
	"github.com/spf13/cobra"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EXECCTL_LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSettingsFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "agent.toml", "manifest = \"from-config.toml\"\naddr = \":1\"\nsearch_path = \"/opt/bin\"\n")

	flags := &globalFlags{}
	cmd := &cobra.Command{Use: "execctl"}
	flags.register(cmd)
	if err := cmd.ParseFlags([]string{"--config", cfgPath, "--manifest", "from-flag.toml"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := flags.settings(cmd)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if cfg.Manifest != "from-flag.toml" || cfg.Addr != ":1" || cfg.SearchPath != "/opt/bin" {
		t.Fatalf("unexpected merged settings: %+v", cfg)
	}
}

func TestSettingsRequireManifest(t *testing.T) {
	flags := &globalFlags{}
	cmd := &cobra.Command{Use: "execctl"}
	flags.register(cmd)
	if _, err := flags.settings(cmd); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without manifest, got %v", err)
	}
}

func TestApplyAndValidateCommands(t *testing.T) {
	if !hostio.Available(hostio.Local{}) {
		t.Skipf("%s not present on this host", hostio.ProbePath)
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	manifest := writeFile(t, dir, "manifest.toml", `
host = "localhost"

[[run]]
name = "marker"
command = "touch `+marker+`"
creates = "`+marker+`"
`)

	out, err := execute(t, "validate", "--manifest", manifest)
	if err != nil || !strings.Contains(out, "1 resources") {
		t.Fatalf("validate: %v\n%s", err, out)
	}

	out, err = execute(t, "apply", "--manifest", manifest)
	if err != nil || !strings.Contains(out, "changed") {
		t.Fatalf("first apply: %v\n%s", err, out)
	}
	out, err = execute(t, "apply", "--manifest", manifest, "marker")
	if err != nil || !strings.Contains(out, "no_change") {
		t.Fatalf("second apply: %v\n%s", err, out)
	}
}

func TestApplyReportsFailure(t *testing.T) {
	if !hostio.Available(hostio.Local{}) {
		t.Skipf("%s not present on this host", hostio.ProbePath)
	}
	dir := t.TempDir()
	manifest := writeFile(t, dir, "manifest.toml", `
[[run]]
name = "fails"
command = "sh -c 'exit 7'"
`)
	out, err := execute(t, "apply", "--manifest", manifest, "--json")
	if !errors.Is(err, errPassFailed) {
		t.Fatalf("expected errPassFailed, got %v\n%s", err, out)
	}
	if !strings.Contains(out, `"state": "failed"`) {
		t.Fatalf("expected JSON outcome, got:\n%s", out)
	}
}

func TestInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	if _, err := execute(t, "init", "--kind", "agent", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := config.LoadAgentConfig(path); err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}
}
