package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigEnvShadows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	contents := `[container]
command = /bin/sh -c "echo hi"
env = PATH=/usr/bin
env = HOME=/root
workdir = /srv

[namespaces]
net = host

[storage]
ephemeral = false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writeFile: %s", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}

	cmd, err := cfg.Command()
	if err != nil {
		t.Fatalf("Command: %s", err)
	}
	want := []string{"/bin/sh", "-c", "echo hi"}
	if !reflect.DeepEqual(cmd, want) {
		t.Errorf("Command = %v, want %v", cmd, want)
	}

	env := cfg.Env()
	wantEnv := []string{"HOME=/root", "PATH=/usr/bin"}
	if !reflect.DeepEqual(env, wantEnv) {
		t.Errorf("Env = %v, want %v", env, wantEnv)
	}

	if cfg.Workdir() != "/srv" {
		t.Errorf("Workdir = %q, want /srv", cfg.Workdir())
	}
	if !cfg.NetHost() {
		t.Errorf("NetHost = false, want true")
	}
	if cfg.Ephemeral() {
		t.Errorf("Ephemeral = true, want false")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("writeFile: %s", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}

	if cfg.Workdir() != "/" {
		t.Errorf("Workdir = %q, want /", cfg.Workdir())
	}
	if cfg.NetHost() {
		t.Errorf("NetHost = true, want false")
	}
	if !cfg.Ephemeral() {
		t.Errorf("Ephemeral = false, want true")
	}
	uid, gid := cfg.User()
	if uid != 0 || gid != 0 {
		t.Errorf("User = %d:%d, want 0:0", uid, gid)
	}
}

func TestLoadConfigUnrecognisedKeyIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	if err := os.WriteFile(path, []byte("[container]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("writeFile: %s", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}
	if _, ok := cfg.get(SectionContainer, "bogus"); ok {
		t.Errorf("expected unrecognised key to be dropped")
	}
}

func TestMergeOverridesKeyForKey(t *testing.T) {
	base := Config{
		SectionContainer: {
			KeyWorkdir:      "/base",
			KeyEnvTag + "A": "A=1",
			KeyEnvTag + "B": "B=1",
		},
	}
	override := Config{
		SectionContainer: {
			KeyEnvTag + "B": "B=2",
		},
	}

	merged := merge(base, override)
	if merged[SectionContainer][KeyWorkdir] != "/base" {
		t.Errorf("expected workdir to survive from base")
	}
	if merged[SectionContainer][KeyEnvTag+"A"] != "A=1" {
		t.Errorf("expected A to survive from base")
	}
	if merged[SectionContainer][KeyEnvTag+"B"] != "B=2" {
		t.Errorf("expected B to be overridden")
	}

	// base and override must not be mutated by merge.
	if base[SectionContainer][KeyEnvTag+"B"] != "B=1" {
		t.Errorf("merge mutated base")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	cfg := Config{
		SectionContainer: {
			KeyCommand:      "/bin/true",
			KeyEnvTag + "A": "A=1",
			KeyEnvTag + "B": "B=2",
		},
		SectionNamespaces: {
			KeyNet: "host",
		},
	}

	if err := saveConfig(path, cfg); err != nil {
		t.Fatalf("saveConfig: %s", err)
	}

	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}

	env := got.Env()
	wantEnv := []string{"A=1", "B=2"}
	if !reflect.DeepEqual(env, wantEnv) {
		t.Errorf("Env after round trip = %v, want %v", env, wantEnv)
	}
	if !got.NetHost() {
		t.Errorf("NetHost after round trip = false, want true")
	}
}
