package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const yamlManifest = `
settings:
  remote: scp
  log_level: debug
steps:
  - type: package
    packages: [git, tmux]
  - id: motd
    type: patch
    target: /etc/motd
    hunks:
      - "+Managed by insta"
  - type: chmod
    path: ~/.ssh/id_ed25519
    mode: "600"
`

const cueManifest = `
settings: remote: "scp"
settings: log_level: "debug"

_home: "/home/deploy"

steps: [
	{type: "package", packages: ["git", "tmux"]},
	{id: "motd", type: "patch", target: "/etc/motd", hunks: ["+Managed by insta"]},
	{type: "chmod", path: _home + "/.ssh/id_ed25519", mode: "600"},
]
`

func TestParseManifestFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		src     string
		wantKey string
	}{
		{name: "yaml", file: "site.yaml", src: yamlManifest, wantKey: "~/.ssh/id_ed25519"},
		{name: "yml", file: "site.yml", src: yamlManifest, wantKey: "~/.ssh/id_ed25519"},
		{name: "cue", file: "site.cue", src: cueManifest, wantKey: "/home/deploy/.ssh/id_ed25519"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewLoader().ParseManifest(tt.file, []byte(tt.src))
			if err != nil {
				t.Fatalf("ParseManifest() error = %v", err)
			}

			if len(m.Steps) != 3 {
				t.Fatalf("len(Steps) = %d, want 3", len(m.Steps))
			}
			if got := m.Steps[0].Packages; len(got) != 2 || got[1] != "tmux" {
				t.Errorf("packages = %v", got)
			}
			if m.Steps[1].Name() != "motd" || m.Steps[1].Hunks[0] != "+Managed by insta" {
				t.Errorf("patch step = %+v", m.Steps[1])
			}
			if m.Steps[2].Path != tt.wantKey || m.Steps[2].Mode != "600" {
				t.Errorf("chmod step = %+v", m.Steps[2])
			}
			if m.Steps[2].Name() != "chmod:"+tt.wantKey {
				t.Errorf("Name() = %q", m.Steps[2].Name())
			}

			if m.Settings.Remote != "scp" || m.Settings.LogLevel != "debug" {
				t.Errorf("settings = %+v", m.Settings)
			}
			if m.Settings.StagingPath != DefaultStagingPath || m.Settings.SSH.Port != 22 {
				t.Errorf("defaults not applied: %+v", m.Settings)
			}
			if m.Source != tt.file {
				t.Errorf("Source = %q", m.Source)
			}
		})
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		src     string
		wantMsg string
	}{
		{
			name:    "unknown extension",
			file:    "site.toml",
			src:     "",
			wantMsg: "unsupported manifest format",
		},
		{
			name:    "no steps",
			file:    "site.yaml",
			src:     "settings:\n  remote: scp\n",
			wantMsg: "steps",
		},
		{
			name:    "unknown step type",
			file:    "site.yaml",
			src:     "steps:\n  - type: reboot\n",
			wantMsg: "oneof",
		},
		{
			name:    "missing type specific fields",
			file:    "site.yaml",
			src:     "steps:\n  - type: link\n    from: a\n",
			wantMsg: "link step requires to",
		},
		{
			name:    "unknown yaml field",
			file:    "site.yaml",
			src:     "steps:\n  - type: copy\n    form: a\n    to: b\n",
			wantMsg: "form",
		},
		{
			name:    "duplicate ids",
			file:    "site.yaml",
			src:     "steps:\n  - {id: a, type: package, packages: [x]}\n  - {id: a, type: package, packages: [y]}\n",
			wantMsg: "duplicate step id",
		},
		{
			name:    "bad remote",
			file:    "site.yaml",
			src:     "settings:\n  remote: ftp\nsteps:\n  - {type: package, packages: [x]}\n",
			wantMsg: "remote",
		},
		{
			name:    "host without path",
			file:    "site.yaml",
			src:     "steps:\n  - {type: patch, hosts: [web1], hunks: [\"+x\"]}\n",
			wantMsg: "hosts",
		},
		{
			name:    "cue closed schema",
			file:    "site.cue",
			src:     `steps: [{type: "copy", form: "a", to: "b"}]`,
			wantMsg: "form",
		},
		{
			name:    "cue bad mode",
			file:    "site.cue",
			src:     `steps: [{type: "chmod", path: "/x", mode: "rw"}]`,
			wantMsg: "mode",
		},
		{
			name:    "cue syntax",
			file:    "site.cue",
			src:     `steps: [`,
			wantMsg: "site.cue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().ParseManifest(tt.file, []byte(tt.src))
			if err == nil {
				t.Fatal("ParseManifest() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidationErrorsCollectEverything(t *testing.T) {
	src := "steps:\n  - type: chmod\n  - type: chown\n    path: /x\n"
	_, err := NewLoader().ParseManifest("site.yaml", []byte(src))

	var ve ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("error is %T, want ValidationErrors", err)
	}
	if len(ve) != 3 {
		t.Errorf("got %d errors, want 3 (chmod path, chmod mode, chown owner): %v", len(ve), err)
	}
	if ve[0].Path != "steps[0]" || ve[0].File != "site.yaml" {
		t.Errorf("first error = %+v", ve[0])
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	t.Run("missing file", func(t *testing.T) {
		s, err := loader.LoadSettings(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadSettings() error = %v", err)
		}
		if s.StagingPath != DefaultStagingPath || s.Remote != DefaultRemote {
			t.Errorf("settings = %+v, want defaults", s)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "insta.yaml")
		content := "staging_path: /var/tmp/insta.txt\nssh:\n  user: deploy\n  port: 2222\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		s, err := loader.LoadSettings(path)
		if err != nil {
			t.Fatalf("LoadSettings() error = %v", err)
		}
		if s.StagingPath != "/var/tmp/insta.txt" || s.SSH.User != "deploy" || s.SSH.Port != 2222 {
			t.Errorf("settings = %+v", s)
		}
		if s.LogLevel != DefaultLogLevel {
			t.Errorf("LogLevel = %q, want default", s.LogLevel)
		}
	})

	t.Run("cue", func(t *testing.T) {
		path := filepath.Join(dir, "insta.cue")
		if err := os.WriteFile(path, []byte(`remote: "scp"`+"\n"+`ssh: port: 2200`), 0644); err != nil {
			t.Fatal(err)
		}

		s, err := loader.LoadSettings(path)
		if err != nil {
			t.Fatalf("LoadSettings() error = %v", err)
		}
		if s.Remote != "scp" || s.SSH.Port != 2200 {
			t.Errorf("settings = %+v", s)
		}
	})

	t.Run("otlp requires endpoint", func(t *testing.T) {
		path := filepath.Join(dir, "otlp.yaml")
		if err := os.WriteFile(path, []byte("trace_exporter: otlp\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := loader.LoadSettings(path); err == nil {
			t.Error("LoadSettings() error = nil, want trace_endpoint required")
		}
	})
}

func TestLoadManifestFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte(yamlManifest), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewLoader().LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Source != path {
		t.Errorf("Source = %q, want %q", m.Source, path)
	}
}
