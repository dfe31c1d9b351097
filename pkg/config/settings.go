package config

import (
	"os"
	"path/filepath"
)

// Default setting values.
const (
	DefaultStagingPath = "/tmp/insta.txt"
	DefaultRemote      = "sftp"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		StagingPath:   DefaultStagingPath,
		JournalPath:   defaultJournalPath(),
		Remote:        DefaultRemote,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		TraceExporter: "none",
		SSH: SSHSettings{
			Port:       22,
			KnownHosts: "~/.ssh/known_hosts",
		},
	}
}

func defaultJournalPath() string {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "insta", "journal.db")
	}
	return "~/.local/state/insta/journal.db"
}

// Merge returns s with every empty field taken from base.
func (s Settings) Merge(base Settings) Settings {
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}

	out := s
	out.StagingPath = pick(s.StagingPath, base.StagingPath)
	out.JournalPath = pick(s.JournalPath, base.JournalPath)
	out.PolicyDir = pick(s.PolicyDir, base.PolicyDir)
	out.Remote = pick(s.Remote, base.Remote)
	out.LogLevel = pick(s.LogLevel, base.LogLevel)
	out.LogFormat = pick(s.LogFormat, base.LogFormat)
	out.MetricsAddress = pick(s.MetricsAddress, base.MetricsAddress)
	out.TraceExporter = pick(s.TraceExporter, base.TraceExporter)
	out.TraceEndpoint = pick(s.TraceEndpoint, base.TraceEndpoint)
	out.SSH.User = pick(s.SSH.User, base.SSH.User)
	out.SSH.KeyPath = pick(s.SSH.KeyPath, base.SSH.KeyPath)
	out.SSH.KnownHosts = pick(s.SSH.KnownHosts, base.SSH.KnownHosts)
	if out.SSH.Port == 0 {
		out.SSH.Port = base.SSH.Port
	}
	out.SSH.StrictHostKeyChecking = s.SSH.StrictHostKeyChecking || base.SSH.StrictHostKeyChecking
	return out
}
