package config

import (
	"path/filepath"

	"github.com/tau-run/tau/internal/connectors"
	"github.com/tau-run/tau/internal/events"
	"github.com/tau-run/tau/internal/gateway"
	"github.com/tau-run/tau/internal/jobs"
	"github.com/tau-run/tau/internal/policy"
	"github.com/tau-run/tau/internal/voice"
)

// Paths resolves DataDir into the on-disk layout every runtime package
// expects: one state file or subdirectory per subsystem, all rooted
// under a single expanded data directory.
type Paths struct {
	Root string
}

// NewPaths expands cfg's DataDir (handling a leading ~) into an
// absolute-rooted Paths.
func (c *Config) NewPaths() Paths {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Paths{Root: ExpandHome(c.DataDir)}
}

func (p Paths) ChannelStoreRoot() string { return filepath.Join(p.Root, "channels") }
func (p Paths) CanvasRoot() string       { return filepath.Join(p.Root, "canvases") }
func (p Paths) ConnectorsStatePath() string {
	return filepath.Join(p.Root, "connectors", "state.json")
}
func (p Paths) ConnectorsIngressDir() string {
	return filepath.Join(p.Root, "connectors", "ingress")
}
func (p Paths) JobsStateDir() string    { return filepath.Join(p.Root, "jobs") }
func (p Paths) VoiceStateDir() string   { return filepath.Join(p.Root, "voice") }
func (p Paths) EventsDir() string       { return filepath.Join(p.Root, "events") }
func (p Paths) EventsStatePath() string { return filepath.Join(p.Root, "events", "state.json") }
func (p Paths) AuditLogPath() string    { return filepath.Join(p.Root, "audit", "audit.jsonl") }

// GatewayConfig resolves the gateway runtime config.
func (c *Config) GatewayConfig() (gateway.Config, error) {
	c.mu.RLock()
	cfg := c.Gateway
	c.mu.RUnlock()
	return cfg.toGatewayConfig()
}

// ConnectorsConfig resolves the connector runtime config with its state
// path and ingress dir defaulted from paths when unset.
func (c *Config) ConnectorsConfig(paths Paths) (connectors.Config, error) {
	c.mu.RLock()
	cfg := c.Connectors
	c.mu.RUnlock()

	if cfg.IngressDir == "" {
		cfg.IngressDir = paths.ConnectorsIngressDir()
	}
	return cfg.toConnectorsConfig(paths.ConnectorsStatePath())
}

// JobsConfig resolves the jobs runtime config against paths.
func (c *Config) JobsConfig(paths Paths) jobs.RuntimeConfig {
	c.mu.RLock()
	cfg := c.Jobs
	c.mu.RUnlock()
	return cfg.toRuntimeConfig(paths.JobsStateDir())
}

// VoiceConfig resolves the voice contract-mode runtime config against
// paths.
func (c *Config) VoiceConfig(paths Paths) voice.Config {
	c.mu.RLock()
	cfg := c.Voice
	c.mu.RUnlock()
	return cfg.toVoiceConfig(paths.VoiceStateDir())
}

// VoiceLiveConfig resolves the voice live-mode runtime config against
// paths.
func (c *Config) VoiceLiveConfig(paths Paths) voice.LiveConfig {
	c.mu.RLock()
	cfg := c.Voice
	c.mu.RUnlock()
	return cfg.toLiveConfig(paths.VoiceStateDir())
}

// EventsSchedulerConfig resolves the events scheduler config against
// paths, wiring in runner and the channel store root.
func (c *Config) EventsSchedulerConfig(paths Paths, runner events.Runner) events.SchedulerConfig {
	c.mu.RLock()
	cfg := c.Events
	eventsDir := cfg.EventsDir
	c.mu.RUnlock()

	if eventsDir == "" {
		eventsDir = paths.EventsDir()
	}
	resolved := cfg
	resolved.EventsDir = eventsDir
	return resolved.toSchedulerConfig(runner, paths.ChannelStoreRoot(), paths.EventsStatePath())
}

// PolicySnapshot resolves the configured policy into a policy.Snapshot,
// filling in the spec's default protected paths when none are set.
func (c *Config) PolicySnapshot() policy.Snapshot {
	c.mu.RLock()
	cfg := c.Policy
	c.mu.RUnlock()

	snapshot := cfg.toSnapshot()
	if len(snapshot.ProtectedPaths) == 0 {
		snapshot.ProtectedPaths = policy.DefaultProtectedPaths
	}
	return snapshot
}
