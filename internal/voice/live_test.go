package voice

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tau-run/tau/internal/store"
)

func writeLiveFixture(t *testing.T, dir string, fixture LiveInputFixture) string {
	t.Helper()
	path := filepath.Join(dir, "live.json")
	data, err := json.Marshal(fixture)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func baseLiveConfig(t *testing.T, inputPath string) LiveConfig {
	return LiveConfig{
		InputPath: inputPath,
		StateDir:  filepath.Join(t.TempDir(), "voice-live-state"),
		WakeWord:  "hey",
		MaxTurns:  10,
	}
}

func TestLiveRunOnceHandlesWakeWordTurn(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		SessionID:     "session-1",
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "hey tau turn on the lights"},
		},
	})
	rt, err := NewLive(baseLiveConfig(t, path))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, err := loadLiveInputFixture(path)
	if err != nil {
		t.Fatalf("loadLiveInputFixture: %v", err)
	}
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.WakeWordDetections != 1 || summary.HandledTurns != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if rt.sessionState != SessionIdle {
		t.Fatalf("expected session to return to idle, got %s", rt.sessionState)
	}
}

func TestLiveRunOnceIgnoresFrameWithoutWakeWord(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "what is the weather today"},
		},
	})
	rt, err := NewLive(baseLiveConfig(t, path))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, _ := loadLiveInputFixture(path)
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.IgnoredFrames != 1 || summary.HandledTurns != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestLiveRunOnceFlagsInvalidAudioFrame(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "hey tau hello", InvalidAudio: true},
		},
	})
	rt, err := NewLive(baseLiveConfig(t, path))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, _ := loadLiveInputFixture(path)
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.InvalidAudioFrames != 1 || summary.HandledTurns != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestLiveRunOnceFlagsProviderOutage(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "hey tau are you there", ProviderOutage: true},
		},
	})
	rt, err := NewLive(baseLiveConfig(t, path))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, _ := loadLiveInputFixture(path)
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.ProviderOutages != 1 || summary.HandledTurns != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if rt.state.Health.FailureStreak == 0 {
		t.Fatal("expected a provider outage to register as a failure")
	}
}

func TestLiveRunOnceEmitsTTSOutputWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "hey tau play jazz"},
		},
	})
	config := baseLiveConfig(t, path)
	config.TTSOutputEnabled = true
	rt, err := NewLive(config)
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, _ := loadLiveInputFixture(path)
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.TTSOutputs != 1 {
		t.Fatalf("expected a tts output to be recorded, got %+v", summary)
	}

	channelStore, err := store.OpenChannelStore(channelStoreRoot(rt.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: "alex"})
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	memory, err := channelStore.ReadMemory()
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if memory == "" {
		t.Fatal("expected memory.md to be populated")
	}
}

func TestLiveRunOnceCapsFramesAtMaxTurns(t *testing.T) {
	dir := t.TempDir()
	path := writeLiveFixture(t, dir, LiveInputFixture{
		SchemaVersion: 1,
		Frames: []LiveFrame{
			{FrameID: "f1", SpeakerID: "alex", Transcript: "hey tau one"},
			{FrameID: "f2", SpeakerID: "alex", Transcript: "hey tau two"},
			{FrameID: "f3", SpeakerID: "alex", Transcript: "hey tau three"},
		},
	})
	config := baseLiveConfig(t, path)
	config.MaxTurns = 2
	rt, err := NewLive(config)
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	fixture, _ := loadLiveInputFixture(path)
	summary, err := rt.RunOnce(fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.DiscoveredFrames != 3 || summary.QueuedFrames != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
