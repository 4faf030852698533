package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/accessmind/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	clog := Component(log, "ledger")
	clog.Debug().Int("size", 3).Msg("recorded")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "ledger" {
		t.Errorf("expected component ledger, got %v", line["component"])
	}
	if line["message"] != "recorded" {
		t.Errorf("expected message 'recorded', got %v", line["message"])
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("expected warn line")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		" error ":  zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"trace":    zerolog.TraceLevel,
		"":         zerolog.InfoLevel,
		"off":      zerolog.InfoLevel,
		"bananas":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDetachWithTimeoutSurvivesParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached, detachedCancel := DetachWithTimeout(parent, 50*time.Millisecond)
	defer detachedCancel()

	cancel()
	if detached.Err() != nil {
		t.Fatalf("detached should survive parent cancellation, got %v", detached.Err())
	}

	<-detached.Done()
	if detached.Err() != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", detached.Err())
	}
}
