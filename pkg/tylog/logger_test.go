package tylog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tytools/tytools/pkg/message"
	"github.com/tytools/tytools/pkg/tyconfig"
)

func TestChooseFilenamePrefersRotationFilename(t *testing.T) {
	c := tyconfig.LogConfig{Rotation: tyconfig.RotationConfig{Enable: true, Filename: "logs/ty.log"}}
	if got := chooseFilename("other.log", c); got != "logs/ty.log" {
		t.Errorf("chooseFilename = %q, want logs/ty.log", got)
	}
}

func TestChooseFilenameFallsBackToOutputName(t *testing.T) {
	c := tyconfig.LogConfig{Rotation: tyconfig.RotationConfig{Enable: false}}
	if got := chooseFilename("ty.log", c); got != "ty.log" {
		t.Errorf("chooseFilename = %q, want ty.log", got)
	}
}

func TestMaxInt(t *testing.T) {
	if maxInt(3, 5) != 5 {
		t.Error("maxInt(3, 5) should be 5")
	}
	if maxInt(5, 3) != 5 {
		t.Error("maxInt(5, 3) should be 5")
	}
}

func TestForwardDispatchesLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	cases := []struct {
		level message.Level
		want  zapcore.Level
	}{
		{message.LevelDebug, zapcore.DebugLevel},
		{message.LevelInfo, zapcore.InfoLevel},
		{message.LevelWarn, zapcore.WarnLevel},
		{message.LevelError, zapcore.ErrorLevel},
	}
	for _, c := range cases {
		forward(logger, message.Log(c.level, "hello"))
	}

	entries := logs.All()
	if len(entries) != len(cases) {
		t.Fatalf("got %d log entries, want %d", len(entries), len(cases))
	}
	for i, c := range cases {
		if entries[i].Level != c.want {
			t.Errorf("entry %d level = %v, want %v", i, entries[i].Level, c.want)
		}
	}
}

func TestForwardFoldsStatusAndProgressIntoStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	forward(logger, message.Status("upload", "running"))
	forward(logger, message.Progress("upload", 10, 100))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ContextMap()["task"] != "upload" || entries[0].ContextMap()["status"] != "running" {
		t.Errorf("status entry fields = %v, want task=upload status=running", entries[0].ContextMap())
	}
	if entries[1].ContextMap()["action"] != "upload" {
		t.Errorf("progress entry fields = %v, want action=upload", entries[1].ContextMap())
	}
}
