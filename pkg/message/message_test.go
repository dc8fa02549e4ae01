package message

import "testing"

func TestEmitDispatchesToHandler(t *testing.T) {
	defer SetHandler(nil)

	var got Message
	SetHandler(func(m Message) { got = m })

	Emit(Log(LevelWarn, "disk almost full"))

	if got.Kind != KindLog || got.Level != LevelWarn || got.Text != "disk almost full" {
		t.Errorf("handler received %+v, want a KindLog/LevelWarn message", got)
	}
}

func TestEmitWithNoHandlerDoesNotPanic(t *testing.T) {
	SetHandler(nil)
	Emit(Status("upload", "running"))
}

func TestSetHandlerReplacesPreviousOne(t *testing.T) {
	defer SetHandler(nil)

	var calls int
	SetHandler(func(Message) { calls++ })
	SetHandler(func(Message) { calls += 10 })

	Emit(Progress("upload", 1, 2))

	if calls != 10 {
		t.Errorf("expected only the second handler to run, got calls=%d", calls)
	}
}

func TestStatusConstructor(t *testing.T) {
	msg := Status("upload-1", "running")
	if msg.Kind != KindStatus || msg.TaskName != "upload-1" || msg.Status != "running" {
		t.Errorf("Status() = %+v, want KindStatus/upload-1/running", msg)
	}
}

func TestProgressConstructor(t *testing.T) {
	msg := Progress("upload", 512, 2048)
	if msg.Kind != KindProgress || msg.Action != "upload" || msg.Value != 512 || msg.Max != 2048 {
		t.Errorf("Progress() = %+v, want KindProgress/upload/512/2048", msg)
	}
}
