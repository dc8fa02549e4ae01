// Package upload implements the capability-routed firmware upload
// orchestration: wait for a board to expose the upload capability
// (rebooting it into its bootloader first if it doesn't), reload the
// firmware file if it changed on disk while waiting, cross-check it
// against the board's model, and upload it.
package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tytools/tytools/pkg/board"
	"github.com/tytools/tytools/pkg/firmware"
	"github.com/tytools/tytools/pkg/message"
	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/task"
	"github.com/tytools/tytools/pkg/tyerr"
)

// Options controls one upload run, mirroring the ty CLI's upload flags.
type Options struct {
	// Format forces a firmware format instead of autodetecting from the
	// filename extension.
	Format string
	// ResetAfter asks the board to reset into the new firmware once the
	// upload finishes. When false, the CLI only advises the user to do
	// it themselves.
	ResetAfter bool
	// Wait, instead of actively triggering a reboot into the bootloader,
	// waits for the user to press the board's reset button.
	Wait bool
	// ManualRebootDelay bounds the first wait after a triggered reboot;
	// if it expires, the driver falls back to Wait semantics.
	ManualRebootDelay time.Duration
	// NoCheck skips the firmware-signature-vs-model cross-check.
	NoCheck bool
	// Progress, if set, receives upload byte-progress callbacks in
	// addition to the ones emitted on the message bus.
	Progress board.ProgressFunc
}

// NewTask builds a task.Task that runs Run against b, for callers that
// want the upload queued on a pool instead of run synchronously.
func NewTask(b *board.Board, filename string, opts Options) *task.Task {
	return task.New("upload", func(ctx context.Context, t *task.Task) error {
		return Run(ctx, b, filename, opts)
	})
}

// firmwareState holds the loaded firmware and its mtime; reload re-reads
// filename if nothing is loaded yet or its mtime has changed since the
// last read, matching upload.c's
// reload_firmware (firmware can be rebuilt while the driver is waiting
// for a bootloader transition).
type firmwareState struct {
	fw    *firmware.Firmware
	mtime time.Time
}

func (s *firmwareState) reload(filename, format string) (bool, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return false, tyerr.Wrap(tyerr.KindIO, err, "stat %s", filename)
	}

	if s.fw != nil && info.ModTime().Equal(s.mtime) {
		return false, nil
	}

	fw, err := firmware.Load(filename, format)
	if err != nil {
		return false, err
	}
	s.fw = fw
	s.mtime = info.ModTime()
	return true, nil
}

// Run drives one upload to completion against b, emitting the same
// message-bus log lines the CLI prints and blocking until the firmware
// is on the board (and, when ResetAfter is set, reset into it).
func Run(ctx context.Context, b *board.Board, filename string, opts Options) error {
	state := &firmwareState{}
	if _, err := state.reload(filename, opts.Format); err != nil {
		return err
	}

	if !b.HasCapability(board.CapabilityUpload) {
		if opts.Wait {
			logf("Waiting for device...")
			logf("  (hint: press button to reboot)")
		} else {
			logf("Triggering board reboot")
			if err := b.Reboot(); err != nil {
				return err
			}
		}
	}

	wait := opts.Wait
	for {
		waitTimeout := opts.ManualRebootDelay
		if wait {
			waitTimeout = 0
		}
		err := b.WaitFor(board.CapabilityUpload, false, waitTimeout)
		if err == nil {
			break
		}
		if tyerr.Is(err, tyerr.KindNotFound) {
			return err
		}
		if wait {
			return err
		}
		logf("Reboot didn't work, press button manually")
		wait = true
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, err := state.reload(filename, opts.Format); err != nil {
		return err
	}

	boardModel := b.Model()
	if !model.IsValid(boardModel) {
		return tyerr.New(tyerr.KindMode, "unknown board model")
	}

	logf("Model: %s", boardModel.Desc)
	logf("Firmware: %s", filename)

	if boardModel.CodeSize > 0 {
		pct := float64(state.fw.Size()) / float64(boardModel.CodeSize) * 100
		logf("Usage: %.1f%% (%d bytes)", pct, state.fw.Size())
	}

	logf("Uploading firmware...")
	progress := func(action string, value, max int64) {
		message.Emit(message.Progress(action, value, max))
		if opts.Progress != nil {
			opts.Progress(action, value, max)
		}
	}
	if err := b.Upload(state.fw, opts.NoCheck, progress); err != nil {
		return err
	}

	if opts.ResetAfter {
		logf("Sending reset command")
		return b.Reset()
	}

	logf("Firmware uploaded, reset the board to use it")
	return nil
}

func logf(format string, args ...any) {
	message.Emit(message.Log(message.LevelInfo, fmt.Sprintf(format, args...)))
}
