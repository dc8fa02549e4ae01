package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tytools/tytools/pkg/board"
	"github.com/tytools/tytools/pkg/message"
	"github.com/tytools/tytools/pkg/task"
	"github.com/tytools/tytools/pkg/tyconfig"
	"github.com/tytools/tytools/pkg/tyerr"
	"github.com/tytools/tytools/pkg/tylog"
	"github.com/tytools/tytools/pkg/usbmon"

	// Registers the Teensy HalfKay bootloader and CDC-serial vendor
	// drivers with pkg/board on import.
	_ "github.com/tytools/tytools/pkg/teensy"
)

var (
	configPath string
	verbose    bool
	boardWait  time.Duration

	cfg     *tyconfig.Config
	logger  *zap.Logger
	pool    *task.Pool
	manager *board.Manager
)

var rootCmd = &cobra.Command{
	Use:     "ty",
	Short:   "Manage a fleet of USB-attached Teensy boards",
	Version: "1.0.0",
	Long: `ty discovers Teensy boards over USB, reports their model and
capabilities, and drives firmware uploads through the HalfKay bootloader.

Examples:
  ty list                         # show every board currently attached
  ty upload firmware.hex          # upload to the only attached board
  ty upload -w firmware.hex       # wait for a manual button press instead of triggering a reboot
  ty reboot 5-1.3                 # reboot the board at USB location 5-1.3 into its bootloader`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { teardown() },
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: search ./ty.yaml, ./configs/ty.yaml, ~/.ty/ty.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVarP(&boardWait, "board-timeout", "t", 5*time.Second, "how long to wait for a matching board to appear")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := tyconfig.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = tylog.Setup(cfg.Log)
	if err != nil {
		return err
	}
	// tylog.Setup installed a handler that forwards every message kind into
	// the zap sinks; replace it with printAndLog so the documented CLI lines
	// also reach stdout, since cfg.Log's default output is stderr. Under
	// printAndLog only log messages reach zap; status and progress
	// messages are not logged.
	message.SetHandler(printAndLog(logger))

	pool = task.NewPool()
	pool.SetMaxThreads(cfg.Pool.MaxThreads)
	pool.SetIdleTimeout(time.Duration(cfg.Pool.IdleTimeoutMS) * time.Millisecond)

	var allow []usbmon.VIDPID
	for _, pair := range cfg.Monitor.AllowedVIDPIDs {
		vid, pid, err := tyconfig.ParseVIDPID(pair)
		if err != nil {
			return err
		}
		allow = append(allow, usbmon.VIDPID{Vendor: vid, Product: pid})
	}

	manager, err = board.NewManager(allow)
	if err != nil {
		return err
	}
	return manager.Refresh()
}

func teardown() {
	if manager != nil {
		manager.Close()
	}
	if pool != nil {
		pool.Close()
	}
	if logger != nil {
		logger.Sync()
	}
}

// Execute runs the root command, translating a failing RunE into a
// tyerr.Kind-derived process exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch tyerr.KindOf(err) {
	case tyerr.KindNotFound:
		return 2
	case tyerr.KindParam, tyerr.KindRange:
		return 3
	case tyerr.KindMode:
		return 4
	case tyerr.KindIO, tyerr.KindAccess, tyerr.KindBusy:
		return 5
	case tyerr.KindFirmware:
		return 6
	default:
		return 1
	}
}

// findBoard refreshes the manager and returns the first board matching
// identity, polling up to the --board-timeout flag. An empty identity
// matches the first board seen.
func findBoard(identity string) (*board.Board, error) {
	deadline := time.Now().Add(boardWait)
	for {
		if err := manager.Refresh(); err != nil {
			return nil, err
		}

		var found *board.Board
		err := manager.List(func(b *board.Board) error {
			if found != nil {
				return nil
			}
			ok, err := b.MatchesIdentity(identity)
			if err != nil {
				return err
			}
			if ok {
				found = b
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}

		if time.Now().After(deadline) {
			return nil, tyerr.New(tyerr.KindNotFound, "no board matches %q", identity)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// printAndLog builds the handler cmd/ty installs on pkg/message: every log
// message is both printed to stdout (the documented CLI output) and logged
// through logger at the matching level.
func printAndLog(logger *zap.Logger) func(message.Message) {
	return func(m message.Message) {
		if m.Kind != message.KindLog {
			return
		}
		fmt.Println(m.Text)
		switch m.Level {
		case message.LevelDebug:
			logger.Debug(m.Text)
		case message.LevelWarn:
			logger.Warn(m.Text)
		case message.LevelError:
			logger.Error(m.Text)
		default:
			logger.Info(m.Text)
		}
	}
}

func logf(format string, args ...any) {
	message.Emit(message.Log(message.LevelInfo, fmt.Sprintf(format, args...)))
}
