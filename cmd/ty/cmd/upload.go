package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tytools/tytools/pkg/upload"
)

var (
	uploadFormat string
	uploadNoExec bool
	uploadWait   bool
	uploadCheck  bool
	uploadBoard  string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <filename>",
	Short: "Upload firmware to a board",
	Long: `Upload reboots the board into its bootloader (unless it's already
there), waits for the upload capability to appear, and sends the firmware.

Examples:
  ty upload firmware.hex                  # upload and reset into it
  ty upload --noreset firmware.hex        # upload but leave the board in its bootloader
  ty upload -w firmware.hex               # wait for a manual button press instead of triggering a reboot
  ty upload --board 5-1.3 firmware.hex    # target a specific USB location`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFormat, "format", "f", "", "firmware format (raw, ihex); default: upload.format from the config, else autodetect from extension")
	uploadCmd.Flags().BoolVar(&uploadNoExec, "noreset", false, "leave the board in its bootloader instead of resetting into the new firmware")
	uploadCmd.Flags().BoolVarP(&uploadWait, "wait", "w", false, "wait for a manual button press instead of triggering a reboot")
	uploadCmd.Flags().BoolVar(&uploadCheck, "nocheck", false, "skip the firmware-signature-vs-model cross-check")
	uploadCmd.Flags().StringVarP(&uploadBoard, "board", "b", "", "target board identity (location or location#serial)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	filename := args[0]

	format := uploadFormat
	if format == "" {
		format = cfg.Upload.Format
	}

	b, err := findBoard(uploadBoard)
	if err != nil {
		return err
	}

	opts := upload.Options{
		Format:            format,
		ResetAfter:        cfg.Upload.ResetAfter && !uploadNoExec,
		Wait:              uploadWait,
		NoCheck:           uploadCheck,
		ManualRebootDelay: time.Duration(cfg.Upload.ManualRebootDelayMS) * time.Millisecond,
		Progress: func(action string, value, max int64) {
			if max > 0 {
				fmt.Printf("\r%s: %d/%d bytes (%.0f%%)", action, value, max, float64(value)/float64(max)*100)
				if value >= max {
					fmt.Println()
				}
			}
		},
	}

	t := upload.NewTask(b, filename, opts)
	if err := t.Start(context.Background(), pool); err != nil {
		return err
	}
	return t.Join(context.Background())
}
