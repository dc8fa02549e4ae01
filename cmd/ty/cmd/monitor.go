package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tytools/tytools/pkg/board"
)

var monitorPollInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch board hotplug events until interrupted",
	Long: `Monitor drives the manager's refresh loop and prints one line per
board lifecycle event (added, changed, disappeared, dropped), for manually
exercising hotplug behavior. Stop with Ctrl-C.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorPollInterval, "poll", 250*time.Millisecond, "USB bus poll interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	id := manager.RegisterCallback(func(b *board.Board, event board.Event) error {
		fmt.Printf("%s  %-20s  %s\n", time.Now().Format(time.RFC3339), b.Identity(), event)
		return nil
	})
	defer manager.DeregisterCallback(id)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Println("watching for board events, press Ctrl-C to stop")
	err := manager.RunLoop(ctx, monitorPollInterval)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
