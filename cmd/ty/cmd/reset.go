package cmd

import (
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Reset a board's running firmware",
	Long: `Reset asks a board currently running in its bootloader to jump
into the application it already holds, without uploading anything new.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := findBoard(args[0])
		if err != nil {
			return err
		}
		if err := b.Reset(); err != nil {
			return err
		}
		logf("Board %s reset", b.Identity())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
