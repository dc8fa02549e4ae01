package cmd

import (
	"github.com/spf13/cobra"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot <identity>",
	Short: "Reboot a running board into its bootloader",
	Long: `Reboot asks a board currently running its application firmware to
restart into its bootloader, the same trigger upload issues automatically
before waiting for the upload capability.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := findBoard(args[0])
		if err != nil {
			return err
		}
		if err := b.Reboot(); err != nil {
			return err
		}
		logf("Board %s rebooting into bootloader", b.Identity())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebootCmd)
}
