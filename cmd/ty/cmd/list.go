package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tytools/tytools/pkg/board"
	"github.com/tytools/tytools/pkg/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every board currently attached",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := manager.Refresh(); err != nil {
		return err
	}

	count := 0
	err := manager.List(func(b *board.Board) error {
		count++
		desc := "unknown"
		if m := b.Model(); model.IsValid(m) {
			desc = m.Desc
		}

		var caps []string
		for c := board.Capability(0); c < board.CapabilityCount; c++ {
			if b.HasCapability(c) {
				caps = append(caps, c.Name())
			}
		}

		fmt.Printf("%-20s  %-16s  %s\n", b.Identity(), desc, strings.Join(caps, ","))
		return nil
	})
	if err != nil {
		return err
	}

	if count == 0 {
		fmt.Println("no boards attached")
	}
	return nil
}
