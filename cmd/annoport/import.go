package main

import (
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Convert a local export folder or .zip archive",
	Long: `import converts annotation exports found under the given path. The path
may be a single dataset export, a folder of dataset exports, or a .zip
archive of either.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDestination(); err != nil {
			return err
		}
		return runConversion(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
