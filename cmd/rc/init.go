package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .rollcall directory in the current directory",
	Long: `Create .rollcall/ with a starter config.yaml. The local database and
the default file mirror are created inside it on first use.`,
	Run: func(cmd *cobra.Command, args []string) {
		wd, err := os.Getwd()
		if err != nil {
			fatalf("%v", err)
		}
		dataDir, err := config.InitDataDir(wd)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Initialized %s\n", ui.RenderPass("✓"), dataDir)
		fmt.Printf("   Edit %s to choose a mirror backend\n", ui.RenderAccent(dataDir+"/config.yaml"))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
