package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corkboard-app/corkboard/internal/obs"
)

var profileDir string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "corkboard",
	Short: "A collaborative sticky-note board client",
	Long: `Corkboard joins a shared sticky-note board: it loads the current notes,
keeps them synchronized over the change feed, and can post text, meme
and image notes of its own.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.Init()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "",
		"Profile directory for local state (default: OS user config dir)")
}
