package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tiaguard",
	Short: "Guard-post attendance kiosk with liveness-gated face capture",
	Long: `tiaguard runs on a guard-post kiosk and records attendance by walking
each guard through a sequence of liveness challenges (blink, head turns,
smile) in front of the post camera. Completed capture sets are stored
locally and pushed to the central roster service.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
