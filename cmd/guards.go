package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/config"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/mariadb"
)

var guardsCmd = &cobra.Command{
	Use:   "guards",
	Short: "List active guards on the site roster",
	Long: `List the guards currently rostered to this site. Only these badges
can start a capture session when badge validation is enabled.`,
	RunE: runGuards,
}

func init() {
	rootCmd.AddCommand(guardsCmd)
}

func runGuards(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Roster.DatabaseURL == "" {
		return errors.New("ROSTER_DATABASE_URL environment variable is required")
	}

	roster, err := mariadb.NewPool(cfg.Roster.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the roster database: %w", err)
	}
	defer roster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	guards, err := roster.ListActiveGuards(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guards: %w", err)
	}
	if len(guards) == 0 {
		fmt.Println("No active guards on the roster.")
		return nil
	}

	fmt.Printf("%-10s %-25s %s\n", "BADGE", "NAME", "POST")
	for _, g := range guards {
		fmt.Printf("%-10s %-25s %s\n", g.Badge, g.Name, g.Post)
	}
	fmt.Printf("\n%d guard(s)\n", len(guards))
	return nil
}
