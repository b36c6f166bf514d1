package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/config"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/postgres"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "List recorded attendance sessions",
	Long: `List completed capture sessions recorded by this kiosk. A completed
session is the attendance proof for the badge it carries.`,
	RunE: runAttendance,
}

func init() {
	attendanceCmd.Flags().String("from", "", "Window start (RFC 3339), defaults to 24 hours ago")
	attendanceCmd.Flags().String("to", "", "Window end (RFC 3339), defaults to now")
	rootCmd.AddCommand(attendanceCmd)
}

func runAttendance(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if raw := mustGetString(cmd, "from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --from timestamp: %w", err)
		}
	}
	if raw := mustGetString(cmd, "to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --to timestamp: %w", err)
		}
	}
	if !from.Before(to) {
		return errors.New("--from must be before --to")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := postgres.NewSessionRepository(pool).ListAttendance(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	fmt.Printf("Attendance from %s to %s\n\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
	if len(records) == 0 {
		fmt.Println("No completed sessions in this window.")
		return nil
	}

	fmt.Printf("%-38s %-10s %-20s %-25s %s\n", "SESSION", "BADGE", "GUARD", "STARTED", "FINISHED")
	for _, rec := range records {
		finished := "-"
		if rec.FinishedAt != nil {
			finished = rec.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf("%-38s %-10s %-20s %-25s %s\n",
			rec.ID, rec.Badge, rec.GuardName, rec.StartedAt.Format(time.RFC3339), finished)
	}
	fmt.Printf("\n%d session(s)\n", len(records))
	return nil
}
