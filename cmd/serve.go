package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/analyzer"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/capture"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/config"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/rosterhub"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/mariadb"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/postgres"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/web"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk daemon",
	Long: `Run the guard-post kiosk daemon: the capture pipeline, the local
control API consumed by the kiosk screen, and session persistence.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// sessionFactory wires a fresh pipeline per capture session. The camera
// sidecar connection and the still-sequence counter must not leak between
// sessions.
func sessionFactory(cfg *config.Config, uploader enrollment.Uploader) handlers.SessionFactory {
	return func(sessionID, badge string) (*enrollment.Controller, error) {
		cam := camera.NewHTTPCamera(cfg.Camera.URL)
		return enrollment.New(enrollment.Config{
			SessionID:    sessionID,
			Badge:        badge,
			Source:       cam,
			Analyzer:     analyzer.NewClient(cfg.Analyzer.URL),
			Gate:         liveness.NewGate(cfg.Thresholds),
			Machine:      liveness.NewMachine(cfg.Thresholds),
			Orchestrator: capture.NewOrchestrator(cam, time.Duration(cfg.Capture.CooldownMs)*time.Millisecond),
			Uploader:     uploader,
		})
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Camera.URL == "" {
		return errors.New("CAMERA_URL environment variable is required")
	}
	if cfg.Analyzer.URL == "" {
		return errors.New("ANALYZER_URL environment variable is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()
	sessionRepo := postgres.NewSessionRepository(pool)

	var guards handlers.GuardDirectory
	if cfg.Roster.DatabaseURL != "" {
		roster, err := mariadb.NewPool(cfg.Roster.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to the roster database: %w", err)
		}
		defer roster.Close()
		guards = roster
		fmt.Printf("Roster badge validation enabled (MariaDB)\n")
	} else {
		fmt.Printf("Warning: ROSTER_DATABASE_URL not set, badge validation disabled\n")
	}

	var uploader enrollment.Uploader
	if cfg.RosterHub.URL != "" {
		hub, err := rosterhub.New(cfg.RosterHub.URL, cfg.RosterHub.Username, cfg.RosterHub.Password)
		if err != nil {
			return fmt.Errorf("failed to log in to the roster service: %w", err)
		}
		defer hub.Logout()
		uploader = hub
		fmt.Printf("Roster service upload enabled\n")
	} else {
		fmt.Printf("Warning: ROSTERHUB_URL not set, completed sessions stay local\n")
	}

	manager := enrollment.NewManager()
	captures := handlers.NewCapturesHandler(manager, sessionFactory(cfg, uploader), guards, sessionRepo)
	attendance := handlers.NewAttendanceHandler(sessionRepo)
	server := web.NewServer(cfg, captures, attendance)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		// Abort running sessions so partial artifacts are discarded, not
		// left dangling.
		for _, ctrl := range manager.List() {
			ctrl.Abort()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting tiaguard kiosk API on :%d\n", cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
