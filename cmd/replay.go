package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/capture"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/config"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Run the capture pipeline against a scripted scenario",
	Long: `Replay feeds the full capture pipeline from a yaml scenario file
instead of the post camera and analyzer. Useful for tuning thresholds and
reproducing field reports without hardware.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().String("badge", "REPLAY", "Badge recorded on the session")
	replayCmd.Flags().Bool("verbose", false, "Print every status message")
}

func runReplay(cmd *cobra.Command, args []string) error {
	badge := mustGetString(cmd, "badge")
	verbose := mustGetBool(cmd, "verbose")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	scenario, err := replay.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}
	fmt.Printf("Replaying scenario %q (%d scripted frames)\n", scenario.Name, scenario.FrameCount())

	source := replay.NewSource(scenario)
	ctrl, err := enrollment.New(enrollment.Config{
		Badge:        badge,
		Source:       source,
		Analyzer:     source,
		Gate:         liveness.NewGate(cfg.Thresholds),
		Machine:      liveness.NewMachine(cfg.Thresholds),
		Orchestrator: capture.NewOrchestrator(source, capture.MinCooldown),
	})
	if err != nil {
		return fmt.Errorf("setting up the pipeline: %w", err)
	}

	bar := progressbar.NewOptions(liveness.RequiredCaptures,
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("stills"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	events := ctrl.Events().AddListener()
	defer ctrl.Events().RemoveListener(events)
	go func() {
		lastMessage := ""
		for ev := range events {
			switch ev.Type {
			case enrollment.EventCaptured:
				_ = bar.Add(1)
			case enrollment.EventStatus:
				if verbose && ev.Message != lastMessage {
					fmt.Printf("\n[%s] %s: %s", ev.Severity, ev.Step, ev.Message)
					lastMessage = ev.Message
				}
			}
		}
	}()

	if err := ctrl.Start(context.Background()); err != nil {
		return fmt.Errorf("starting the pipeline: %w", err)
	}

	select {
	case <-ctrl.Done():
	case <-source.Finished():
		// Script exhausted without finishing the session; give in-flight
		// work a moment, then tear down.
		select {
		case <-ctrl.Done():
		case <-time.After(2 * time.Second):
			ctrl.Abort()
			<-ctrl.Done()
		}
	}

	snap := ctrl.Snapshot()
	fmt.Printf("\n\nSession %s finished: %s\n", snap.ID, snap.State)
	if snap.Error != "" {
		fmt.Printf("  Error: %s\n", snap.Error)
	}
	fmt.Printf("  Step: %s, captured %d/%d, dropped %d frames\n",
		snap.Step, snap.Captured, snap.Required, snap.DroppedFrames)
	for _, img := range snap.Artifacts {
		fmt.Printf("  #%d %-10s %s (%s)\n",
			img.SequenceIndex, img.StepTag, img.Handle, img.CapturedAt.Format(time.RFC3339))
	}

	if snap.State != enrollment.StateCompleted {
		return fmt.Errorf("scenario ended with state %s", snap.State)
	}
	return nil
}
