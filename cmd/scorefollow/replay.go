package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/RyanBlaney/sonido-follow/follower"
)

var (
	replayInput string
	replayTempo float64
	replayJSON  bool
)

func init() {
	addModelFlags(replayCmd)
	replayCmd.Flags().StringVar(&replayInput, "input", "", "recorded chroma features (.npy 12xT or .csv)")
	replayCmd.Flags().Float64Var(&replayTempo, "tempo", 0, "starting tempo in BPM (defaults to the score's tempo)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the report as JSON")
	replayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Follow a recorded feature file and report per-note durations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return replay(cmd.Context())
	},
}

func replay(ctx context.Context) error {
	if !isFeatureFile(replayInput) {
		return fmt.Errorf("replay needs a .npy or .csv feature file, got %s", replayInput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := loadScore()
	if err != nil {
		return err
	}
	params, err := loadParams()
	if err != nil {
		return err
	}
	src, err := openFeatures(replayInput)
	if err != nil {
		return err
	}

	sess, err := follower.NewSession(s, params, cfg)
	if err != nil {
		return err
	}
	if replayTempo > 0 {
		if err := sess.SetTempo(replayTempo); err != nil {
			return err
		}
	}

	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(src.Len()),
		mpb.PrependDecorators(
			decor.Name("Replaying: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)

	rec := &follower.Recorder{}
	progress := follower.SinkFunc(func(follower.Event) { bar.Increment() })
	f := follower.New(sess, rec, progress)

	runErr := f.Run(ctx, src)
	if runErr != nil {
		bar.Abort(false)
	}
	p.Wait()
	if runErr != nil {
		return runErr
	}

	report := follower.Summarize(rec.Events(), s, cfg.MeasurementRate())
	if replayJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(report)
}

func printReport(r follower.Report) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NOTE\tPITCH\tFRAMES\tEXPECTED")
	for _, n := range r.Notes {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.1f\n", n.Note, n.Pitch, n.Frames, n.Expected)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nframes: %d (pause %d)\n", r.Frames, r.PauseFrames)
	fmt.Printf("coverage: %.1f%%\n", 100*r.Coverage)
	fmt.Printf("mean frames per note: %.2f (mean error %+.2f)\n", r.MeanFrames, r.MeanError)
	fmt.Printf("regressions: %d\n", r.Regressions)
	fmt.Printf("final tempo: %.1f BPM\n", r.FinalTempo)
	return nil
}
