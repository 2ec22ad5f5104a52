package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-follow/algorithms/emission"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

var (
	logLevel   string
	noColor    bool
	configPath string
	scoreArg   string
	paramsPath string
	soloTrack  int
	soloName   string
)

var rootCmd = &cobra.Command{
	Use:   "scorefollow",
	Short: "Real-time score following",
	Long: `scorefollow tracks a live performance through a known score with a
hidden Markov model over chroma features, adapting to the performer's tempo.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger := logging.NewWriterLogger(os.Stderr, level)
		logging.SetGlobalLogger(logger)
		if noColor {
			logging.DisableColors()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON configuration file (defaults apply when empty)")
}

// addScoreFlags registers the flags every command needs to pick a score
func addScoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scoreArg, "score", "twinkle", "built-in piece name, JSON score or MIDI file")
	cmd.Flags().IntVar(&soloTrack, "solo-track", 0, "MIDI track index holding the solo line")
	cmd.Flags().StringVar(&soloName, "solo-name", "", "MIDI track name holding the solo line (overrides --solo-track)")
}

func addModelFlags(cmd *cobra.Command) {
	addScoreFlags(cmd)
	cmd.Flags().StringVar(&paramsPath, "params", "", "emission parameters: JSON file or directory of .npy files")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

func loadScore() (*score.Score, error) {
	opts := score.DefaultMIDIOptions()
	opts.SoloTrack = soloTrack
	opts.SoloName = soloName
	return score.Load(scoreArg, opts)
}

func loadParams() (*emission.Params, error) {
	if paramsPath == "" {
		logging.Warn("No emission parameters given, using idealised chroma templates")
		return emission.TemplateParams(1, 0.01), nil
	}
	p, err := emission.LoadParams(paramsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load emission parameters: %w", err)
	}
	return p, nil
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
