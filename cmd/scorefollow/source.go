package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-follow/algorithms/chroma"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/follower"
	"github.com/RyanBlaney/sonido-follow/transcode"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// isFeatureFile reports whether input holds precomputed chroma frames
func isFeatureFile(input string) bool {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".npy", ".csv":
		return true
	}
	return false
}

// openFeatures reads a recorded chroma file completely
func openFeatures(input string) (*follower.SliceSource, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(input), ".npy") {
		return follower.NewNPYSource(f)
	}

	var frames [][]float64
	src := follower.NewCSVSource(f)
	for {
		obs, err := src.Next(context.Background())
		if err == io.EOF {
			return follower.NewSliceSource(frames), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", input, err)
		}
		frames = append(frames, obs)
	}
}

// openSource resolves --input. Feature files are replayed as is; "-" is raw
// mono f64le PCM on stdin; anything else is decoded by ffmpeg. PCM input
// sets the tempo measurement rate to the extractor's frame rate unless the
// configuration fixes one.
func openSource(ctx context.Context, input string, cfg *config.Config) (follower.Source, io.Closer, error) {
	if isFeatureFile(input) {
		src, err := openFeatures(input)
		return src, nopCloser{}, err
	}

	extractor, err := chroma.NewExtractor(cfg.Audio)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Tempo.MeasurementRate == 0 {
		cfg.Tempo.MeasurementRate = extractor.FramesPerMinute()
	}

	if input == "-" {
		pcm := transcode.NewPCMReader(os.Stdin)
		return follower.NewPCMSource(pcm, extractor), pcm, nil
	}

	pcm, err := transcode.NewDecoder(cfg.Audio).Stream(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return follower.NewPCMSource(pcm, extractor), pcm, nil
}
