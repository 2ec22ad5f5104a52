package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/follower"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/relay"
)

var (
	followInput      string
	followTempo      float64
	followListen     string
	followQueue      int
	followDropOldest bool
)

func init() {
	addModelFlags(followCmd)
	followCmd.Flags().StringVar(&followInput, "input", "-", "audio file, .npy/.csv chroma recording, or - for raw f64le PCM on stdin")
	followCmd.Flags().Float64Var(&followTempo, "tempo", 0, "starting tempo in BPM (defaults to the score's tempo)")
	followCmd.Flags().StringVar(&followListen, "listen", "", "address for the position relay, e.g. :8080")
	followCmd.Flags().IntVar(&followQueue, "queue", 0, "observation queue size (overrides the configuration)")
	followCmd.Flags().BoolVar(&followDropOldest, "drop-oldest", false, "drop the oldest observation instead of blocking when the queue is full")
	rootCmd.AddCommand(followCmd)
}

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Follow a performance and publish positions",
	Long: `follow reads a performance, tracks it through the score and publishes
the position and accompaniment of every frame, optionally over HTTP and
websocket when --listen is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return follow(ctx)
	},
}

// noteLogger logs whenever the followed coarse note changes
func noteLogger() follower.Sink {
	logger := logging.WithFields(logging.Fields{
		"component": "follow",
	})
	prev := -2
	return follower.SinkFunc(func(ev follower.Event) {
		if ev.Note == prev {
			return
		}
		prev = ev.Note
		logger.Info("Position", logging.Fields{
			"frame": ev.Frame,
			"note":  ev.Note,
			"pitch": ev.Pitch,
			"pause": ev.Pause,
			"tempo": ev.Tempo,
		})
	})
}

func follow(ctx context.Context) (result error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if followQueue > 0 {
		cfg.Stream.QueueSize = followQueue
	}
	if followDropOldest {
		cfg.Stream.Backpressure = config.BackpressureDropOldest
	}

	s, err := loadScore()
	if err != nil {
		return err
	}
	params, err := loadParams()
	if err != nil {
		return err
	}

	src, closer, err := openSource(ctx, followInput, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}()

	sess, err := follower.NewSession(s, params, cfg)
	if err != nil {
		return err
	}
	if followTempo > 0 {
		if err := sess.SetTempo(followTempo); err != nil {
			return err
		}
	}

	f := follower.New(sess, noteLogger())
	if followListen != "" {
		hub := relay.NewHub(cfg.Stream.QueueSize)
		f.AddSink(hub)

		srv := relay.NewServer(followListen, hub, s)
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.ListenAndServe() }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
			if err := <-serveErr; err != nil {
				result = multierror.Append(result, err)
			}
		}()
	}

	q, err := follower.NewQueue(cfg.Stream.QueueSize, cfg.Stream.Backpressure)
	if err != nil {
		return err
	}
	stopPump, _ := startPump(ctx, q, src)
	defer stopPump()

	ctx = logging.ContextWithFields(ctx, logging.Fields{
		"score": s.Title(),
		"input": followInput,
	})
	err = f.Run(ctx, q)
	if errors.Is(err, context.Canceled) {
		logging.Info("Interrupted")
		err = nil
	}

	stats := sess.Stats()
	logging.Info("Performance finished", logging.Fields{
		"frames":   f.Frames(),
		"dropped":  q.Dropped(),
		"rescales": stats.Rescales,
		"reseeds":  stats.Reseeds,
		"tempo":    stats.Tempo,
	})
	return err
}

// startPump runs q.Pump on a child of ctx. stop cancels the producer and
// done is closed once Pump has returned.
func startPump(ctx context.Context, q *follower.Queue, src follower.Source) (stop func(), done <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		q.Pump(ctx, src)
	}()
	return cancel, finished
}
