package transcode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

const sampleBytes = 8

// Decoder runs ffmpeg to turn any audio input into mono f64le PCM at the
// configured sample rate
type Decoder struct {
	cfg config.AudioConfig
}

// NewDecoder creates a decoder for cfg
func NewDecoder(cfg config.AudioConfig) *Decoder {
	return &Decoder{cfg: cfg}
}

// Args builds the ffmpeg arguments for input ("-" reads stdin)
func (d *Decoder) Args(input string) []string {
	if input == "-" {
		input = "pipe:0"
	}
	return []string{
		"-i", input,
		"-f", "f64le", // raw float64 little-endian
		"-ac", "1",
		"-ar", strconv.Itoa(d.cfg.SampleRate),
		"-v", "error",
		"pipe:1",
	}
}

// Stream starts ffmpeg on input and returns its PCM output. Cancelling ctx
// kills the process. The caller must Close the stream.
func (d *Decoder) Stream(ctx context.Context, input string) (*PCMStream, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "Stream",
		"input":     input,
	})

	args := d.Args(input)
	cmd := exec.CommandContext(ctx, d.cfg.FFmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg output: %w", err)
	}

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := NewPCMReader(stdout)
	s.cmd = cmd
	s.stderr = stderr
	s.logger = logger
	return s, nil
}

// PCMStream reads f64le samples in blocks, either from a running ffmpeg
// process or from any reader
type PCMStream struct {
	r       *bufio.Reader
	buf     []byte
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	done    bool
	samples int

	logger logging.Logger
}

// NewPCMReader reads raw mono f64le samples from r
func NewPCMReader(r io.Reader) *PCMStream {
	return &PCMStream{
		r: bufio.NewReaderSize(r, 64*1024),
		logger: logging.WithFields(logging.Fields{
			"component": "pcm_reader",
		}),
	}
}

// ReadBlock fills dst with up to len(dst) samples. It returns io.EOF once
// the input is exhausted; a trailing partial sample is dropped.
func (s *PCMStream) ReadBlock(dst []float64) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	if len(dst) == 0 {
		return 0, nil
	}

	need := len(dst) * sampleBytes
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	read, err := io.ReadFull(s.r, buf)
	n := decodeSamples(dst, buf[:read])
	s.samples += n

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	default:
		return n, fmt.Errorf("failed to read PCM: %w", err)
	}
}

// Samples is the number of samples read so far
func (s *PCMStream) Samples() int { return s.samples }

// Close stops ffmpeg if it is still running and reports every failure
func (s *PCMStream) Close() error {
	if s.cmd == nil {
		return nil
	}

	var result error
	finished := s.done
	if !finished && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("failed to stop ffmpeg: %w", err))
		}
	}

	if err := s.cmd.Wait(); err != nil && finished {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Error(err, "FFmpeg decode failed", logging.Fields{
				"stderr": strings.TrimSpace(s.stderr.String()),
			})
		}
		result = multierror.Append(result, fmt.Errorf("ffmpeg decode failed: %w", err))
	}

	s.logger.Debug("PCM stream closed", logging.Fields{
		"samples": s.samples,
	})
	s.cmd = nil
	return result
}

// decodeSamples converts whole little-endian float64 values from data into
// dst and returns how many were written
func decodeSamples(dst []float64, data []byte) int {
	count := min(len(data)/sampleBytes, len(dst))
	for i := range count {
		bits := binary.LittleEndian.Uint64(data[i*sampleBytes : (i+1)*sampleBytes])
		dst[i] = math.Float64frombits(bits)
	}
	return count
}

// EncodeSamples is the inverse of decoding, used to feed raw PCM to a
// reader
func EncodeSamples(samples []float64) []byte {
	out := make([]byte, len(samples)*sampleBytes)
	for i, v := range samples {
		binary.LittleEndian.PutUint64(out[i*sampleBytes:], math.Float64bits(v))
	}
	return out
}
