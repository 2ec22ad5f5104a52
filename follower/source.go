package follower

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-follow/algorithms/chroma"
	"github.com/RyanBlaney/sonido-follow/algorithms/emission"
)

// Source yields one 12-d chroma observation per call and io.EOF at the end
// of the stream
type Source interface {
	Next(ctx context.Context) ([]float64, error)
}

// SliceSource replays frames held in memory
type SliceSource struct {
	frames [][]float64
	pos    int
}

func NewSliceSource(frames [][]float64) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	obs := s.frames[s.pos]
	s.pos++
	return obs, nil
}

// Len is the total number of frames
func (s *SliceSource) Len() int { return len(s.frames) }

// CSVSource reads one observation per record of 12 numbers. Lines starting
// with '#' are skipped.
type CSVSource struct {
	r    *csv.Reader
	line int
}

func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = emission.Dimension
	cr.TrimLeadingSpace = true
	return &CSVSource{r: cr}
}

func (s *CSVSource) Next(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read observation: %w", err)
	}
	s.line++

	obs := make([]float64, len(record))
	for k, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("record %d, bin %d: %w", s.line, k, err)
		}
		obs[k] = v
	}
	return obs, nil
}

// ReadNPY loads a recorded chroma matrix. Recordings are stored as 12 x T
// (one column per frame); T x 12 matrices are accepted as well.
func ReadNPY(r io.Reader) ([][]float64, error) {
	var m mat.Dense
	if err := npyio.Read(r, &m); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	rows, cols := m.Dims()
	var frames [][]float64
	switch {
	case rows == emission.Dimension:
		frames = make([][]float64, cols)
		for t := range frames {
			frames[t] = mat.Col(nil, t, &m)
		}
	case cols == emission.Dimension:
		frames = make([][]float64, rows)
		for t := range frames {
			frames[t] = mat.Row(nil, t, &m)
		}
	default:
		return nil, fmt.Errorf("recording has shape %dx%d, expected 12 chroma bins", rows, cols)
	}
	return frames, nil
}

// NewNPYSource replays a recording stored with numpy
func NewNPYSource(r io.Reader) (*SliceSource, error) {
	frames, err := ReadNPY(r)
	if err != nil {
		return nil, err
	}
	return NewSliceSource(frames), nil
}

// BlockReader delivers PCM samples in blocks
type BlockReader interface {
	ReadBlock(dst []float64) (int, error)
}

// PCMSource turns PCM into chroma observations
type PCMSource struct {
	pcm       BlockReader
	extractor *chroma.Extractor
	block     []float64
	pending   [][]float64
	eof       bool
}

// NewPCMSource reads hop-sized blocks from pcm
func NewPCMSource(pcm BlockReader, extractor *chroma.Extractor) *PCMSource {
	return &PCMSource{
		pcm:       pcm,
		extractor: extractor,
		block:     make([]float64, extractor.HopSize()),
	}
}

func (s *PCMSource) Next(ctx context.Context) ([]float64, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.eof {
			return nil, io.EOF
		}

		n, err := s.pcm.ReadBlock(s.block)
		if n > 0 {
			frames, ferr := s.extractor.Push(s.block[:n])
			if ferr != nil {
				return nil, ferr
			}
			s.pending = append(s.pending, frames...)
		}
		switch {
		case errors.Is(err, io.EOF):
			s.eof = true
		case err != nil:
			return nil, err
		}
	}

	obs := s.pending[0]
	s.pending = s.pending[1:]
	return obs, nil
}
