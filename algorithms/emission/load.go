package emission

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

type paramsDocument struct {
	Instrument string             `json:"instrument"`
	Symbols    []gaussianDocument `json:"symbols"`
}

// Either a variance vector or a full covariance matrix whose diagonal is kept
type gaussianDocument struct {
	Mean       []float64   `json:"mean"`
	Variance   []float64   `json:"variance,omitempty"`
	Covariance [][]float64 `json:"covariance,omitempty"`
}

// LoadParamsJSON reads parameters ordered by symbol: silence first, then C..B
func LoadParamsJSON(r io.Reader) (*Params, error) {
	var doc paramsDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, config.Wrap("emission", err, "invalid parameter document")
	}
	if len(doc.Symbols) != NumSymbols {
		return nil, config.Errorf("emission", "expected %d symbols, got %d", NumSymbols, len(doc.Symbols))
	}

	p := &Params{Instrument: doc.Instrument}
	for k, g := range doc.Symbols {
		variance := g.Variance
		if len(g.Covariance) > 0 {
			variance = make([]float64, len(g.Covariance))
			for d, row := range g.Covariance {
				if d >= len(row) {
					return nil, config.Errorf("emission", "covariance of %s is not square", Symbol(k))
				}
				variance[d] = row[d]
			}
		}
		p.Symbols[k] = Gaussian{Mean: g.Mean, Variance: variance}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteParamsJSON writes parameters in the layout read by LoadParamsJSON
func WriteParamsJSON(w io.Writer, p *Params) error {
	doc := paramsDocument{Instrument: p.Instrument}
	for _, g := range p.Symbols {
		doc.Symbols = append(doc.Symbols, gaussianDocument{Mean: g.Mean, Variance: g.Variance})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// LoadParamsNPY reads a calibration directory laid out as
// mean/mean_<k>.npy and cov/cov_<k>.npy with k = -1 (silence) .. 11.
// Covariances may be 12x12 matrices, only their diagonal is kept.
func LoadParamsNPY(dir string) (*Params, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "emission",
		"function":  "LoadParamsNPY",
		"dir":       dir,
	})

	p := &Params{Instrument: filepath.Base(dir)}
	for k := 0; k < NumSymbols; k++ {
		label := k - 1

		mean, err := readNPY(filepath.Join(dir, "mean", fmt.Sprintf("mean_%d.npy", label)))
		if err != nil {
			return nil, err
		}
		cov, err := readNPY(filepath.Join(dir, "cov", fmt.Sprintf("cov_%d.npy", label)))
		if err != nil {
			return nil, err
		}

		variance, err := diagonal(cov)
		if err != nil {
			return nil, config.Wrap("emission", err, "covariance of %s", Symbol(k))
		}
		p.Symbols[k] = Gaussian{Mean: mean, Variance: variance}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Loaded emission parameters", logging.Fields{"instrument": p.Instrument})
	return p, nil
}

func readNPY(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, config.Wrap("emission", err, "missing parameter file")
	}
	defer f.Close()

	var data []float64
	if err := npyio.Read(f, &data); err != nil {
		return nil, config.Wrap("emission", err, "failed to read %s", filepath.Base(path))
	}
	return data, nil
}

// diagonal accepts either a variance vector or a flattened square matrix
func diagonal(cov []float64) ([]float64, error) {
	switch len(cov) {
	case Dimension:
		return cov, nil
	case Dimension * Dimension:
		variance := make([]float64, Dimension)
		for d := range variance {
			variance[d] = cov[d*Dimension+d]
		}
		return variance, nil
	default:
		return nil, fmt.Errorf("expected %d or %d values, got %d", Dimension, Dimension*Dimension, len(cov))
	}
}

// LoadParams reads a calibration directory of .npy files or a JSON document
func LoadParams(path string) (*Params, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat emission parameters: %w", err)
	}
	if info.IsDir() {
		return LoadParamsNPY(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open emission parameters: %w", err)
	}
	defer f.Close()
	return LoadParamsJSON(f)
}
