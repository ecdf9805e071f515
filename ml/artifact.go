package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/golang/snappy"
)

const (
	artifactFormat  = "winequality.model"
	artifactVersion = 1
)

// artifact is the on-disk envelope: snappy-framed JSON.
type artifact struct {
	Format      string       `json:"format"`
	Version     int          `json:"version"`
	Kind        string       `json:"kind"`
	NumFeatures int          `json:"num_features"`
	Features    []string     `json:"features,omitempty"`
	Params      ForestParams `json:"params"`
	Trees       [][]TreeNode `json:"trees"`
}

// writeArtifact replaces path atomically; a failed write leaves any previous
// artifact in place.
func writeArtifact(path string, a *artifact, numFeatures int) (err error) {
	a.Format = artifactFormat
	a.Version = artifactVersion
	a.NumFeatures = numFeatures
	if numFeatures == NumFeatures {
		a.Features = FeatureNames()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := snappy.NewBufferedWriter(tmp)
	if err := json.NewEncoder(w).Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

func readArtifact(path, kind string) (*artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var a artifact
	if err := json.NewDecoder(snappy.NewReader(file)).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}
	switch {
	case a.Format != artifactFormat:
		return nil, fmt.Errorf("%w: unexpected format %q", ErrInvalidArtifact, a.Format)
	case a.Version != artifactVersion:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, a.Version)
	case a.Kind != kind:
		return nil, fmt.Errorf("%w: holds a %s, not a %s", ErrInvalidArtifact, a.Kind, kind)
	case a.NumFeatures <= 0:
		return nil, fmt.Errorf("%w: missing feature width", ErrInvalidArtifact)
	case len(a.Features) > 0 && !slices.Equal(a.Features, FeatureNames()):
		return nil, fmt.Errorf("%w: feature list %v does not match %v", ErrInvalidArtifact, a.Features, FeatureNames())
	case len(a.Trees) == 0:
		return nil, fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	return &a, nil
}

// IsInvalidArtifact reports whether err came from a corrupt or foreign file
// rather than an I/O failure.
func IsInvalidArtifact(err error) bool {
	return errors.Is(err, ErrInvalidArtifact)
}
