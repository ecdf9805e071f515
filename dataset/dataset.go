// Package dataset loads the UCI red wine quality table and splits it for
// training.
package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Sample is one row of winequality-red.csv. Column names follow the UCI
// header; the target is picked out by its "quality" column.
type Sample struct {
	FixedAcidity       float64 `csv:"fixed acidity"`
	VolatileAcidity    float64 `csv:"volatile acidity"`
	CitricAcid         float64 `csv:"citric acid"`
	ResidualSugar      float64 `csv:"residual sugar"`
	Chlorides          float64 `csv:"chlorides"`
	FreeSulfurDioxide  float64 `csv:"free sulfur dioxide"`
	TotalSulfurDioxide float64 `csv:"total sulfur dioxide"`
	Density            float64 `csv:"density"`
	PH                 float64 `csv:"pH"`
	Sulphates          float64 `csv:"sulphates"`
	Alcohol            float64 `csv:"alcohol"`
	Quality            float64 `csv:"quality"`
}

// Features returns the row in ml.FeatureNames order.
func (s Sample) Features() []float64 {
	return []float64{
		s.FixedAcidity,
		s.VolatileAcidity,
		s.CitricAcid,
		s.ResidualSugar,
		s.Chlorides,
		s.FreeSulfurDioxide,
		s.TotalSulfurDioxide,
		s.Density,
		s.PH,
		s.Sulphates,
		s.Alcohol,
	}
}

// Matrix separates features from the quality target.
func Matrix(samples []Sample) ([][]float64, []float64) {
	features := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		features[i] = s.Features()
		targets[i] = s.Quality
	}
	return features, targets
}

var httpClient = http.DefaultClient

// Fetch reads the whole dataset from an http(s) URL or a local path.
func Fetch(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		payload, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		return payload, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch dataset: unexpected status %s", resp.Status)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dataset body: %w", err)
	}
	return payload, nil
}

// Parse decodes a separator-delimited table with a header row. Every
// Sample column must be present and every value must pass Inspect.
func Parse(payload []byte, separator rune) ([]Sample, error) {
	// strip a UTF-8 or UTF-16 byte order mark if the file carries one
	decoded := transform.NewReader(bytes.NewReader(payload), unicode.BOMOverride(transform.Nop))

	reader := csv.NewReader(decoded)
	reader.Comma = separator
	reader.TrimLeadingSpace = true

	var samples []Sample
	if err := gocsv.UnmarshalCSV(reader, &samples); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(samples) == 0 {
		return nil, errors.New("dataset is empty")
	}
	if issues := Inspect(samples); len(issues) > 0 {
		return nil, &QualityError{Issues: issues}
	}
	return samples, nil
}

// Load fetches and parses source.
func Load(ctx context.Context, source string, separator rune) ([]Sample, error) {
	payload, err := Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	return Parse(payload, separator)
}

func init() {
	// a missing column is a schema mismatch, not a column of zeroes
	gocsv.FailIfUnmatchedStructTags = true
}
