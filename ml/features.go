package ml

import "fmt"

// FeatureNames is the fixed column order of a wine feature vector.
func FeatureNames() []string {
	return []string{
		"fixed_acidity",
		"volatile_acidity",
		"citric_acid",
		"residual_sugar",
		"chlorides",
		"free_sulfur_dioxide",
		"total_sulfur_dioxide",
		"density",
		"pH",
		"sulphates",
		"alcohol",
	}
}

// NumFeatures is len(FeatureNames()).
const NumFeatures = 11

// Bound is an inclusive range of plausible values for one feature.
type Bound struct {
	Min float64
	Max float64
}

var featureBounds = map[string]Bound{
	"fixed_acidity":        {0, 100},
	"volatile_acidity":     {0, 10},
	"citric_acid":          {0, 10},
	"residual_sugar":       {0, 1000},
	"chlorides":            {0, 10},
	"free_sulfur_dioxide":  {0, 1000},
	"total_sulfur_dioxide": {0, 2000},
	"density":              {0, 2},
	"pH":                   {0, 14},
	"sulphates":            {0, 10},
	"alcohol":              {0, 100},
}

// FeatureBound returns the accepted range for name.
func FeatureBound(name string) (Bound, bool) {
	b, ok := featureBounds[name]
	return b, ok
}

// FeatureVector orders values by FeatureNames. Absent names become zero.
func FeatureVector(values map[string]float64) []float64 {
	names := FeatureNames()
	vector := make([]float64, len(names))
	for i, name := range names {
		vector[i] = values[name]
	}
	return vector
}

func checkWidth(features []float64, want int) error {
	if len(features) != want {
		return fmt.Errorf("%w: got %d values, want %d", ErrFeatureMismatch, len(features), want)
	}
	return nil
}
