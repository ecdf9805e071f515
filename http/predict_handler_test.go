package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winequality/config"
	"winequality/ml"
	"winequality/monitoring"
)

type fakeModel struct {
	mu     sync.Mutex
	value  float64
	err    error
	calls  int
	vector []float64
}

func (f *fakeModel) Predict(features []float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.vector = append([]float64(nil), features...)
	return f.value, f.err
}

// validWine is the first row of the red wine table.
func validWine() map[string]interface{} {
	return map[string]interface{}{
		"fixed_acidity":        7.4,
		"volatile_acidity":     0.7,
		"citric_acid":          0.0,
		"residual_sugar":       1.9,
		"chlorides":            0.076,
		"free_sulfur_dioxide":  11.0,
		"total_sulfur_dioxide": 34.0,
		"density":              0.9978,
		"pH":                   3.51,
		"sulphates":            0.56,
		"alcohol":              9.4,
	}
}

func validVector() []float64 {
	return []float64{7.4, 0.7, 0, 1.9, 0.076, 11, 34, 0.9978, 3.51, 0.56, 9.4}
}

func newTestHandler(model ml.Regressor, mode string) *Handler {
	return NewHandler(model, Options{
		Service:     config.Default().Service,
		PredictMode: mode,
	})
}

func postPredict(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func decodeInto[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestPredictValidRequest(t *testing.T) {
	for _, mode := range []string{config.PredictModeStrict, config.PredictModeLegacy} {
		t.Run(mode, func(t *testing.T) {
			model := &fakeModel{value: 5.2}
			h := newTestHandler(model, mode)

			rr := postPredict(t, h.Routes(), mustJSON(t, validWine()))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			got := decodeInto[PredictResponse](t, rr)
			assert.Equal(t, PredictResponse{Name: "Arjun Deshmukh", RollNo: "2022BCS0084", WineQuality: 5}, got)
			assert.Equal(t, validVector(), model.vector)
			assert.Equal(t, 1.0, h.metrics.PredictionCount(monitoring.OutcomeOK))
		})
	}
}

func TestPredictFeatureOrderIgnoresKeyOrder(t *testing.T) {
	model := &fakeModel{value: 6}
	h := newTestHandler(model, config.PredictModeStrict)

	// alcohol first, fixed_acidity last
	body := `{"alcohol": 9.4, "sulphates": 0.56, "pH": 3.51, "density": 0.9978,
		"total_sulfur_dioxide": 34, "free_sulfur_dioxide": 11, "chlorides": 0.076,
		"residual_sugar": 1.9, "citric_acid": 0, "volatile_acidity": 0.7, "fixed_acidity": 7.4}`
	rr := postPredict(t, h.Routes(), body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, validVector(), model.vector)
}

// Every subset of missing features: strict refuses naming exactly the missing
// ones, legacy predicts on zeros in their slots.
func TestPredictMissingFeatureSubsets(t *testing.T) {
	names := ml.FeatureNames()
	full := validWine()
	want := validVector()

	strictModel := &fakeModel{value: 5}
	strict := newTestHandler(strictModel, config.PredictModeStrict).Routes()
	legacyModel := &fakeModel{value: 5}
	legacy := newTestHandler(legacyModel, config.PredictModeLegacy).Routes()

	for mask := 1; mask < 1<<len(names); mask++ {
		body := map[string]interface{}{}
		expected := make([]float64, len(names))
		var missing []string
		for i, name := range names {
			if mask&(1<<i) != 0 {
				missing = append(missing, name)
				continue
			}
			body[name] = full[name]
			expected[i] = want[i]
		}
		payload := mustJSON(t, body)

		rr := postPredict(t, strict, payload)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, "mask %b", mask)
		resp := decodeInto[errorResponse](t, rr)
		var fields []string
		for _, d := range resp.Details {
			fields = append(fields, d.Field)
			assert.Equal(t, "is required", d.Message)
		}
		require.Equal(t, missing, fields, "mask %b", mask)

		rr = postPredict(t, legacy, payload)
		require.Equal(t, http.StatusOK, rr.Code, "mask %b", mask)
		require.Equal(t, expected, legacyModel.vector, "mask %b", mask)
	}
	assert.Zero(t, strictModel.calls)
}

func TestPredictEmptyObject(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		model := &fakeModel{value: 5}
		h := newTestHandler(model, config.PredictModeStrict)
		rr := postPredict(t, h.Routes(), `{}`)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resp := decodeInto[errorResponse](t, rr)
		assert.Equal(t, "invalid features", resp.Error)
		assert.Len(t, resp.Details, ml.NumFeatures)
		assert.Zero(t, model.calls)
	})

	t.Run("legacy", func(t *testing.T) {
		model := &fakeModel{value: 4.6}
		h := newTestHandler(model, config.PredictModeLegacy)
		rr := postPredict(t, h.Routes(), `{}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, make([]float64, ml.NumFeatures), model.vector)
		assert.Equal(t, 5, decodeInto[PredictResponse](t, rr).WineQuality)
	})
}

func TestPredictNonNumericFeature(t *testing.T) {
	cases := map[string]interface{}{
		"string": "9.4",
		"null":   nil,
		"array":  []float64{9.4},
		"object": map[string]float64{"v": 9.4},
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			body := validWine()
			body["alcohol"] = value

			model := &fakeModel{value: 7}
			strict := newTestHandler(model, config.PredictModeStrict)
			rr := postPredict(t, strict.Routes(), mustJSON(t, body))
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			resp := decodeInto[errorResponse](t, rr)
			assert.Equal(t, []FieldError{{Field: "alcohol", Message: "must be a finite number"}}, resp.Details)
			assert.Zero(t, model.calls)

			legacy := newTestHandler(model, config.PredictModeLegacy)
			rr = postPredict(t, legacy.Routes(), mustJSON(t, body))
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, 0, decodeInto[PredictResponse](t, rr).WineQuality)
			assert.Zero(t, model.calls)
			assert.Equal(t, 1.0, legacy.metrics.PredictionCount(monitoring.OutcomeDefaulted))
		})
	}
}

// Booleans are non-numeric for strict mode; legacy reads them as 1 and 0.
func TestPredictBooleanFeature(t *testing.T) {
	body := validWine()
	body["alcohol"] = true
	body["citric_acid"] = false

	model := &fakeModel{value: 7}
	strict := newTestHandler(model, config.PredictModeStrict)
	rr := postPredict(t, strict.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []FieldError{
		{Field: "citric_acid", Message: "must be a finite number"},
		{Field: "alcohol", Message: "must be a finite number"},
	}, decodeInto[errorResponse](t, rr).Details)
	assert.Zero(t, model.calls)

	legacy := newTestHandler(model, config.PredictModeLegacy)
	rr = postPredict(t, legacy.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 7, decodeInto[PredictResponse](t, rr).WineQuality)
	want := validVector()
	want[2] = 0
	want[10] = 1
	assert.Equal(t, want, model.vector)
	assert.Equal(t, 1.0, legacy.metrics.PredictionCount(monitoring.OutcomeOK))
}

func TestPredictStrictBoundsAreInclusive(t *testing.T) {
	model := &fakeModel{value: 5}
	h := newTestHandler(model, config.PredictModeStrict)

	body := validWine()
	body["pH"] = 14.0
	body["density"] = 2.0
	body["chlorides"] = 0.0
	rr := postPredict(t, h.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body["pH"] = 14.001
	rr = postPredict(t, h.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []FieldError{{Field: "pH", Message: "must be between 0 and 14"}}, decodeInto[errorResponse](t, rr).Details)
}

func TestPredictOverflowingNumber(t *testing.T) {
	body := strings.Replace(mustJSON(t, validWine()), `"alcohol":9.4`, `"alcohol":1e400`, 1)
	require.Contains(t, body, "1e400")

	h := newTestHandler(&fakeModel{value: 5}, config.PredictModeStrict)
	rr := postPredict(t, h.Routes(), body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "alcohol", decodeInto[errorResponse](t, rr).Details[0].Field)
}

func TestPredictStrictBoundsAndUnknownKeys(t *testing.T) {
	body := validWine()
	body["pH"] = 15.0
	body["density"] = -0.1
	body["colour"] = "red"
	body["age"] = 3

	model := &fakeModel{value: 5}
	h := newTestHandler(model, config.PredictModeStrict)
	rr := postPredict(t, h.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	resp := decodeInto[errorResponse](t, rr)
	assert.Equal(t, []FieldError{
		{Field: "density", Message: "must be between 0 and 2"},
		{Field: "pH", Message: "must be between 0 and 14"},
		{Field: "age", Message: "is not a known feature"},
		{Field: "colour", Message: "is not a known feature"},
	}, resp.Details)
	assert.Zero(t, model.calls)
	assert.Equal(t, 1.0, h.metrics.PredictionCount(monitoring.OutcomeInvalid))
}

func TestPredictLegacyIgnoresUnknownKeys(t *testing.T) {
	body := validWine()
	body["colour"] = "red"

	model := &fakeModel{value: 5}
	h := newTestHandler(model, config.PredictModeLegacy)
	rr := postPredict(t, h.Routes(), mustJSON(t, body))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, validVector(), model.vector)
}

func TestPredictRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		raw  float64
		want int
	}{
		{5.5, 6},
		{6.5, 6},
		{4.5, 4},
		{5.49, 5},
		{7.51, 8},
		{3.0, 3},
		{-0.4, 0},
	}
	for _, tc := range cases {
		model := &fakeModel{value: tc.raw}
		h := newTestHandler(model, config.PredictModeStrict)
		rr := postPredict(t, h.Routes(), mustJSON(t, validWine()))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, tc.want, decodeInto[PredictResponse](t, rr).WineQuality, "raw %v", tc.raw)
	}
}

func TestPredictModelFailure(t *testing.T) {
	failures := map[string]*fakeModel{
		"error": {err: errors.New("boom")},
		"nan":   {value: math.NaN()},
		"inf":   {value: math.Inf(1)},
	}
	for name, model := range failures {
		t.Run(name, func(t *testing.T) {
			strict := newTestHandler(model, config.PredictModeStrict)
			rr := postPredict(t, strict.Routes(), mustJSON(t, validWine()))
			require.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, "prediction failed", decodeInto[errorResponse](t, rr).Error)
			assert.NotContains(t, rr.Body.String(), "boom")
			assert.Equal(t, 1.0, strict.metrics.PredictionCount(monitoring.OutcomeModelError))

			legacy := newTestHandler(model, config.PredictModeLegacy)
			rr = postPredict(t, legacy.Routes(), mustJSON(t, validWine()))
			require.Equal(t, http.StatusOK, rr.Code)
			got := decodeInto[PredictResponse](t, rr)
			assert.Equal(t, 0, got.WineQuality)
			assert.Equal(t, "Arjun Deshmukh", got.Name)
		})
	}
}

func TestPredictWithoutModel(t *testing.T) {
	h := newTestHandler(nil, config.PredictModeStrict)
	rr := postPredict(t, h.Routes(), mustJSON(t, validWine()))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestPredictRejectsNonObjectBodies(t *testing.T) {
	for _, body := range []string{`[1, 2, 3]`, `"wine"`, `42`, `null`} {
		for _, mode := range []string{config.PredictModeStrict, config.PredictModeLegacy} {
			model := &fakeModel{value: 5}
			h := newTestHandler(model, mode)
			rr := postPredict(t, h.Routes(), body)
			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "%s %s", mode, body)
			assert.Zero(t, model.calls)
		}
	}
}

func TestPredictMalformedJSON(t *testing.T) {
	for _, body := range []string{`{`, `{"alcohol": }`, ``, `{} {}`} {
		strict := newTestHandler(&fakeModel{value: 5}, config.PredictModeStrict)
		rr := postPredict(t, strict.Routes(), body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "strict %q", body)
		assert.Equal(t, "malformed JSON body", decodeInto[errorResponse](t, rr).Error)

		legacy := newTestHandler(&fakeModel{value: 5}, config.PredictModeLegacy)
		rr = postPredict(t, legacy.Routes(), body)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "legacy %q", body)
	}
}

func TestPredictBodyTooLarge(t *testing.T) {
	for _, mode := range []string{config.PredictModeStrict, config.PredictModeLegacy} {
		model := &fakeModel{value: 5}
		h := newTestHandler(model, mode)
		srv := NewServer(ServerConfig{Port: 8000, MaxBodyBytes: 64}, h, nil)

		rr := postPredict(t, srv.Handler(), mustJSON(t, validWine()))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, mode)
		assert.Zero(t, model.calls)
	}
}

func TestPredictWrongMethod(t *testing.T) {
	h := newTestHandler(&fakeModel{value: 5}, config.PredictModeStrict)
	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// A real forest shared by concurrent requests returns the same answer to each.
func TestPredictConcurrentRequestsShareModel(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	features := make([][]float64, 120)
	targets := make([]float64, len(features))
	base := validVector()
	for i := range features {
		row := make([]float64, len(base))
		for j, v := range base {
			row[j] = v * (0.8 + 0.4*rnd.Float64())
		}
		features[i] = row
		targets[i] = math.Round(3 + row[10]/3)
	}
	forest := ml.NewRandomForest(ml.ForestParams{NumTrees: 10, MaxDepth: 6, Seed: 42})
	require.NoError(t, forest.Fit(context.Background(), features, targets))

	want, err := forest.Predict(base)
	require.NoError(t, err)

	routes := newTestHandler(forest, config.PredictModeStrict).Routes()
	payload := mustJSON(t, validWine())

	var wg sync.WaitGroup
	results := make([]int, 32)
	codes := make([]int, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(payload))
			rr := httptest.NewRecorder()
			routes.ServeHTTP(rr, req)
			codes[i] = rr.Code
			var resp PredictResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err == nil {
				results[i] = resp.WineQuality
			}
		}(i)
	}
	wg.Wait()

	for i := range results {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, roundQuality(want), results[i])
	}
}
