package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"

	"github.com/asaskevich/govalidator"
	"go.uber.org/zap"

	"winequality/ml"
	"winequality/monitoring"
)

var errNotObject = errors.New("request body must be a JSON object")

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if h.strict {
		h.predictStrict(w, r)
		return
	}
	h.predictLegacy(w, r)
}

// predictStrict accepts exactly the eleven numeric features, each finite and
// inside its bound. The model only sees validated vectors.
func (h *Handler) predictStrict(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r.Body)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	case errors.Is(err, errNotObject):
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	case err != nil:
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}

	vector, problems := validateFeatures(body)
	if len(problems) > 0 {
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusUnprocessableEntity, "invalid features", problems)
		return
	}

	prediction, err := h.predict(vector)
	if err != nil {
		h.metrics.ObservePrediction(monitoring.OutcomeModelError)
		h.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, h.logger, http.StatusInternalServerError, "prediction failed", nil)
		return
	}

	h.metrics.ObservePrediction(monitoring.OutcomeOK)
	writeJSON(w, h.logger, http.StatusOK, h.response(prediction))
}

// predictLegacy keeps the original contract: absent features count as zero,
// booleans count as 1 or 0, unknown keys are ignored, and any other
// non-numeric value or a model failure turns into a quality of zero with
// status 200. Only a body that is not a JSON
// object is refused.
func (h *Handler) predictLegacy(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r.Body)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	case err != nil:
		h.metrics.ObservePrediction(monitoring.OutcomeInvalid)
		writeError(w, h.logger, http.StatusUnprocessableEntity, errNotObject.Error(), nil)
		return
	}

	var prediction float64
	vector, ok := lenientVector(body)
	if ok {
		prediction, err = h.predict(vector)
	}
	if !ok || err != nil {
		h.metrics.ObservePrediction(monitoring.OutcomeDefaulted)
		h.logger.Debug("prediction defaulted to zero",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Bool("non_numeric_input", !ok),
			zap.Error(err),
		)
		prediction = 0
	} else {
		h.metrics.ObservePrediction(monitoring.OutcomeOK)
	}
	writeJSON(w, h.logger, http.StatusOK, h.response(prediction))
}

func (h *Handler) predict(vector []float64) (float64, error) {
	if h.model == nil {
		return 0, errors.New("model not loaded")
	}
	prediction, err := h.model.Predict(vector)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(prediction) || math.IsInf(prediction, 0) {
		return 0, fmt.Errorf("model returned %v", prediction)
	}
	return prediction, nil
}

func (h *Handler) response(prediction float64) PredictResponse {
	return PredictResponse{
		Name:        h.service.Name,
		RollNo:      h.service.RollNo,
		WineQuality: roundQuality(prediction),
	}
}

// roundQuality rounds half to even, so 5.5 and 6.5 both become 6.
func roundQuality(v float64) int {
	return int(math.RoundToEven(v))
}

// decodeObject reads a single JSON object, keeping numbers as json.Number so
// types can be checked per field.
func decodeObject(r io.Reader) (map[string]interface{}, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func validateFeatures(body map[string]interface{}) ([]float64, []FieldError) {
	names := ml.FeatureNames()
	vector := make([]float64, len(names))
	var problems []FieldError

	for i, name := range names {
		raw, present := body[name]
		if !present {
			problems = append(problems, FieldError{Field: name, Message: "is required"})
			continue
		}
		value, ok := numberValue(raw)
		if !ok {
			problems = append(problems, FieldError{Field: name, Message: "must be a finite number"})
			continue
		}
		bound, _ := ml.FeatureBound(name)
		if !govalidator.InRangeFloat64(value, bound.Min, bound.Max) {
			problems = append(problems, FieldError{
				Field:   name,
				Message: fmt.Sprintf("must be between %g and %g", bound.Min, bound.Max),
			})
			continue
		}
		vector[i] = value
	}

	var unknown []string
	for key := range body {
		if _, known := ml.FeatureBound(key); !known {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		problems = append(problems, FieldError{Field: key, Message: "is not a known feature"})
	}

	return vector, problems
}

// lenientVector fills absent features with zero and reads booleans as 1 and
// 0. ok is false when any present feature is neither a number nor a boolean.
func lenientVector(body map[string]interface{}) ([]float64, bool) {
	names := ml.FeatureNames()
	vector := make([]float64, len(names))
	for i, name := range names {
		raw, present := body[name]
		if !present {
			continue
		}
		if flag, isBool := raw.(bool); isBool {
			if flag {
				vector[i] = 1
			}
			continue
		}
		value, ok := numberValue(raw)
		if !ok {
			return nil, false
		}
		vector[i] = value
	}
	return vector, true
}

func numberValue(raw interface{}) (float64, bool) {
	number, ok := raw.(json.Number)
	if !ok {
		return 0, false
	}
	value, err := number.Float64()
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
