package classifier

import (
	"strconv"

	"github.com/antonholmquist/jason"

	"github.com/carsense/carsense-go/internal/errors"
)

// probabilityKeys are the two field names the endpoint uses interchangeably
// for its per-class probability map.
var probabilityKeys = [...]string{"probabilities", "scores"}

// Normalize turns any of the accepted upstream response shapes into a
// canonical Result:
//
//   - a JSON object
//   - a single-element array wrapping an object or a JSON-encoded string
//   - a bare JSON-encoded string
//
// Responses any of these shapes wrap that still fail to parse as an object
// yield Success=true with nil prediction fields: the request succeeded, the
// endpoint just produced nothing usable.
func Normalize(body []byte) (Result, error) {
	value, err := jason.NewValueFromBytes(body)
	if err != nil {
		return Result{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryClassification).
			Context("operation", "parse_response").
			Build()
	}

	obj := unwrapObject(value)
	if obj == nil {
		return Result{Success: true}, nil
	}
	return normalizeObject(obj), nil
}

// unwrapObject peels the wrapper shapes down to the payload object, or nil
// when no object can be recovered.
func unwrapObject(value *jason.Value) *jason.Object {
	if obj, err := value.Object(); err == nil {
		return obj
	}

	if arr, err := value.Array(); err == nil {
		if len(arr) == 0 {
			return nil
		}
		return unwrapObject(arr[0])
	}

	if s, err := value.String(); err == nil {
		inner, err := jason.NewObjectFromBytes([]byte(s))
		if err != nil {
			return nil
		}
		return inner
	}

	return nil
}

func normalizeObject(obj *jason.Object) Result {
	result := Result{Success: true}

	// success is false only on an explicit declaration
	if ok, err := obj.GetBoolean("success"); err == nil && !ok {
		result.Success = false
	}

	result.Probabilities = extractProbabilities(obj)

	if class, err := obj.GetString("class"); err == nil && class != "" {
		result.Class = &class
	} else if len(result.Probabilities) > 0 {
		// no explicit class: argmax over the probability map
		best := ""
		bestProb := -1.0
		for label, prob := range result.Probabilities {
			if prob > bestProb || (prob == bestProb && label < best) {
				best, bestProb = label, prob
			}
		}
		result.Class = &best
	}

	if confidence, err := obj.GetFloat64("confidence"); err == nil {
		result.Confidence = &confidence
	} else if result.Class != nil {
		if prob, ok := result.Probabilities[*result.Class]; ok {
			result.Confidence = &prob
		}
	}

	return result
}

// extractProbabilities finds the probability map under either accepted key,
// coercing values to numbers and dropping entries that cannot be parsed.
func extractProbabilities(obj *jason.Object) map[string]float64 {
	for _, key := range probabilityKeys {
		probsObj, err := obj.GetObject(key)
		if err != nil {
			continue
		}
		probs := make(map[string]float64)
		for label, value := range probsObj.Map() {
			if f, ok := coerceFloat(value); ok {
				probs[label] = f
			}
		}
		if len(probs) == 0 {
			return nil
		}
		return probs
	}
	return nil
}

func coerceFloat(value *jason.Value) (float64, bool) {
	if f, err := value.Float64(); err == nil {
		return f, true
	}
	if i, err := value.Int64(); err == nil {
		return float64(i), true
	}
	if s, err := value.String(); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
