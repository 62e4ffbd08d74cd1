// Package classifier turns raw image bytes into one of the waste material
// labels the model was trained on.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidImage is returned when the payload cannot be decoded as an image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrModelUnavailable is returned when the model failed to load at startup.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Prediction is the single best label for an image.
type Prediction struct {
	Label      Label
	Confidence float32
	// Name is the label as reported by a remote model. It is kept when the
	// name falls outside the known set.
	Name string
}

// LabelName is the name the prediction should be recorded under.
func (p Prediction) LabelName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Label.String()
}

// Classifier exposes the subset of functionality used by the analysis flow.
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte) (Prediction, error)
}

// Unavailable is installed when the model could not be loaded. Every call
// fails with ErrModelUnavailable so the rest of the API keeps serving.
type Unavailable struct {
	Cause error
}

// Classify implements Classifier.
func (u Unavailable) Classify(context.Context, []byte) (Prediction, error) {
	if u.Cause != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrModelUnavailable, u.Cause)
	}
	return Prediction{}, ErrModelUnavailable
}

// WithTimeout bounds every Classify call made through next.
func WithTimeout(next Classifier, timeout time.Duration) Classifier {
	if timeout <= 0 {
		return next
	}
	return &timeoutClassifier{next: next, timeout: timeout}
}

type timeoutClassifier struct {
	next    Classifier
	timeout time.Duration
}

func (t *timeoutClassifier) Classify(ctx context.Context, imageBytes []byte) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Classify(ctx, imageBytes)
}

// ArgMax returns the index of the highest score. Ties resolve to the lower index.
// It returns -1 for an empty slice.
func ArgMax(scores []float32) int {
	best := -1
	for i, s := range scores {
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}

// PredictionFromScores picks the best label from one score per label, in
// output-layer order.
func PredictionFromScores(scores []float32) (Prediction, error) {
	if len(scores) != NumLabels {
		return Prediction{}, fmt.Errorf("model returned %d scores, want %d", len(scores), NumLabels)
	}
	idx := ArgMax(scores)
	return Prediction{Label: Label(idx), Confidence: scores[idx]}, nil
}
