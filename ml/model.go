package ml

import (
	"context"
	"encoding/json"
)

// Label is the raw class value stored in the model artifact, e.g. "yes" or 1.
type Label = json.RawMessage

// Predictor runs inference over a frame and returns one label per row, in row order.
// Implementations must be safe for concurrent use.
type Predictor interface {
	Predict(ctx context.Context, frame Frame) ([]Label, error)
}
