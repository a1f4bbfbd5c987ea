package classifier

import (
	"context"

	"github.com/example/fruit-check/internal/fruit"
)

// Image is an uploaded file handed to the classifier.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client exposes the classification call used by the analysis flow.
type Client interface {
	Classify(ctx context.Context, img Image) (fruit.Result, error)
}
