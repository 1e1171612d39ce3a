// Package feed collects ContentItems from the supported sources.
package feed

import (
	"context"
	"fmt"

	"github.com/bilgisen/chanpost/internal/models"
)

// Collector produces items from one source. It returns an empty slice, not an
// error, when the source simply has nothing to offer.
type Collector interface {
	Source() models.SourceTag
	Collect(ctx context.Context) ([]models.ContentItem, error)
}

// CollectionError reports a transport or decode failure of one source.
type CollectionError struct {
	Source models.SourceTag
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Source, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}
