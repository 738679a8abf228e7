// Package sources implements the five public-data adapters that feed a
// submission's evidence: website content, technology fingerprints, DNS and
// registration records, business listing, and job postings.
package sources

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
)

// ErrNoData is returned when a source answered but had nothing usable for the
// company. It counts as a failure for scoring.
var ErrNoData = eris.New("sources: no data")

// Adapter gathers one source's payload for a company. Implementations must
// honor ctx cancellation; the coordinator abandons any that do not.
type Adapter interface {
	Source() model.Source
	Collect(ctx context.Context, company model.Company) (any, error)
}

// AdapterFunc adapts a plain function to Adapter.
type AdapterFunc struct {
	Src model.Source
	Fn  func(ctx context.Context, company model.Company) (any, error)
}

// Source implements Adapter.
func (a AdapterFunc) Source() model.Source { return a.Src }

// Collect implements Adapter.
func (a AdapterFunc) Collect(ctx context.Context, company model.Company) (any, error) {
	return a.Fn(ctx, company)
}
