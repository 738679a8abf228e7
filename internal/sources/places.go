package sources

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/google"
)

// Places looks up the company's business listing and keeps the most relevant
// match.
type Places struct {
	client google.Client
}

// NewPlaces creates the business listing adapter.
func NewPlaces(c google.Client) *Places {
	return &Places{client: c}
}

// Source implements Adapter.
func (p *Places) Source() model.Source { return model.SourcePlaces }

// Collect implements Adapter.
func (p *Places) Collect(ctx context.Context, company model.Company) (any, error) {
	if p.client == nil {
		return nil, eris.New("places: api key not configured")
	}
	resp, err := p.client.TextSearch(ctx, company.Name)
	if err != nil {
		return nil, eris.Wrap(err, "places")
	}
	if len(resp.Places) == 0 {
		return nil, ErrNoData
	}

	place := resp.Places[0]
	return &model.PlacesPayload{
		PlaceID:     place.ID,
		Name:        place.DisplayName.Text,
		Rating:      place.Rating,
		ReviewCount: place.UserRatingCount,
		Address:     place.FormattedAddress,
		Category:    place.PrimaryTypeDisplayName.Text,
		Phone:       place.NationalPhoneNumber,
		Website:     place.WebsiteURI,
	}, nil
}
