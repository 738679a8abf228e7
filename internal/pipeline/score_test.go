package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/opsprofile/internal/model"
)

func evidenceWith(ok ...model.Source) *model.Evidence {
	ev := model.NewEvidence()
	for _, src := range ok {
		ev.Set(model.Success(src, samplePayload(src), 0))
	}
	return ev
}

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ok         []model.Source
		wantPoints int
		wantSuff   bool
	}{
		{"nothing", nil, 0, false},
		{"site only", []model.Source{model.SourceSite}, 2, false},
		{"dns only", []model.Source{model.SourceDNS}, 1, false},
		{"three minor sources", []model.Source{model.SourceTech, model.SourceDNS, model.SourceJobs}, 3, true},
		{"site plus one", []model.Source{model.SourceSite, model.SourcePlaces}, 3, true},
		{"two minor sources", []model.Source{model.SourceTech, model.SourceDNS}, 2, false},
		{"everything", model.Sources(), 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, ok := Score(evidenceWith(tt.ok...), 3)
			assert.Equal(t, tt.wantPoints, points)
			assert.Equal(t, tt.wantSuff, ok)
		})
	}
}

func TestScore_FailuresEarnNothing(t *testing.T) {
	t.Parallel()

	ev := evidenceWith(model.SourceTech)
	ev.Set(model.Failure(model.SourceSite, errors.New("blocked"), false, 0))
	ev.Set(model.Failure(model.SourceDNS, nil, true, 0))

	points, ok := Score(ev, 3)
	assert.Equal(t, 1, points)
	assert.False(t, ok)
}

func TestScore_CustomThreshold(t *testing.T) {
	t.Parallel()

	ev := evidenceWith(model.SourceSite, model.SourceTech)
	_, ok := Score(ev, 4)
	assert.False(t, ok)
	_, ok = Score(ev, 0)
	assert.True(t, ok, "non-positive threshold falls back to the default")
}
