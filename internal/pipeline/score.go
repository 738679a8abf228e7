package pipeline

import "github.com/sells-group/opsprofile/internal/model"

// DefaultMinPoints is the sufficiency threshold when none is configured.
const DefaultMinPoints = 3

// Score sums the weights of the sources that produced a payload. Evidence is
// sufficient for synthesis when the total reaches minPoints.
func Score(ev *model.Evidence, minPoints int) (points int, sufficient bool) {
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}
	for _, r := range ev.Results {
		if r.OK() {
			points += r.Source.Weight()
		}
	}
	return points, points >= minPoints
}
