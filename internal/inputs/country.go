package inputs

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/join"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// DetectCountry votes each point into the country polygon containing it
// and returns the majority country name. Points outside every polygon
// do not vote.
func DetectCountry(tok *stop.Token, points *table.Table, xyCols []string, countries *spatial.ShapeSet) (string, error) {
	joined, err := join.PointsToShapes(tok, points, countries, xyCols)
	if err != nil {
		return "", err
	}
	if joined.Len() == 0 {
		return "", eris.New("inputs: no point falls inside a known country")
	}

	nameCol := countries.AdmCols[0]
	votes := make(map[string]int)
	for i := 0; i < joined.Len(); i++ {
		name, err := joined.Value(i, nameCol)
		if err != nil {
			return "", eris.Wrap(err, "inputs: country name")
		}
		votes[name]++
	}

	best, bestVotes := "", -1
	for name, n := range votes {
		if n > bestVotes || (n == bestVotes && name < best) {
			best, bestVotes = name, n
		}
	}
	zap.L().Info("inputs: detected country",
		zap.String("country", best),
		zap.Int("votes", bestVotes),
		zap.Int("points", joined.Len()))
	return best, nil
}
