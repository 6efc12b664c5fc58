package services

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-research/internal/models"
)

// DefaultLeaderMinConfidence is the confidence a lead must exceed to count
// towards a channel's leader score.
const DefaultLeaderMinConfidence = 0.5

// PropagationMatrixBuilder runs the lag detector over every channel pair.
type PropagationMatrixBuilder struct {
	detector *LagDetector
	workers  int
	logger   *logrus.Logger
}

// NewPropagationMatrixBuilder creates a builder. workers <= 0 uses one
// worker per CPU.
func NewPropagationMatrixBuilder(detector *LagDetector, workers int, logger *logrus.Logger) *PropagationMatrixBuilder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PropagationMatrixBuilder{detector: detector, workers: workers, logger: logger}
}

type pairOutcome struct {
	result models.LagResult
	err    error
}

// ComputeMatrix detects the lag for every unordered pair of channels (all
// channels in the table when none are given) and stores each result together
// with its mirror. Pairs without enough data are skipped and returned.
func (b *PropagationMatrixBuilder) ComputeMatrix(ctx context.Context, table *models.TimeSeriesTable, channels ...string) (models.PropagationMatrix, []models.PairKey, error) {
	if len(channels) == 0 {
		channels = table.Channels()
	}

	pairs := make([]models.PairKey, 0, len(channels)*(len(channels)-1)/2)
	for i := 0; i < len(channels); i++ {
		for j := i + 1; j < len(channels); j++ {
			pairs = append(pairs, models.PairKey{A: channels[i], B: channels[j]})
		}
	}

	outcomes := make([]pairOutcome, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := b.detector.DetectLag(table, pair.A, pair.B)
			outcomes[i] = pairOutcome{result: r, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	matrix := make(models.PropagationMatrix, 2*len(pairs))
	var skipped []models.PairKey
	for i, out := range outcomes {
		if out.err != nil {
			if !IsNotAvailable(out.err) {
				return nil, nil, out.err
			}
			b.logger.WithFields(logrus.Fields{
				"channel_a": pairs[i].A,
				"channel_b": pairs[i].B,
				"reason":    out.err.Error(),
			}).Debug("Skipping channel pair")
			skipped = append(skipped, pairs[i])
			continue
		}
		mirror := out.result.Mirror()
		matrix[models.PairKey{A: out.result.ChannelA, B: out.result.ChannelB}] = out.result
		matrix[models.PairKey{A: mirror.ChannelA, B: mirror.ChannelB}] = mirror
	}
	return matrix, skipped, nil
}

// RankLeaders scores every channel by the average magnitude of its confident
// leads and returns the channels ordered from strongest leader down. Ties
// keep the iteration order of channels. A matrix carries no channel order, so
// with no channels given the matrix channels are ranked in sorted order; pass
// the table's Channels() to break ties by table order.
func RankLeaders(matrix models.PropagationMatrix, minConfidence float64, channels ...string) []models.LeaderScore {
	if len(channels) == 0 {
		channels = matrixChannels(matrix)
	}

	scores := make([]models.LeaderScore, len(channels))
	for i, ch := range channels {
		var total time.Duration
		count := 0
		for key, r := range matrix {
			if key.A != ch || r.Direction != models.DirectionLeads || r.Confidence <= minConfidence {
				continue
			}
			lag := r.LagTime
			if lag < 0 {
				lag = -lag
			}
			total += lag
			count++
		}
		scores[i] = models.LeaderScore{Channel: ch, LeadCount: count}
		if count > 0 {
			scores[i].AvgLeadTime = total / time.Duration(count)
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].AvgLeadTime > scores[j].AvgLeadTime
	})
	return scores
}

// FindLeader returns the channel with the highest average lead time. Ties
// resolve to the first channel in iteration order, sorted order when channels
// is empty (see RankLeaders).
func FindLeader(matrix models.PropagationMatrix, channels ...string) (string, time.Duration) {
	ranking := RankLeaders(matrix, DefaultLeaderMinConfidence, channels...)
	if len(ranking) == 0 {
		return "", 0
	}
	return ranking[0].Channel, ranking[0].AvgLeadTime
}

// matrixChannels lists the channels present in a matrix in sorted order.
func matrixChannels(matrix models.PropagationMatrix) []string {
	seen := make(map[string]struct{})
	for key := range matrix {
		seen[key.A] = struct{}{}
		seen[key.B] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
