// Package achieve computes the achievements a workout earns and renders them
// as the bot's comment.
package achieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/njoerd114/fitsync/internal/model"
)

// Default thresholds.
const (
	DefaultMilestoneEvery = 100
	DefaultTopPercent     = 5

	// minScoredWorkouts is the smallest history a percentile is computed on.
	minScoredWorkouts = 20
)

// Kind identifies an achievement type.
type Kind int

const (
	KindPersonalRecord Kind = iota
	KindMilestone
	KindPercentile
)

func (k Kind) String() string {
	switch k {
	case KindPersonalRecord:
		return "personal_record"
	case KindMilestone:
		return "milestone"
	case KindPercentile:
		return "percentile"
	default:
		return "unknown"
	}
}

// Achievement is one badge earned by a workout.
type Achievement struct {
	Kind Kind

	// Activity names the activity of a personal record.
	Activity string
	// Count is the workout number of a milestone.
	Count int
	// Percent is the points percentile of a percentile achievement, 1..100.
	Percent int
}

// History answers questions about a user's persisted workouts.
// Implemented by [state.Store].
type History interface {
	CountWorkoutsUpTo(ctx context.Context, userID int64, date time.Time) (int, error)
	PointsRank(ctx context.Context, userID int64, points int) (below, total int, err error)
}

// Options tunes a [Calculator]. Zero values select the defaults.
type Options struct {
	MilestoneEvery int
	TopPercent     int
}

// Calculator computes achievements against the persisted history.
type Calculator struct {
	history        History
	milestoneEvery int
	topPercent     int
}

// NewCalculator creates a Calculator.
func NewCalculator(history History, opts Options) *Calculator {
	if opts.MilestoneEvery <= 0 {
		opts.MilestoneEvery = DefaultMilestoneEvery
	}
	if opts.TopPercent <= 0 {
		opts.TopPercent = DefaultTopPercent
	}
	return &Calculator{
		history:        history,
		milestoneEvery: opts.MilestoneEvery,
		topPercent:     opts.TopPercent,
	}
}

// Compute returns the achievements of w, which must already be persisted:
// personal records in activity order, then a milestone, then a percentile.
func (c *Calculator) Compute(ctx context.Context, user *model.User, w *model.Workout) ([]Achievement, error) {
	var out []Achievement
	for _, a := range w.Activities {
		for _, s := range a.Sets {
			if s.IsPr {
				out = append(out, Achievement{Kind: KindPersonalRecord, Activity: a.Name})
				break
			}
		}
	}

	n, err := c.history.CountWorkoutsUpTo(ctx, user.ID, w.Date)
	if err != nil {
		return nil, fmt.Errorf("computing milestone for workout %d: %w", w.ID, err)
	}
	if n > 0 && n%c.milestoneEvery == 0 {
		out = append(out, Achievement{Kind: KindMilestone, Count: n})
	}

	if w.Points != nil {
		below, total, err := c.history.PointsRank(ctx, user.ID, *w.Points)
		if err != nil {
			return nil, fmt.Errorf("computing percentile for workout %d: %w", w.ID, err)
		}
		if total >= minScoredWorkouts {
			rank := total - below
			pct := (rank*100 + total - 1) / total
			if pct <= c.topPercent {
				out = append(out, Achievement{Kind: KindPercentile, Percent: max(pct, 1)})
			}
		}
	}
	return out, nil
}

// Render formats achievements as a comment addressed to username. No
// achievements render as "".
func Render(username string, achievements []Achievement) string {
	if len(achievements) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Nice work, %s!", username)
	for _, a := range achievements {
		b.WriteByte('\n')
		switch a.Kind {
		case KindPersonalRecord:
			fmt.Fprintf(&b, "New personal record in %s.", a.Activity)
		case KindMilestone:
			fmt.Fprintf(&b, "That was workout #%d.", a.Count)
		case KindPercentile:
			fmt.Fprintf(&b, "Top %d%% of your workouts by points.", a.Percent)
		}
	}
	return b.String()
}

// HashComment fingerprints rendered comment text.
func HashComment(text string) int64 {
	return int64(xxhash.Sum64String(text))
}
