package achieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/njoerd114/fitsync/internal/model"
)

type fakeHistory struct {
	count        int
	below, total int
	err          error
}

func (f fakeHistory) CountWorkoutsUpTo(context.Context, int64, time.Time) (int, error) {
	return f.count, f.err
}

func (f fakeHistory) PointsRank(context.Context, int64, int) (int, int, error) {
	return f.below, f.total, f.err
}

var alice = &model.User{ID: 7, Username: "alice"}

func workout(points *int, activities ...*model.Activity) *model.Workout {
	return &model.Workout{
		ID:         1,
		UserID:     7,
		Date:       time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC),
		Points:     points,
		Activities: activities,
	}
}

func activity(name string, pr ...bool) *model.Activity {
	a := &model.Activity{Name: name}
	for i, p := range pr {
		a.Sets = append(a.Sets, &model.Set{Sequence: i + 1, IsPr: p})
	}
	return a
}

func intp(v int) *int { return &v }

func TestCompute_PersonalRecords(t *testing.T) {
	c := NewCalculator(fakeHistory{count: 3}, Options{})
	got, err := c.Compute(context.Background(), alice, workout(nil,
		activity("Squat", false, true, true),
		activity("Bench Press", false),
		activity("Deadlift", true),
	))
	require.NoError(t, err)
	require.Equal(t, []Achievement{
		{Kind: KindPersonalRecord, Activity: "Squat"},
		{Kind: KindPersonalRecord, Activity: "Deadlift"},
	}, got)
}

func TestCompute_Milestone(t *testing.T) {
	tests := []struct {
		count, every int
		want         bool
	}{
		{100, 0, true},
		{200, 100, true},
		{99, 100, false},
		{0, 100, false},
		{10, 5, true},
	}
	for _, tt := range tests {
		c := NewCalculator(fakeHistory{count: tt.count}, Options{MilestoneEvery: tt.every})
		got, err := c.Compute(context.Background(), alice, workout(nil))
		require.NoError(t, err)
		if tt.want {
			require.Equal(t, []Achievement{{Kind: KindMilestone, Count: tt.count}}, got, "count %d every %d", tt.count, tt.every)
		} else {
			require.Empty(t, got, "count %d every %d", tt.count, tt.every)
		}
	}
}

func TestCompute_Percentile(t *testing.T) {
	tests := []struct {
		name         string
		below, total int
		want         []Achievement
	}{
		{"best of 100", 99, 100, []Achievement{{Kind: KindPercentile, Percent: 1}}},
		{"fifth of 100", 95, 100, []Achievement{{Kind: KindPercentile, Percent: 5}}},
		{"sixth of 100", 94, 100, nil},
		{"best of 19 is too little history", 18, 19, nil},
		{"best of 20", 19, 20, []Achievement{{Kind: KindPercentile, Percent: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator(fakeHistory{count: 1, below: tt.below, total: tt.total}, Options{})
			got, err := c.Compute(context.Background(), alice, workout(intp(500)))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_UnscoredSkipsPercentile(t *testing.T) {
	c := NewCalculator(fakeHistory{count: 1, below: 99, total: 100}, Options{})
	got, err := c.Compute(context.Background(), alice, workout(nil))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCompute_HistoryError(t *testing.T) {
	boom := errors.New("db down")
	c := NewCalculator(fakeHistory{err: boom}, Options{})
	_, err := c.Compute(context.Background(), alice, workout(nil))
	require.ErrorIs(t, err, boom)
}

func TestRender(t *testing.T) {
	require.Empty(t, Render("alice", nil))

	got := Render("alice", []Achievement{
		{Kind: KindPersonalRecord, Activity: "Squat"},
		{Kind: KindMilestone, Count: 100},
		{Kind: KindPercentile, Percent: 3},
	})
	require.Equal(t, "Nice work, alice!\n"+
		"New personal record in Squat.\n"+
		"That was workout #100.\n"+
		"Top 3% of your workouts by points.", got)
}

func TestHashComment(t *testing.T) {
	require.Equal(t, HashComment("a"), HashComment("a"))
	require.NotEqual(t, HashComment("a"), HashComment("b"))
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "personal_record", KindPersonalRecord.String())
	require.Equal(t, "milestone", KindMilestone.String())
	require.Equal(t, "percentile", KindPercentile.String())
	require.Equal(t, "unknown", Kind(9).String())
}
