// Package model defines shared types used across the synchronizer, the
// local store and the remote source.
package model

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MaxDate is the open upper bound used when scanning history from the newest
// workout backwards.
var MaxDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// State classifies a workout within a single synchronization run. It is never
// persisted.
type State int

const (
	// StateUnchanged means remote and local copies are identical.
	StateUnchanged State = iota
	// StateAdded means the workout has no local counterpart.
	StateAdded
	// StateUpdated means only top-level fields changed.
	StateUpdated
	// StateUpdatedDeep means the activity content changed as well.
	StateUpdatedDeep
	// StateDeleted means the workout disappeared from the remote history.
	StateDeleted
	// StateUnresolved means the workout was fetched individually because the
	// paged scan could not settle it.
	StateUnresolved
)

// String returns the lower-case label used in logs.
func (s State) String() string {
	switch s {
	case StateAdded:
		return "added"
	case StateUpdated:
		return "updated"
	case StateUpdatedDeep:
		return "updated_deep"
	case StateDeleted:
		return "deleted"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unchanged"
	}
}

// User is a tracked member of the remote site.
type User struct {
	ID       int64
	Username string

	// InsertedAt is when the bot first started tracking the user. Workouts
	// imported during the first sync are older than this.
	InsertedAt time.Time
}

// Workout is one recorded exercise session.
type Workout struct {
	// ID is the stable remote identifier and the join key between the remote
	// and local copies.
	ID     int64
	UserID int64

	// Date is the event time. It is not unique per user.
	Date time.Time

	// Points is the remote-computed score, nil when the site shows none.
	Points *int

	// CommentID and CommentHash track the bot's own comment on the workout.
	CommentID   *int64
	CommentHash *int64

	// IsPropped is set once the bot has given the workout a prop.
	IsPropped bool

	// ActivitiesHash fingerprints Activities; see [HashActivities].
	ActivitiesHash int64

	// State is transient and only meaningful within one run.
	State State

	Activities []*Activity
}

// Activity is one exercise within a workout.
type Activity struct {
	Sequence int
	Name     string
	// Group is the label resolved from the grouping rules. Informational.
	Group string
	Note  string
	Sets  []*Set
}

// Set is one measured unit of an activity.
type Set struct {
	Sequence    int
	Points      *int
	Distance    *float64
	Duration    *float64
	Speed       *float64
	Repetitions *float64
	Weight      *float64
	HeartRate   *float64
	Incline     *float64
	IsPr        bool
	IsImperial  bool
}

// HashActivities returns a deterministic fingerprint of the ordered activity
// list. Numeric fields are written in their shortest decimal form, so values
// that only differ in scale (12.30 and 12.3) hash identically. Group is
// excluded.
func HashActivities(activities []*Activity) int64 {
	d := xxhash.New()
	buf := make([]byte, 0, 256)
	for _, a := range activities {
		buf = buf[:0]
		buf = append(buf, 'A')
		buf = strconv.AppendInt(buf, int64(a.Sequence), 10)
		buf = append(buf, '|')
		buf = strconv.AppendQuote(buf, a.Name)
		buf = append(buf, '|')
		buf = strconv.AppendQuote(buf, a.Note)
		for _, s := range a.Sets {
			buf = append(buf, "\nS"...)
			buf = strconv.AppendInt(buf, int64(s.Sequence), 10)
			buf = appendInt(buf, s.Points)
			for _, v := range []*float64{s.Distance, s.Duration, s.Speed, s.Repetitions, s.Weight, s.HeartRate, s.Incline} {
				buf = appendMeasure(buf, v)
			}
			buf = append(buf, '|')
			buf = strconv.AppendBool(buf, s.IsPr)
			buf = append(buf, '|')
			buf = strconv.AppendBool(buf, s.IsImperial)
		}
		buf = append(buf, '\n')
		_, _ = d.Write(buf)
	}
	return int64(d.Sum64())
}

func appendInt(buf []byte, v *int) []byte {
	buf = append(buf, '|')
	if v == nil {
		return append(buf, '-')
	}
	return strconv.AppendInt(buf, int64(*v), 10)
}

func appendMeasure(buf []byte, v *float64) []byte {
	buf = append(buf, '|')
	if v == nil {
		return append(buf, '-')
	}
	return strconv.AppendFloat(buf, *v, 'f', -1, 64)
}

// ShallowEqual reports whether the fields compared during classification
// match: date, points and activities hash.
func (w *Workout) ShallowEqual(other *Workout) bool {
	if !w.Date.Equal(other.Date) {
		return false
	}
	if !intPtrEqual(w.Points, other.Points) {
		return false
	}
	return w.ActivitiesHash == other.ActivitiesHash
}

// CarryBookkeeping copies the bot-owned fields from the persisted copy onto a
// freshly fetched workout, which never carries them.
func (w *Workout) CarryBookkeeping(local *Workout) {
	w.CommentID = local.CommentID
	w.CommentHash = local.CommentHash
	w.IsPropped = local.IsPropped
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
