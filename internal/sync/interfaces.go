// Package sync implements the workout synchronization engine for fitsync. It
// reconciles each tracked user's paginated remote workout history against the
// state database, classifies every observed workout as added, updated,
// deleted or unresolved, and publishes achievements for the changes.
//
// The package contains three main components:
//
//   - [Synchronizer] walks one user's remote history backwards and applies the
//     resulting mutations to the local store.
//   - [Processor] turns a change set into comments and props on the site.
//   - [Engine] runs the polling loop and fans out over users.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/fitsync/internal/achieve"
	"github.com/njoerd114/fitsync/internal/model"
)

// RemoteSource provides read access to the site's workout history.
// Implemented by [remote.Client].
type RemoteSource interface {
	// GetWorkoutPage returns one page of the user's workouts, newest first.
	// An empty page marks the end of the history.
	GetWorkoutPage(ctx context.Context, userID int64, offset int) ([]*model.Workout, error)
	GetWorkoutByID(ctx context.Context, workoutID int64) (*model.Workout, error)
}

// LocalStore provides access to the persisted workout snapshot.
// Implemented by [state.Store].
type LocalStore interface {
	GetWorkoutsInRange(ctx context.Context, userID int64, from, to time.Time) ([]*model.Workout, error)
	GetWorkout(ctx context.Context, workoutID int64) (*model.Workout, error)
	GetUnresolvedWorkoutIDs(ctx context.Context, userID int64, since time.Time) ([]int64, error)
	InsertWorkout(ctx context.Context, w *model.Workout) error
	UpdateWorkout(ctx context.Context, w *model.Workout, deep bool) error
	DeleteWorkout(ctx context.Context, w *model.Workout) error
	DeleteWorkoutsBefore(ctx context.Context, userID int64, date time.Time) error
	ClearUnresolvedFlag(ctx context.Context, workoutID int64) error
}

// GroupResolver labels an activity by name. Implemented by [grouping.Rules].
type GroupResolver interface {
	ResolveGroup(activityName string) string
}

// PublishStore persists the bot's own bookkeeping on a workout.
// Implemented by [state.Store].
type PublishStore interface {
	UpdateWorkoutComment(ctx context.Context, workoutID int64, commentID, commentHash *int64) error
	MarkPropped(ctx context.Context, workoutID int64) error
	ClearUnresolvedFlag(ctx context.Context, workoutID int64) error
}

// Poster writes comments and props to the site.
// Implemented by [remote.Client] and [remote.DryRunPoster].
type Poster interface {
	PostComment(ctx context.Context, workoutID int64, text string) (int64, error)
	DeleteComment(ctx context.Context, commentID int64) error
	GiveProp(ctx context.Context, workoutID int64) error
}

// AchievementSource computes the achievements earned by a workout.
// Implemented by [achieve.Calculator].
type AchievementSource interface {
	Compute(ctx context.Context, user *model.User, w *model.Workout) ([]achieve.Achievement, error)
}

// UserSource lists the users to track.
// Implemented by [remote.Client] and [remote.StaticUsers].
type UserSource interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// UserStore registers tracked users. Implemented by [state.Store].
type UserStore interface {
	EnsureUser(ctx context.Context, u model.User) (*model.User, error)
}
