package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/njoerd114/fitsync/internal/model"
	"github.com/njoerd114/fitsync/internal/remote"
)

// DefaultUnresolvedGrace is how long after a user is first tracked their
// workouts start to count as unresolved.
const DefaultUnresolvedGrace = 7 * 24 * time.Hour

// Synchronizer reconciles one user's remote workout history against the
// local store. It holds no per-user state between calls and is safe to use
// for several users concurrently.
type Synchronizer struct {
	remote RemoteSource
	store  LocalStore
	groups GroupResolver
	grace  time.Duration
	log    *slog.Logger
}

// NewSynchronizer creates a Synchronizer. groups may be nil, in which case
// activities are left ungrouped.
func NewSynchronizer(remote RemoteSource, store LocalStore, groups GroupResolver, grace time.Duration, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		remote: remote,
		store:  store,
		groups: groups,
		grace:  grace,
		log:    logger,
	}
}

// scan is the paging state of a single Synchronize call.
type scan struct {
	user       *model.User
	log        *slog.Logger
	offset     int
	pages      int
	toDate     time.Time
	seen       map[int64]bool
	candidates []*model.Workout
	emitted    []*model.Workout // newest first

	// deleted holds the candidates already emitted as deleted. A workout
	// whose date moved further back than the next page turns up here again.
	deleted map[int64]*model.Workout

	// purgeBefore is set when the end of the remote history was reached.
	purgeBefore *time.Time
}

// Result summarises one synchronization run.
type Result struct {
	// Workouts are the changed workouts sorted by date.
	Workouts []*model.Workout
	// Deleted counts the workouts removed from the store.
	Deleted int
	// Pages counts the remote pages fetched.
	Pages int
}

// Synchronize walks the user's remote history from the newest workout
// backwards until it converges with the local snapshot, applies the
// resulting inserts, updates and deletes to the store, and returns the
// changed workouts sorted by date. Deleted workouts are applied but not
// returned.
//
// Any remote or store error aborts the run. Mutations already applied stay
// applied; each of them is atomic on its own.
func (s *Synchronizer) Synchronize(ctx context.Context, user *model.User) ([]*model.Workout, error) {
	res, err := s.Run(ctx, user)
	if err != nil {
		return nil, err
	}
	return res.Workouts, nil
}

// Run is [Synchronizer.Synchronize] with run statistics.
func (s *Synchronizer) Run(ctx context.Context, user *model.User) (Result, error) {
	sc := &scan{
		user:   user,
		log:    s.log.With("user", user.Username, "user_id", user.ID),
		toDate:  model.MaxDate,
		seen:    make(map[int64]bool),
		deleted: make(map[int64]*model.Workout),
	}

	for {
		done, err := s.step(ctx, sc)
		if err != nil {
			return Result{}, err
		}
		if done {
			break
		}
	}

	workouts := sc.emitted
	slices.Reverse(workouts)

	workouts, pending, err := s.backfill(ctx, user, workouts)
	if err != nil {
		return Result{}, err
	}
	before := len(workouts)
	if workouts, err = s.apply(ctx, workouts, pending); err != nil {
		return Result{}, err
	}
	deleted := before - len(workouts)

	workouts = trimUnchanged(workouts)
	slices.SortStableFunc(workouts, func(a, b *model.Workout) int {
		return a.Date.Compare(b.Date)
	})

	if sc.purgeBefore != nil {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := s.store.DeleteWorkoutsBefore(ctx, user.ID, *sc.purgeBefore); err != nil {
			return Result{}, fmt.Errorf("purging workouts before %s: %w", sc.purgeBefore.Format(time.DateOnly), err)
		}
	}

	sc.log.Info("user synchronized", "pages", sc.pages, "changes", len(workouts), "deleted", deleted)
	return Result{Workouts: workouts, Deleted: deleted, Pages: sc.pages}, nil
}

// step fetches and reconciles one remote page. It reports true once paging
// should stop.
func (s *Synchronizer) step(ctx context.Context, sc *scan) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	page, err := s.remote.GetWorkoutPage(ctx, sc.user.ID, sc.offset)
	if err != nil {
		return false, fmt.Errorf("fetching page at offset %d: %w", sc.offset, err)
	}
	sc.pages++

	fresh := sc.unseen(page)

	// A page made only of repeats says nothing about what follows it, so
	// the pending candidates wait for the next page.
	if len(page) == 0 || len(fresh) > 0 {
		sc.settleCandidates(page)
	}

	if len(page) == 0 {
		purge := sc.toDate
		sc.purgeBefore = &purge
		sc.log.Debug("reached end of remote history", "offset", sc.offset)
		return true, nil
	}

	sc.offset += len(page)
	if len(fresh) == 0 {
		sc.log.Debug("page repeats workouts already seen", "offset", sc.offset)
		return false, nil
	}

	fromDate := fresh[0].Date
	for _, w := range fresh[1:] {
		if w.Date.Before(fromDate) {
			fromDate = w.Date
		}
	}
	if fromDate.After(sc.toDate) {
		fromDate = sc.toDate
	}

	window, err := s.store.GetWorkoutsInRange(ctx, sc.user.ID, fromDate, sc.toDate)
	if err != nil {
		return false, fmt.Errorf("loading local workouts before %s: %w", sc.toDate.Format(time.DateOnly), err)
	}
	sc.toDate = fromDate

	local := indexByID(window)
	moved := indexByID(sc.candidates)
	for _, w := range fresh {
		s.prepare(w)
		counterpart := local[w.ID]
		if counterpart == nil {
			counterpart = moved[w.ID]
		}
		if counterpart == nil {
			counterpart = sc.revive(w.ID)
		}
		if counterpart == nil {
			if counterpart, err = s.store.GetWorkout(ctx, w.ID); err != nil {
				return false, fmt.Errorf("looking up workout %d: %w", w.ID, err)
			}
		}
		w.State = classify(w, counterpart)
		sc.emitted = append(sc.emitted, w)
		sc.log.Debug("classified workout", "workout_id", w.ID, "state", w.State)
	}

	sc.candidates = nil
	for _, l := range window {
		if !sc.seen[l.ID] {
			sc.candidates = append(sc.candidates, l)
		}
	}

	last := fresh[len(fresh)-1]
	return len(sc.candidates) == 0 && last.State == model.StateUnchanged, nil
}

// unseen returns the workouts of page not seen earlier in this run, marking
// them as seen. Repeats within the page are dropped too.
func (sc *scan) unseen(page []*model.Workout) []*model.Workout {
	var fresh []*model.Workout
	for _, w := range page {
		if sc.seen[w.ID] {
			continue
		}
		sc.seen[w.ID] = true
		fresh = append(fresh, w)
	}
	return fresh
}

// settleCandidates emits every pending candidate missing from page as
// deleted. The ones present on the page stay available as counterparts.
func (sc *scan) settleCandidates(page []*model.Workout) {
	onPage := indexByID(page)
	var kept []*model.Workout
	for _, c := range sc.candidates {
		if onPage[c.ID] != nil {
			kept = append(kept, c)
			continue
		}
		if sc.deleted[c.ID] != nil {
			continue
		}
		sc.deleted[c.ID] = c
		c.State = model.StateDeleted
		sc.emitted = append(sc.emitted, c)
		sc.log.Debug("classified workout", "workout_id", c.ID, "state", c.State)
	}
	sc.candidates = kept
}

// revive withdraws the deletion emitted for id, if any, and returns the local
// copy it was emitted for.
func (sc *scan) revive(id int64) *model.Workout {
	local := sc.deleted[id]
	if local == nil {
		return nil
	}
	delete(sc.deleted, id)
	sc.emitted = slices.DeleteFunc(sc.emitted, func(w *model.Workout) bool { return w == local })
	local.State = model.StateUnchanged
	sc.log.Debug("workout reappeared after being marked deleted", "workout_id", id)
	return local
}

// backfill fetches the workouts the store still lists as unresolved and
// that this run neither resolved nor saw. It returns the extended list and
// the unresolved ids left over.
func (s *Synchronizer) backfill(ctx context.Context, user *model.User, workouts []*model.Workout) ([]*model.Workout, map[int64]bool, error) {
	ids, err := s.store.GetUnresolvedWorkoutIDs(ctx, user.ID, user.InsertedAt.Add(s.grace))
	if err != nil {
		return nil, nil, fmt.Errorf("loading unresolved workouts: %w", err)
	}
	pending := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	listed := make(map[int64]bool, len(workouts))
	for _, w := range workouts {
		listed[w.ID] = true
		switch w.State {
		case model.StateUpdated, model.StateUpdatedDeep, model.StateDeleted:
			delete(pending, w.ID)
		}
	}

	for _, id := range ids {
		if !pending[id] || listed[id] {
			continue
		}
		w, err := s.fetchUnresolved(ctx, user, id)
		if err != nil {
			return nil, nil, err
		}
		if w != nil {
			workouts = append(workouts, w)
		}
	}
	return workouts, pending, nil
}

// fetchUnresolved loads one unresolved workout straight from the site. A
// workout the site no longer has comes back as the persisted row marked
// deleted.
func (s *Synchronizer) fetchUnresolved(ctx context.Context, user *model.User, id int64) (*model.Workout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, err := s.store.GetWorkout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up unresolved workout %d: %w", id, err)
	}
	if local == nil {
		return nil, nil
	}

	w, err := s.remote.GetWorkoutByID(ctx, id)
	if errors.Is(err, remote.ErrWorkoutNotFound) {
		local.State = model.StateDeleted
		return local, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching unresolved workout %d: %w", id, err)
	}
	w.UserID = user.ID
	s.prepare(w)
	w.CarryBookkeeping(local)
	w.State = model.StateUnresolved
	return w, nil
}

// apply issues the store mutation for each workout in list order and drops
// deleted workouts from the list. Unchanged workouts still pending
// resolution are reclassified as unresolved.
func (s *Synchronizer) apply(ctx context.Context, workouts []*model.Workout, pending map[int64]bool) ([]*model.Workout, error) {
	kept := workouts[:0]
	for _, w := range workouts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch w.State {
		case model.StateAdded:
			if err := s.store.InsertWorkout(ctx, w); err != nil {
				return nil, fmt.Errorf("inserting workout %d: %w", w.ID, err)
			}
		case model.StateUpdated, model.StateUpdatedDeep:
			if err := s.store.UpdateWorkout(ctx, w, w.State == model.StateUpdatedDeep); err != nil {
				return nil, fmt.Errorf("updating workout %d: %w", w.ID, err)
			}
			if err := s.store.ClearUnresolvedFlag(ctx, w.ID); err != nil {
				return nil, fmt.Errorf("resolving workout %d: %w", w.ID, err)
			}
		case model.StateDeleted:
			if err := s.store.DeleteWorkout(ctx, w); err != nil {
				return nil, fmt.Errorf("deleting workout %d: %w", w.ID, err)
			}
			if err := s.store.ClearUnresolvedFlag(ctx, w.ID); err != nil {
				return nil, fmt.Errorf("resolving workout %d: %w", w.ID, err)
			}
			continue
		case model.StateUnchanged:
			if pending[w.ID] {
				w.State = model.StateUnresolved
			}
		}
		kept = append(kept, w)
	}
	return kept, nil
}

func (s *Synchronizer) prepare(w *model.Workout) {
	if s.groups != nil {
		for _, a := range w.Activities {
			a.Group = s.groups.ResolveGroup(a.Name)
		}
	}
	w.ActivitiesHash = model.HashActivities(w.Activities)
}

// classify decides the state of a fresh workout given its persisted
// counterpart, which may be nil.
func classify(fresh, local *model.Workout) model.State {
	if local == nil {
		return model.StateAdded
	}
	fresh.CarryBookkeeping(local)
	switch {
	case fresh.ShallowEqual(local):
		return model.StateUnchanged
	case fresh.ActivitiesHash != local.ActivitiesHash:
		return model.StateUpdatedDeep
	default:
		return model.StateUpdated
	}
}

func trimUnchanged(workouts []*model.Workout) []*model.Workout {
	for len(workouts) > 0 && workouts[0].State == model.StateUnchanged {
		workouts = workouts[1:]
	}
	return workouts
}

func indexByID(workouts []*model.Workout) map[int64]*model.Workout {
	m := make(map[int64]*model.Workout, len(workouts))
	for _, w := range workouts {
		m[w.ID] = w
	}
	return m
}
