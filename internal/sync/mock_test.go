package sync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/njoerd114/fitsync/internal/achieve"
	"github.com/njoerd114/fitsync/internal/model"
	"github.com/njoerd114/fitsync/internal/remote"
)

func cloneWorkout(w *model.Workout) *model.Workout {
	cp := *w
	cp.Activities = nil
	for _, a := range w.Activities {
		ac := *a
		ac.Sets = nil
		for _, s := range a.Sets {
			sc := *s
			ac.Sets = append(ac.Sets, &sc)
		}
		cp.Activities = append(cp.Activities, &ac)
	}
	return &cp
}

// --- Mock Remote Source ------------------------------------------------------

type mockRemote struct {
	mu      sync.Mutex
	pages   map[int][]*model.Workout // offset → page; missing offsets are empty
	byID    map[int64]*model.Workout
	pageErr map[int]error
	onPage  func(offset int)

	offsets []int
	fetched []int64
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		pages:   make(map[int][]*model.Workout),
		byID:    make(map[int64]*model.Workout),
		pageErr: make(map[int]error),
	}
}

// paged lays workouts out newest first in pages of size n.
func pagedRemote(n int, workouts ...*model.Workout) *mockRemote {
	m := newMockRemote()
	for i := 0; i < len(workouts); i += n {
		m.pages[i] = workouts[i:min(i+n, len(workouts))]
	}
	for _, w := range workouts {
		m.byID[w.ID] = w
	}
	return m
}

func (m *mockRemote) GetWorkoutPage(_ context.Context, _ int64, offset int) ([]*model.Workout, error) {
	m.mu.Lock()
	m.offsets = append(m.offsets, offset)
	hook := m.onPage
	err := m.pageErr[offset]
	var page []*model.Workout
	for _, w := range m.pages[offset] {
		page = append(page, cloneWorkout(w))
	}
	m.mu.Unlock()

	if hook != nil {
		hook(offset)
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (m *mockRemote) GetWorkoutByID(_ context.Context, id int64) (*model.Workout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, id)
	w, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("workout %d: %w", id, remote.ErrWorkoutNotFound)
	}
	return cloneWorkout(w), nil
}

func (m *mockRemote) fetchedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.fetched)
}

// --- Mock Local Store --------------------------------------------------------

type storedWorkout struct {
	w          *model.Workout
	resolved   bool
	insertedAt time.Time
}

type mockStore struct {
	mu       sync.Mutex
	now      time.Time
	users    map[int64]*model.User
	workouts map[int64]*storedWorkout
	failOn   string // mutation kind that returns an error
	calls    []string
}

func newMockStore() *mockStore {
	return &mockStore{
		now:      testNow,
		users:    make(map[int64]*model.User),
		workouts: make(map[int64]*storedWorkout),
	}
}

// seed stores workouts as already synchronized and resolved.
func (m *mockStore) seed(workouts ...*model.Workout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range workouts {
		cp := cloneWorkout(w)
		cp.ActivitiesHash = model.HashActivities(cp.Activities)
		m.workouts[w.ID] = &storedWorkout{w: cp, resolved: true, insertedAt: m.now}
	}
}

// seedUnresolved stores workouts still pending resolution, first stored at.
func (m *mockStore) seedUnresolved(at time.Time, workouts ...*model.Workout) {
	m.seed(workouts...)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range workouts {
		m.workouts[w.ID].resolved = false
		m.workouts[w.ID].insertedAt = at
	}
}

func (m *mockStore) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	m.calls = append(m.calls, call)
	if m.failOn != "" && len(call) >= len(m.failOn) && call[:len(m.failOn)] == m.failOn {
		return fmt.Errorf("injected failure on %q", call)
	}
	return nil
}

func (m *mockStore) GetWorkoutsInRange(_ context.Context, userID int64, from, to time.Time) ([]*model.Workout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Workout
	for _, sw := range m.workouts {
		if sw.w.UserID == userID && !sw.w.Date.Before(from) && sw.w.Date.Before(to) {
			out = append(out, cloneWorkout(sw.w))
		}
	}
	return out, nil
}

func (m *mockStore) GetWorkout(_ context.Context, id int64) (*model.Workout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sw, ok := m.workouts[id]
	if !ok {
		return nil, nil
	}
	return cloneWorkout(sw.w), nil
}

func (m *mockStore) GetUnresolvedWorkoutIDs(_ context.Context, userID int64, since time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*model.Workout
	for _, sw := range m.workouts {
		if sw.w.UserID == userID && !sw.resolved && !sw.insertedAt.Before(since) {
			pending = append(pending, sw.w)
		}
	}
	slices.SortFunc(pending, func(a, b *model.Workout) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	ids := make([]int64, len(pending))
	for i, w := range pending {
		ids[i] = w.ID
	}
	return ids, nil
}

func (m *mockStore) InsertWorkout(_ context.Context, w *model.Workout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("insert %d", w.ID); err != nil {
		return err
	}
	if _, ok := m.workouts[w.ID]; ok {
		return fmt.Errorf("workout %d already exists", w.ID)
	}
	m.workouts[w.ID] = &storedWorkout{w: cloneWorkout(w), insertedAt: m.now}
	return nil
}

func (m *mockStore) UpdateWorkout(_ context.Context, w *model.Workout, deep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update %d deep=%t", w.ID, deep); err != nil {
		return err
	}
	sw, ok := m.workouts[w.ID]
	if !ok {
		return fmt.Errorf("workout %d not found", w.ID)
	}
	cp := cloneWorkout(w)
	if !deep {
		cp.Activities = sw.w.Activities
	}
	sw.w = cp
	return nil
}

func (m *mockStore) DeleteWorkout(_ context.Context, w *model.Workout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete %d", w.ID); err != nil {
		return err
	}
	delete(m.workouts, w.ID)
	return nil
}

func (m *mockStore) DeleteWorkoutsBefore(_ context.Context, userID int64, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("purge %d %s", userID, date.Format(time.DateOnly)); err != nil {
		return err
	}
	for id, sw := range m.workouts {
		if sw.w.UserID == userID && sw.w.Date.Before(date) {
			delete(m.workouts, id)
		}
	}
	return nil
}

func (m *mockStore) ClearUnresolvedFlag(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("resolve %d", id); err != nil {
		return err
	}
	if sw, ok := m.workouts[id]; ok {
		sw.resolved = true
	}
	return nil
}

func (m *mockStore) UpdateWorkoutComment(_ context.Context, id int64, commentID, commentHash *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("comment %d", id); err != nil {
		return err
	}
	if sw, ok := m.workouts[id]; ok {
		sw.w.CommentID, sw.w.CommentHash = commentID, commentHash
	}
	return nil
}

func (m *mockStore) MarkPropped(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("prop %d", id); err != nil {
		return err
	}
	if sw, ok := m.workouts[id]; ok {
		sw.w.IsPropped = true
	}
	return nil
}

func (m *mockStore) EnsureUser(_ context.Context, u model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	u.InsertedAt = m.now
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func (m *mockStore) mutations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *mockStore) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockStore) get(id int64) *model.Workout {
	m.mu.Lock()
	defer m.mu.Unlock()
	sw, ok := m.workouts[id]
	if !ok {
		return nil
	}
	return cloneWorkout(sw.w)
}

func (m *mockStore) isResolved(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sw, ok := m.workouts[id]
	return ok && sw.resolved
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workouts)
}

// --- Mock Group Resolver -----------------------------------------------------

type mockGroups map[string]string

func (m mockGroups) ResolveGroup(name string) string { return m[name] }

// --- Mock Poster -------------------------------------------------------------

type mockPoster struct {
	mu       sync.Mutex
	nextID   int64
	failOn   string
	comments map[int64]string // comment ID → text
	calls    []string
}

func newMockPoster() *mockPoster {
	return &mockPoster{nextID: 500, comments: make(map[int64]string)}
}

func (m *mockPoster) record(call string) error {
	m.calls = append(m.calls, call)
	if m.failOn != "" && call == m.failOn {
		return fmt.Errorf("injected failure on %q", call)
	}
	return nil
}

func (m *mockPoster) PostComment(_ context.Context, workoutID int64, text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("post %d", workoutID)); err != nil {
		return 0, err
	}
	m.nextID++
	m.comments[m.nextID] = text
	return m.nextID, nil
}

func (m *mockPoster) DeleteComment(_ context.Context, commentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(fmt.Sprintf("unpost %d", commentID)); err != nil {
		return err
	}
	delete(m.comments, commentID)
	return nil
}

func (m *mockPoster) GiveProp(_ context.Context, workoutID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(fmt.Sprintf("prop %d", workoutID))
}

func (m *mockPoster) log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// --- Mock Achievement Source -------------------------------------------------

// mockAchievements awards one personal record per activity with a PR set.
type mockAchievements struct{}

func (mockAchievements) Compute(_ context.Context, _ *model.User, w *model.Workout) ([]achieve.Achievement, error) {
	var out []achieve.Achievement
	for _, a := range w.Activities {
		for _, s := range a.Sets {
			if s.IsPr {
				out = append(out, achieve.Achievement{Kind: achieve.KindPersonalRecord, Activity: a.Name})
				break
			}
		}
	}
	return out, nil
}

// --- Mock User Source --------------------------------------------------------

type mockUsers struct {
	users []model.User
	err   error
}

func (m mockUsers) ListUsers(context.Context) ([]model.User, error) {
	return slices.Clone(m.users), m.err
}
