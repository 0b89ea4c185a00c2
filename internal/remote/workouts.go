package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/njoerd114/fitsync/internal/model"
)

// dateLayouts are tried in order when parsing a workout date.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// GetWorkoutPage returns the page of the user's workout stream starting at
// offset, newest first. An empty slice marks the end of the history.
func (c *Client) GetWorkoutPage(ctx context.Context, userID int64, offset int) ([]*model.Workout, error) {
	path := fmt.Sprintf("/activity_stream/%d/?user_id=%d", offset, userID)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetching workout page at offset %d for user %d: %w", offset, userID, err)
	}
	workouts, err := ParseWorkoutPage(body, userID)
	if err != nil {
		return nil, fmt.Errorf("workout page at offset %d for user %d: %w", offset, userID, err)
	}
	return workouts, nil
}

// GetWorkoutByID fetches a single workout. A workout the site no longer has
// yields [ErrWorkoutNotFound].
func (c *Client) GetWorkoutByID(ctx context.Context, workoutID int64) (*model.Workout, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/workouts/%d", workoutID))
	if isNotFound(err) {
		return nil, fmt.Errorf("workout %d: %w", workoutID, ErrWorkoutNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching workout %d: %w", workoutID, err)
	}
	w, err := ParseWorkoutJSON(body)
	if err != nil {
		return nil, fmt.Errorf("workout %d: %w", workoutID, err)
	}
	return w, nil
}

// ParseWorkoutPage extracts the workouts from an activity stream page. Each
// workout is a ".stream-item" element carrying data-workout-id and data-date;
// its ".activity" children and their ".set" children are read in document
// order.
func ParseWorkoutPage(body []byte, userID int64) ([]*model.Workout, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	var workouts []*model.Workout
	var parseErr error
	doc.Find(".stream-item[data-workout-id]").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		w, err := parseStreamItem(item, userID)
		if err != nil {
			parseErr = err
			return false
		}
		workouts = append(workouts, w)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return workouts, nil
}

func parseStreamItem(item *goquery.Selection, userID int64) (*model.Workout, error) {
	rawID, _ := item.Attr("data-workout-id")
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid data-workout-id %q: %w", rawID, err)
	}
	w := &model.Workout{ID: id, UserID: userID}

	rawDate, _ := item.Attr("data-date")
	if w.Date, err = parseDate(rawDate); err != nil {
		return nil, fmt.Errorf("workout %d: %w", id, err)
	}
	if w.Points, err = model.ParsePoints(attr(item, "data-points")); err != nil {
		return nil, fmt.Errorf("workout %d: %w", id, err)
	}

	var actErr error
	item.Find(".activity").EachWithBreak(func(i int, act *goquery.Selection) bool {
		a := &model.Activity{
			Sequence: i + 1,
			Name:     strings.TrimSpace(attr(act, "data-name")),
			Note:     strings.TrimSpace(act.Find(".note").First().Text()),
		}
		act.Find(".set").EachWithBreak(func(j int, set *goquery.Selection) bool {
			s, err := parseSet(j+1, func(name string) string { return attr(set, "data-"+name) })
			if err != nil {
				actErr = fmt.Errorf("workout %d activity %d: %w", id, i+1, err)
				return false
			}
			a.Sets = append(a.Sets, s)
			return true
		})
		if actErr != nil {
			return false
		}
		w.Activities = append(w.Activities, a)
		return true
	})
	if actErr != nil {
		return nil, actErr
	}
	return w, nil
}

// ParseWorkoutJSON decodes the single-workout API document.
func ParseWorkoutJSON(body []byte) (*model.Workout, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed workout JSON")
	}
	doc := gjson.ParseBytes(body)
	id := doc.Get("id")
	if !id.Exists() || id.Int() == 0 {
		return nil, errors.New("workout JSON has no id")
	}

	w := &model.Workout{ID: id.Int(), UserID: doc.Get("user_id").Int()}
	var err error
	if w.Date, err = parseDate(doc.Get("date").String()); err != nil {
		return nil, fmt.Errorf("workout %d: %w", w.ID, err)
	}
	if w.Points, err = model.ParsePoints(jsonString(doc.Get("points"))); err != nil {
		return nil, fmt.Errorf("workout %d: %w", w.ID, err)
	}

	for i, act := range doc.Get("activities").Array() {
		a := &model.Activity{
			Sequence: i + 1,
			Name:     strings.TrimSpace(act.Get("name").String()),
			Note:     strings.TrimSpace(act.Get("note").String()),
		}
		for j, set := range act.Get("sets").Array() {
			s, err := parseSet(j+1, func(name string) string { return jsonString(set.Get(name)) })
			if err != nil {
				return nil, fmt.Errorf("workout %d activity %d: %w", w.ID, i+1, err)
			}
			a.Sets = append(a.Sets, s)
		}
		w.Activities = append(w.Activities, a)
	}
	return w, nil
}

// parseSet builds a set from named fields. Both the HTML attributes and the
// JSON keys use the same names.
func parseSet(seq int, field func(name string) string) (*model.Set, error) {
	s := &model.Set{Sequence: seq}
	var err error
	if s.Points, err = model.ParsePoints(field("points")); err != nil {
		return nil, fmt.Errorf("set %d: %w", seq, err)
	}
	measures := []struct {
		name string
		dst  **float64
	}{
		{"distance", &s.Distance},
		{"duration", &s.Duration},
		{"speed", &s.Speed},
		{"reps", &s.Repetitions},
		{"weight", &s.Weight},
		{"heart-rate", &s.HeartRate},
		{"incline", &s.Incline},
	}
	for _, m := range measures {
		if *m.dst, err = model.ParseMeasure(field(m.name)); err != nil {
			return nil, fmt.Errorf("set %d %s: %w", seq, m.name, err)
		}
	}
	s.IsPr = parseFlag(field("pr"))
	s.IsImperial = parseFlag(field("imperial"))
	return s, nil
}

func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

func parseFlag(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return v
}

// jsonString renders a scalar as text so numbers keep the site's own decimal
// representation; null and missing values become "".
func jsonString(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	if r.Type == gjson.Number {
		return r.Raw
	}
	return r.String()
}
