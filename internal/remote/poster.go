package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// PostComment adds a comment to a workout and returns the new comment's ID.
func (c *Client) PostComment(ctx context.Context, workoutID int64, text string) (int64, error) {
	body, err := c.postForm(ctx, fmt.Sprintf("/api/workouts/%d/comments", workoutID), url.Values{"text": {text}})
	if err != nil {
		return 0, fmt.Errorf("commenting on workout %d: %w", workoutID, err)
	}
	id := gjson.GetBytes(body, "id").Int()
	if id == 0 {
		return 0, fmt.Errorf("commenting on workout %d: %w", workoutID, errors.New("response carries no comment id"))
	}
	return id, nil
}

// DeleteComment removes one of the bot's comments. A comment that is already
// gone is not an error.
func (c *Client) DeleteComment(ctx context.Context, commentID int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/comments/%d", commentID), nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting comment %d: %w", commentID, err)
	}
	return nil
}

// GiveProp props a workout.
func (c *Client) GiveProp(ctx context.Context, workoutID int64) error {
	if _, err := c.postForm(ctx, fmt.Sprintf("/api/workouts/%d/props", workoutID), url.Values{}); err != nil {
		return fmt.Errorf("propping workout %d: %w", workoutID, err)
	}
	return nil
}

// DryRunPoster logs what would be posted instead of touching the site.
type DryRunPoster struct {
	Log *slog.Logger
}

// PostComment logs the comment and returns ID 0.
func (d DryRunPoster) PostComment(_ context.Context, workoutID int64, text string) (int64, error) {
	d.Log.Info("dry run: would comment", "workout_id", workoutID, "text", text)
	return 0, nil
}

// DeleteComment logs the deletion.
func (d DryRunPoster) DeleteComment(_ context.Context, commentID int64) error {
	d.Log.Info("dry run: would delete comment", "comment_id", commentID)
	return nil
}

// GiveProp logs the prop.
func (d DryRunPoster) GiveProp(_ context.Context, workoutID int64) error {
	d.Log.Info("dry run: would prop", "workout_id", workoutID)
	return nil
}
