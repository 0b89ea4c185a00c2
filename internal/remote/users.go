package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/fitsync/internal/model"
)

// ListUsers returns the bot account's followers; every follower is tracked.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	body, err := c.get(ctx, "/api/followers")
	if err != nil {
		return nil, fmt.Errorf("fetching followers: %w", err)
	}
	return ParseFollowers(body)
}

// ParseFollowers decodes the followers document: an array of {id, username}.
func ParseFollowers(body []byte) ([]model.User, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed followers JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, errors.New("followers JSON is not an array")
	}
	var users []model.User
	for i, f := range doc.Array() {
		id := f.Get("id").Int()
		if id == 0 {
			return nil, fmt.Errorf("follower %d has no id", i)
		}
		users = append(users, model.User{ID: id, Username: strings.TrimSpace(f.Get("username").String())})
	}
	return users, nil
}

// StaticUsers is a fixed user list that replaces the followers lookup.
type StaticUsers []model.User

// ListUsers returns a copy of the list.
func (s StaticUsers) ListUsers(_ context.Context) ([]model.User, error) {
	out := make([]model.User, len(s))
	copy(out, s)
	return out, nil
}
