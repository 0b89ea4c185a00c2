package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/fitsync/internal/achieve"
	"github.com/njoerd114/fitsync/internal/model"
)

// PublishStats counts what one [Processor.Process] call posted.
type PublishStats struct {
	Comments int
	Props    int
	Skipped  int
}

// Processor publishes achievements for the changes of one synchronization
// run: it keeps the bot's comment on each workout in line with the workout's
// achievements and props workouts that earned any.
type Processor struct {
	achievements AchievementSource
	poster       Poster
	store        PublishStore
	dryRun       bool
	log          *slog.Logger
}

// NewProcessor creates a Processor. With dryRun set it still talks to poster
// but records nothing in store, so a later live run publishes the same
// workouts from scratch.
func NewProcessor(achievements AchievementSource, poster Poster, store PublishStore, dryRun bool, logger *slog.Logger) *Processor {
	return &Processor{
		achievements: achievements,
		poster:       poster,
		store:        store,
		dryRun:       dryRun,
		log:          logger,
	}
}

// Process handles every added, updated or unresolved workout in order. The
// first error aborts the call; the workout it failed on stays unresolved.
func (p *Processor) Process(ctx context.Context, user *model.User, workouts []*model.Workout) (PublishStats, error) {
	var stats PublishStats
	log := p.log.With("user", user.Username, "user_id", user.ID)

	for _, w := range workouts {
		switch w.State {
		case model.StateAdded, model.StateUpdated, model.StateUpdatedDeep, model.StateUnresolved:
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Workouts logged before the user was tracked are history, not news.
		if w.Date.Before(user.InsertedAt) {
			stats.Skipped++
		} else if err := p.publish(ctx, user, w, &stats, log); err != nil {
			return stats, err
		}

		if p.dryRun {
			continue
		}
		if err := p.store.ClearUnresolvedFlag(ctx, w.ID); err != nil {
			return stats, fmt.Errorf("resolving workout %d: %w", w.ID, err)
		}
	}
	return stats, nil
}

func (p *Processor) publish(ctx context.Context, user *model.User, w *model.Workout, stats *PublishStats, log *slog.Logger) error {
	list, err := p.achievements.Compute(ctx, user, w)
	if err != nil {
		return err
	}

	text := achieve.Render(user.Username, list)
	var hash *int64
	if text != "" {
		h := achieve.HashComment(text)
		hash = &h
	}

	if !int64PtrEqual(hash, w.CommentHash) {
		if w.CommentID != nil {
			if err := p.poster.DeleteComment(ctx, *w.CommentID); err != nil {
				return err
			}
		}
		var commentID *int64
		if text != "" {
			id, err := p.poster.PostComment(ctx, w.ID, text)
			if err != nil {
				return err
			}
			commentID = &id
			stats.Comments++
		}
		if !p.dryRun {
			if err := p.store.UpdateWorkoutComment(ctx, w.ID, commentID, hash); err != nil {
				return fmt.Errorf("recording comment on workout %d: %w", w.ID, err)
			}
			w.CommentID, w.CommentHash = commentID, hash
		}
		log.Info("comment updated", "workout_id", w.ID, "achievements", len(list), "dry_run", p.dryRun)
	}

	if len(list) > 0 && !w.IsPropped {
		if err := p.poster.GiveProp(ctx, w.ID); err != nil {
			return err
		}
		if !p.dryRun {
			if err := p.store.MarkPropped(ctx, w.ID); err != nil {
				return fmt.Errorf("recording prop on workout %d: %w", w.ID, err)
			}
			w.IsPropped = true
		}
		stats.Props++
		log.Info("workout propped", "workout_id", w.ID, "dry_run", p.dryRun)
	}
	return nil
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
