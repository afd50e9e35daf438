package virtual

import (
	"context"
	"errors"
	"fmt"

	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
	"gorm.io/gorm"
)

// Overview returns the active contest, the most recent results and the keys
// of every completed contest.
func (s *Service) Overview(ctx context.Context, userID string) (*Overview, error) {
	db := s.db.WithContext(ctx)
	out := &Overview{Recent: []CompletedView{}, Completed: []string{}}

	active, err := database.GetActiveContest(db, userID)
	switch {
	case err == nil:
		contest, err := database.GetContest(db, active.Ref())
		if err != nil && !errors.Is(err, util.ErrNotFound) {
			return nil, err
		}
		out.Active = newActiveView(active, contest)
	case !errors.Is(err, util.ErrNotFound):
		return nil, err
	}

	history, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, v := range history {
		if i < recentLimit {
			out.Recent = append(out.Recent, v)
		}
		out.Completed = append(out.Completed, models.ContestRef{Name: v.ContestName, Stage: deref(v.ContestStage)}.Key())
	}
	return out, nil
}

// History lists every archived contest, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]CompletedView, error) {
	db := s.db.WithContext(ctx)
	archived, err := database.ListVirtualContests(db, userID, 0)
	if err != nil {
		return nil, err
	}
	contests, err := s.contestIndex(db)
	if err != nil {
		return nil, err
	}
	views := make([]CompletedView, 0, len(archived))
	for _, vc := range archived {
		views = append(views, newCompletedView(vc, contests[vc.Ref()]))
	}
	return views, nil
}

// Detail finds an archived contest by slug and loads its recorded submissions.
func (s *Service) Detail(ctx context.Context, userID, contestSlug string) (*DetailView, error) {
	db := s.db.WithContext(ctx)
	archived, err := database.ListVirtualContests(db, userID, 0)
	if err != nil {
		return nil, err
	}
	for _, vc := range archived {
		if Slug(vc.Ref()) != contestSlug {
			continue
		}
		var contest *models.Contest
		if c, err := database.GetContest(db, vc.Ref()); err == nil {
			contest = c
		}
		subs, err := database.GetVirtualSubmissions(db, userID, vc.Ref(), vc.StartedAt, vc.EndedAt)
		if err != nil {
			return nil, err
		}
		if subs == nil {
			subs = []models.VirtualSubmission{}
		}
		return &DetailView{CompletedView: newCompletedView(vc, contest), Submissions: subs}, nil
	}
	return nil, fmt.Errorf("contest %q not found: %w", contestSlug, util.ErrNotFound)
}

func (s *Service) contestIndex(db *gorm.DB) (map[models.ContestRef]*models.Contest, error) {
	contests, err := database.ListContests(db)
	if err != nil {
		return nil, err
	}
	index := make(map[models.ContestRef]*models.Contest, len(contests))
	for i := range contests {
		index[contests[i].Ref()] = &contests[i]
	}
	return index, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
