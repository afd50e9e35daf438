package practice

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
)

const maxProblemScore = 100

// ProblemKey names a catalog problem the way the checklist stores it.
type ProblemKey struct {
	ProblemName string `json:"problem_name" form:"problem_name"`
	Source      string `json:"source" form:"source"`
	Year        int    `json:"year" form:"year"`
}

func (k ProblemKey) validate() error {
	if strings.TrimSpace(k.ProblemName) == "" || strings.TrimSpace(k.Source) == "" || k.Year <= 0 {
		return fmt.Errorf("problem_name, source and year are required: %w", util.ErrValidation)
	}
	return nil
}

// ChecklistEntry is a catalog problem together with the user's progress on it.
type ChecklistEntry struct {
	Name   string               `json:"name"`
	Source string               `json:"source"`
	Year   int                  `json:"year"`
	Number int                  `json:"number"`
	Extra  string               `json:"extra,omitempty"`
	Links  []models.ProblemLink `json:"links"`
	Status models.Status        `json:"status"`
	Score  float64              `json:"score"`
}

// Checklist groups the problems of the given sources by source and year.
// Problems the user never touched are reported as not attempted with score 0.
func (s *Service) Checklist(ctx context.Context, userID string, sources []string) (map[string]map[int][]ChecklistEntry, error) {
	var wanted []string
	for _, src := range sources {
		if src = strings.TrimSpace(src); src != "" {
			wanted = append(wanted, src)
		}
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("at least one source is required: %w", util.ErrValidation)
	}

	db := s.db.WithContext(ctx)
	problems, err := database.ListProblems(db, wanted)
	if err != nil {
		return nil, err
	}
	statuses, err := database.ListProblemStatusesBySource(db, userID, wanted)
	if err != nil {
		return nil, err
	}
	progress := make(map[ProblemKey]models.ProblemStatus, len(statuses))
	for _, st := range statuses {
		progress[ProblemKey{ProblemName: st.ProblemName, Source: st.Source, Year: st.Year}] = st
	}

	out := make(map[string]map[int][]ChecklistEntry)
	for _, p := range problems {
		entry := ChecklistEntry{
			Name:   p.Name,
			Source: p.Source,
			Year:   p.Year,
			Number: p.Number,
			Extra:  p.Extra,
			Links:  p.Links,
		}
		if st, ok := progress[ProblemKey{ProblemName: p.Name, Source: p.Source, Year: p.Year}]; ok {
			entry.Status = st.Status
			entry.Score = st.Score
		}
		if out[p.Source] == nil {
			out[p.Source] = make(map[int][]ChecklistEntry)
		}
		out[p.Source][p.Year] = append(out[p.Source][p.Year], entry)
	}
	return out, nil
}

// StatusChange is a manual edit of one checklist entry. A nil score keeps the
// stored one, or 0 for a problem without a status yet.
type StatusChange struct {
	ProblemKey
	Status models.Status `json:"status"`
	Score  *float64      `json:"score"`
}

// SetStatus stores the status exactly as given. Unlike judge imports it may
// lower a score.
func (s *Service) SetStatus(ctx context.Context, userID string, change StatusChange) (*models.ProblemStatus, error) {
	if err := change.validate(); err != nil {
		return nil, err
	}
	if change.Status < models.StatusUnattempted || change.Status > models.StatusSolved {
		return nil, fmt.Errorf("status %d is invalid: %w", change.Status, util.ErrValidation)
	}
	if sc := change.Score; sc != nil && (math.IsNaN(*sc) || *sc < 0 || *sc > maxProblemScore) {
		return nil, fmt.Errorf("score must be between 0 and %d: %w", maxProblemScore, util.ErrValidation)
	}

	db := s.db.WithContext(ctx)
	if _, err := database.FindProblem(db, change.ProblemName, change.Source, change.Year); err != nil {
		return nil, err
	}
	status := models.ProblemStatus{
		UserID:      userID,
		ProblemName: change.ProblemName,
		Source:      change.Source,
		Year:        change.Year,
		Status:      change.Status,
		UpdatedAt:   s.now().UTC(),
	}
	if change.Score != nil {
		status.Score = *change.Score
	} else if prev, err := database.GetProblemStatus(db, userID, change.ProblemName, change.Source, change.Year); err == nil {
		status.Score = prev.Score
	}
	if err := database.SetProblemStatus(db, status); err != nil {
		return nil, err
	}
	zap.S().Infof("user %s set %s %d %s to status %d", userID, change.Source, change.Year, change.ProblemName, change.Status)
	return &status, nil
}

func (s *Service) Note(ctx context.Context, userID string, key ProblemKey) (string, error) {
	if err := key.validate(); err != nil {
		return "", err
	}
	return database.GetProblemNote(s.db.WithContext(ctx), userID, key.ProblemName, key.Source, key.Year)
}

// SaveNote replaces the note of the user on a problem. An empty note is kept
// as such rather than deleted.
func (s *Service) SaveNote(ctx context.Context, userID string, key ProblemKey, note string) error {
	if err := key.validate(); err != nil {
		return err
	}
	return database.SaveProblemNote(s.db.WithContext(ctx), models.ProblemNote{
		UserID:      userID,
		ProblemName: key.ProblemName,
		Source:      key.Source,
		Year:        key.Year,
		Note:        note,
		UpdatedAt:   s.now().UTC(),
	})
}
