package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Status int

const (
	StatusUnattempted Status = 0
	StatusPartial     Status = 1
	StatusSolved      Status = 2
)

// Scores is a JSON encoded list of numbers, used for per-problem and per-subtask scores.
type Scores []float64

func (s Scores) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *Scores) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return errors.New("type assertion to []byte failed")
}

// StringMap is a JSON encoded string map, used for per-platform usernames.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *StringMap) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("type assertion to []byte failed")
}

type User struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	GitHubID     *string `gorm:"uniqueIndex" json:"-"`
	Username     string  `gorm:"uniqueIndex" json:"username"`
	PasswordHash string  `json:"-"`
	Nickname     string  `json:"nickname"`
}

type UserSettings struct {
	UserID            string    `gorm:"primaryKey" json:"user_id"`
	PlatformUsernames StringMap `gorm:"type:text" json:"platform_usernames"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Contest struct {
	ID              uint   `gorm:"primaryKey" json:"-"`
	Name            string `gorm:"uniqueIndex:idx_contest_name_stage;not null" json:"name"`
	Stage           string `gorm:"uniqueIndex:idx_contest_name_stage;not null;default:''" json:"-"`
	Source          string `gorm:"index" json:"source"`
	Year            int    `gorm:"index" json:"year"`
	DurationMinutes int    `json:"duration_minutes"`
	Location        string `json:"location"`
	Website         string `json:"website"`
	Link            string `json:"link"`
	Date            string `json:"date"`
	Notes           string `json:"notes"`
}

func (c Contest) Ref() ContestRef {
	return ContestRef{Name: c.Name, Stage: c.Stage}
}

func (c Contest) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

type Problem struct {
	ID     uint          `gorm:"primaryKey" json:"id"`
	Name   string        `gorm:"not null" json:"name"`
	Source string        `gorm:"uniqueIndex:idx_problem_key;not null" json:"source"`
	Year   int           `gorm:"uniqueIndex:idx_problem_key;not null" json:"year"`
	Number int           `gorm:"uniqueIndex:idx_problem_key;not null" json:"number"`
	Extra  string        `gorm:"uniqueIndex:idx_problem_key;not null;default:''" json:"extra,omitempty"`
	Links  []ProblemLink `gorm:"constraint:OnDelete:CASCADE" json:"links"`
}

type ProblemLink struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	ProblemID uint   `gorm:"uniqueIndex:idx_problem_platform" json:"-"`
	Platform  string `gorm:"uniqueIndex:idx_problem_platform" json:"platform"`
	URL       string `json:"url"`
}

type ContestProblem struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	ContestName   string `gorm:"uniqueIndex:idx_contest_problem_index;not null" json:"-"`
	ContestStage  string `gorm:"uniqueIndex:idx_contest_problem_index;not null;default:''" json:"-"`
	ProblemIndex  int    `gorm:"uniqueIndex:idx_contest_problem_index" json:"index"`
	ProblemSource string `json:"source"`
	ProblemYear   int    `json:"year"`
	ProblemNumber int    `json:"number"`
	ProblemExtra  string `gorm:"not null;default:''" json:"extra,omitempty"`
}

// ActiveVirtualContest is the single in-flight virtual contest of a user.
// The user id is the primary key, so a second row for the same user is rejected by the store.
// Platform lists the judges that contributed to the last sync.
type ActiveVirtualContest struct {
	UserID           string     `gorm:"primaryKey" json:"-"`
	ContestName      string     `gorm:"not null" json:"-"`
	ContestStage     string     `gorm:"not null;default:''" json:"-"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Autosync         bool       `json:"autosync"`
	SyncedAt         *time.Time `json:"synced_at"`
	Score            *float64   `json:"score"`
	PerProblemScores Scores     `gorm:"type:text" json:"per_problem_scores"`
	Platform         string     `json:"platform"`
}

func (a ActiveVirtualContest) Ref() ContestRef {
	return ContestRef{Name: a.ContestName, Stage: a.ContestStage}
}

func (a ActiveVirtualContest) Ended() bool {
	return a.EndTime != nil
}

func (a ActiveVirtualContest) Synced() bool {
	return a.SyncedAt != nil && a.Score != nil
}

// VirtualContest is an archived, immutable virtual contest result.
type VirtualContest struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	UserID           string    `gorm:"uniqueIndex:idx_virtual_contest;not null" json:"-"`
	ContestName      string    `gorm:"uniqueIndex:idx_virtual_contest;not null" json:"-"`
	ContestStage     string    `gorm:"uniqueIndex:idx_virtual_contest;not null;default:''" json:"-"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	Score            float64   `json:"total_score"`
	PerProblemScores Scores    `gorm:"type:text" json:"per_problem_scores"`
	Platform         string    `json:"platform"`
}

func (v VirtualContest) Ref() ContestRef {
	return ContestRef{Name: v.ContestName, Stage: v.ContestStage}
}

// VirtualSubmission is one judge submission fetched while syncing a virtual contest.
type VirtualSubmission struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	UserID         string    `gorm:"uniqueIndex:idx_virtual_submission;not null" json:"-"`
	ContestName    string    `gorm:"uniqueIndex:idx_virtual_submission;not null" json:"-"`
	ContestStage   string    `gorm:"uniqueIndex:idx_virtual_submission;not null;default:''" json:"-"`
	ProblemIndex   int       `gorm:"uniqueIndex:idx_virtual_submission" json:"problem_index"`
	SubmissionTime time.Time `gorm:"uniqueIndex:idx_virtual_submission" json:"submission_time"`
	Platform       string    `json:"platform"`
	SubmissionID   string    `json:"submission_id"`
	Score          float64   `json:"score"`
	SubtaskScores  Scores    `gorm:"type:text" json:"subtask_scores"`
}

type ProblemStatus struct {
	UserID      string    `gorm:"primaryKey" json:"-"`
	ProblemName string    `gorm:"primaryKey" json:"problem_name"`
	Source      string    `gorm:"primaryKey" json:"source"`
	Year        int       `gorm:"primaryKey" json:"year"`
	Status      Status    `json:"status"`
	Score       float64   `json:"score"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProblemNote struct {
	UserID      string    `gorm:"primaryKey" json:"-"`
	ProblemName string    `gorm:"primaryKey" json:"problem_name"`
	Source      string    `gorm:"primaryKey" json:"source"`
	Year        int       `gorm:"primaryKey" json:"year"`
	Note        string    `gorm:"type:text" json:"note"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KVEntry backs the database implementation of the key-value store.
type KVEntry struct {
	Key       string     `gorm:"primaryKey"`
	Value     string     `gorm:"type:text"`
	ExpiresAt *time.Time `gorm:"index"`
}
