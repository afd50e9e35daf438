package models

import (
	"encoding/json"
	"strings"
)

// ContestRef identifies a contest by name and optional stage.
// An empty Stage means the contest has a single round. Stage columns are
// stored NOT NULL with '' for "no stage" so composite keys compare with
// plain equality; JSON exposes the absent stage as null.
type ContestRef struct {
	Name  string
	Stage string
}

// StagePtr returns the stage, or nil for a single-round contest.
func (r ContestRef) StagePtr() *string {
	if r.Stage == "" {
		return nil
	}
	stage := r.Stage
	return &stage
}

// Key is the "name|stage" form used by clients to list completed contests.
func (r ContestRef) Key() string {
	return r.Name + "|" + r.Stage
}

func (r ContestRef) String() string {
	if r.Stage == "" {
		return r.Name
	}
	return r.Name + " " + r.Stage
}

type contestRefJSON struct {
	Name  string  `json:"contest_name"`
	Stage *string `json:"contest_stage"`
}

func (r ContestRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(contestRefJSON{Name: r.Name, Stage: r.StagePtr()})
}

func (r *ContestRef) UnmarshalJSON(data []byte) error {
	var in contestRefJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Name = in.Name
	r.Stage = ""
	if in.Stage != nil {
		r.Stage = strings.TrimSpace(*in.Stage)
	}
	return nil
}
