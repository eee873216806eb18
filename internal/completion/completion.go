// Package completion decides whether a user has finished the levels their
// audience segment requires.
package completion

import (
	"context"
	"fmt"
	"slices"

	"github.com/MacJediWizard/accessgate/internal/models"
)

var (
	consumerLevels = []int{1}
	allLevels      = []int{1, 2, 3}
)

// RequiredLevels returns the levels a user must finish for the audience, in
// ascending order. B2C needs level 1; B2B and B2E need every level. An
// unknown audience gets the strictest set.
func RequiredLevels(audience models.Audience) []int {
	if audience == models.AudienceB2C {
		return slices.Clone(consumerLevels)
	}
	return slices.Clone(allLevels)
}

// FinalLevel returns the highest required level for the audience.
func FinalLevel(audience models.Audience) int {
	levels := RequiredLevels(audience)
	return levels[len(levels)-1]
}

// IsRequired reports whether level counts toward completion for the audience.
func IsRequired(audience models.Audience, level int) bool {
	return slices.Contains(RequiredLevels(audience), level)
}

// Verdict is the outcome of evaluating a user's records.
type Verdict struct {
	Complete        bool  `json:"complete"`
	RequiredLevels  []int `json:"required_levels"`
	CompletedLevels []int `json:"completed_levels"`
	MissingLevels   []int `json:"missing_levels"`
}

// Evaluate checks records against the audience's required levels. A level
// counts only if its record has at least one card and a completion time.
func Evaluate(records []*models.ProgressRecord, audience models.Audience) Verdict {
	finished := make(map[int]bool, len(records))
	for _, r := range records {
		if r.IsFinished() {
			finished[r.LevelNumber] = true
		}
	}

	v := Verdict{
		RequiredLevels:  RequiredLevels(audience),
		CompletedLevels: []int{},
		MissingLevels:   []int{},
	}
	for _, level := range v.RequiredLevels {
		if finished[level] {
			v.CompletedLevels = append(v.CompletedLevels, level)
		} else {
			v.MissingLevels = append(v.MissingLevels, level)
		}
	}
	v.Complete = len(v.MissingLevels) == 0
	return v
}

// RecordReader reads a user's progress records.
type RecordReader interface {
	ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error)
}

// Evaluator evaluates against the store. It never caches: every call reads
// the records again, so calls made right before and after a write see that
// write's effect.
type Evaluator struct {
	reader RecordReader
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(reader RecordReader) *Evaluator {
	return &Evaluator{reader: reader}
}

// Evaluate reads the user's records and evaluates them.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, audience models.Audience) (Verdict, error) {
	records, err := e.reader.ListProgress(ctx, userID)
	if err != nil {
		return Verdict{}, fmt.Errorf("list progress: %w", err)
	}
	return Evaluate(records, audience), nil
}

// IsComplete reports whether the user has finished every required level.
func (e *Evaluator) IsComplete(ctx context.Context, userID string, audience models.Audience) (bool, error) {
	v, err := e.Evaluate(ctx, userID, audience)
	if err != nil {
		return false, err
	}
	return v.Complete, nil
}
