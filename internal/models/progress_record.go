package models

import (
	"time"

	"github.com/google/uuid"
)

// MinLevel and MaxLevel bound the assessment level numbers.
const (
	MinLevel = 1
	MaxLevel = 3
)

// RiskLevel is the classification derived from a level's percentage score.
type RiskLevel string

const (
	RiskConfident  RiskLevel = "Confident"
	RiskCautious   RiskLevel = "Cautious"
	RiskVulnerable RiskLevel = "Vulnerable"
)

// CardScore is the score breakdown for one card within a level.
type CardScore struct {
	CardID         string `json:"card_id"`
	Title          string `json:"title,omitempty"`
	Score          int    `json:"score"`
	MaxScore       int    `json:"max_score,omitempty"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalQuestions int    `json:"total_questions"`
}

// ProgressRecord is one user's result on one level. (UserID, LevelNumber) is unique.
type ProgressRecord struct {
	ID              uuid.UUID   `json:"id"`
	UserID          string      `json:"user_id"`
	LevelNumber     int         `json:"level_number"`
	GrantID         uuid.UUID   `json:"grant_id"`
	Cards           []CardScore `json:"cards"`
	TotalScore      int         `json:"total_score"`
	MaxScore        int         `json:"max_score"`
	CorrectAnswers  int         `json:"correct_answers"`
	TotalQuestions  int         `json:"total_questions"`
	PercentageScore float64     `json:"percentage_score"`
	RiskLevel       RiskLevel   `json:"risk_level"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IsFinished reports whether the record counts toward completion: it has
// at least one card and a completion timestamp.
func (p *ProgressRecord) IsFinished() bool {
	return p != nil && len(p.Cards) > 0 && p.CompletedAt != nil
}
