package models

import (
	"time"

	"github.com/google/uuid"
)

type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// RuleSet is a declarative predicate over customers.
type RuleSet struct {
	Match MatchMode `json:"match"`
	Rules []Rule    `json:"rules"`
}

// Rule compares one customer property with a scalar value.
type Rule struct {
	Property string `json:"property"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type Audience struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Criteria         RuleSet   `json:"criteria"`
	MaterializedSize int64     `json:"materialized_size"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AudiencePreview is the sizing result for a rule set.
type AudiencePreview struct {
	Size     int64    `json:"size"`
	Warnings []string `json:"warnings,omitempty"`
}
