package services

import (
	"context"

	"github.com/phonginreallife/masajid/db"
)

// EscalationTargetResolver names who becomes responsible when a tracking reaches level.
// An empty result leaves escalated_to unset.
type EscalationTargetResolver interface {
	ResolveTarget(ctx context.Context, tracking db.StageTracking, stage db.StageDefinition, level int) (string, error)
}

// AssigneeTargetResolver keeps the current assignee as the escalation target.
type AssigneeTargetResolver struct{}

func (AssigneeTargetResolver) ResolveTarget(_ context.Context, tracking db.StageTracking, _ db.StageDefinition, _ int) (string, error) {
	return tracking.AssignedTo, nil
}

// StaticTargetResolver maps each level to a fixed role or user, falling back to the assignee.
type StaticTargetResolver struct {
	Level1 string
	Level2 string
}

func (r StaticTargetResolver) ResolveTarget(_ context.Context, tracking db.StageTracking, _ db.StageDefinition, level int) (string, error) {
	switch {
	case level >= db.EscalationLevelSecond && r.Level2 != "":
		return r.Level2, nil
	case level == db.EscalationLevelFirst && r.Level1 != "":
		return r.Level1, nil
	}
	return tracking.AssignedTo, nil
}

var (
	_ EscalationTargetResolver = AssigneeTargetResolver{}
	_ EscalationTargetResolver = StaticTargetResolver{}
)
