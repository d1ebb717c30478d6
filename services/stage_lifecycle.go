package services

import (
	"context"

	"github.com/phonginreallife/masajid/db"
)

// StageLifecycle is the hook the request workflow calls when a request moves
// between stages. It only keeps tracking records in step; transition rules live
// with the caller.
type StageLifecycle struct {
	Stages *StageTrackerService
}

func NewStageLifecycle(stages *StageTrackerService) *StageLifecycle {
	return &StageLifecycle{Stages: stages}
}

// OnStageEnter opens a tracking for the stage the request just entered.
func (l *StageLifecycle) OnStageEnter(ctx context.Context, requestID, stageCode, assignedTo, notes string) (db.StageTracking, error) {
	return l.Stages.Open(ctx, requestID, stageCode, assignedTo, notes)
}

// OnStageExit closes the most recent open tracking of the stage the request left.
func (l *StageLifecycle) OnStageExit(ctx context.Context, requestID, stageCode, completedBy, notes string) (db.StageTracking, error) {
	open, err := l.Stages.FindOpen(ctx, requestID, stageCode)
	if err != nil {
		return db.StageTracking{}, err
	}
	return l.Stages.Close(ctx, open.ID, completedBy, notes)
}
