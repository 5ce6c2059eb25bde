package usecase

import (
	"context"
	"fmt"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/queue"
)

// Queue message types. The close path enqueues these so a slow store or
// broker never blocks a monitor; the queue's retry schedule and dead
// letter list absorb the failures instead.
const (
	JobContractOutcome = "contract.outcome"
	JobEngineEvent     = "engine.event"
)

// ContractOutcomeJob persists terminal contract rows off the trade path.
type ContractOutcomeJob struct {
	contracts repository.ContractStore
}

var _ queue.Job = (*ContractOutcomeJob)(nil)

func NewContractOutcomeJob(contracts repository.ContractStore) *ContractOutcomeJob {
	return &ContractOutcomeJob{contracts: contracts}
}

func (j *ContractOutcomeJob) Name() string { return "contract-outcome" }
func (j *ContractOutcomeJob) Type() string { return JobContractOutcome }

func (j *ContractOutcomeJob) Handle(ctx context.Context, payload interface{}) error {
	c, err := queue.ParsePayload[models.Contract](payload)
	if err != nil {
		return fmt.Errorf("parse contract payload: %w", err)
	}
	if c.ID == 0 {
		return fmt.Errorf("contract payload has no id")
	}
	// Upsert: when the placement-time insert was lost, this is the first
	// write of the row.
	if err := j.contracts.SaveContract(ctx, c); err != nil {
		return fmt.Errorf("persist contract %d: %w", c.ID, err)
	}
	return nil
}

// EngineEventJob fans engine events out to the event topic.
type EngineEventJob struct {
	events repository.EventPublisher
}

var _ queue.Job = (*EngineEventJob)(nil)

func NewEngineEventJob(events repository.EventPublisher) *EngineEventJob {
	return &EngineEventJob{events: events}
}

func (j *EngineEventJob) Name() string { return "engine-event" }
func (j *EngineEventJob) Type() string { return JobEngineEvent }

func (j *EngineEventJob) Handle(ctx context.Context, payload interface{}) error {
	ev, err := queue.ParsePayload[models.EngineEvent](payload)
	if err != nil {
		return fmt.Errorf("parse event payload: %w", err)
	}
	if ev.Kind == "" {
		return fmt.Errorf("event payload has no kind")
	}
	if err := j.events.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Kind, err)
	}
	return nil
}
