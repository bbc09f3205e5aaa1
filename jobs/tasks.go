package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerResync re-derives one period's consumption and balances.
	TaskLedgerResync = "ledger:resync"
)

// ResyncPayload identifies the period to resync.
type ResyncPayload struct {
	UserID string `json:"user_id"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
}

// PayloadFor builds the payload for a period.
func PayloadFor(p generic.Period) ResyncPayload {
	return ResyncPayload{UserID: string(p.UserID), Year: p.Year, Month: int(p.Month)}
}

// Period validates the payload and returns its period.
func (p ResyncPayload) Period() (generic.Period, error) {
	return generic.NewPeriod(generic.UserID(p.UserID), p.Year, time.Month(p.Month))
}

// NewResyncTask constructs an Asynq task for the period.
func NewResyncTask(p generic.Period) (*asynq.Task, error) {
	data, err := json.Marshal(PayloadFor(p))
	if err != nil {
		return nil, fmt.Errorf("marshal resync payload: %w", err)
	}
	return asynq.NewTask(TaskLedgerResync, data, asynq.MaxRetry(5)), nil
}
