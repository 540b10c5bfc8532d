package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPayrollRun executes one queued payroll run.
	TaskPayrollRun = "payroll:run"
	// TaskTimeBankSweep expires overdue time-bank credits.
	TaskTimeBankSweep = "timebank:sweep"
)

// PayrollRunPayload identifies the run to execute.
type PayrollRunPayload struct {
	TenantID int64     `json:"tenant_id"`
	RunID    uuid.UUID `json:"run_id"`
}

// NewPayrollRunTask constructs the payroll run task.
func NewPayrollRunTask(payload PayrollRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayrollRun, data, asynq.MaxRetry(2)), nil
}

// NewTimeBankSweepTask constructs the nightly sweep task.
func NewTimeBankSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTimeBankSweep, nil)
}
