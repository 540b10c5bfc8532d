package payroll

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folha-rh/folha-rh/internal/shared"
)

const (
	progressTTL = 24 * time.Hour
	maxLogLines = 200
)

// Progress is the pollable view of a run.
type Progress struct {
	RunID          string    `json:"run_id"`
	Status         RunStatus `json:"status"`
	Percent        int       `json:"percent"`
	Processed      int       `json:"processed"`
	Total          int       `json:"total"`
	LogLines       []string  `json:"log_lines"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

// progressTracker mirrors run progress into redis so pollers never touch the
// run's own transaction scope.
type progressTracker struct {
	rdb   *redis.Client
	runID string
}

func newProgressTracker(rdb *redis.Client, runID string) *progressTracker {
	return &progressTracker{rdb: rdb, runID: runID}
}

func (p *progressTracker) init(ctx context.Context, status RunStatus, total int) {
	key := shared.PayrollRunProgressKey(p.runID)
	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":    string(status),
		"processed": 0,
		"total":     total,
		"percent":   0,
	})
	pipe.Expire(ctx, key, progressTTL)
	_, _ = pipe.Exec(ctx)
}

func (p *progressTracker) advance(ctx context.Context, processed, total int) {
	percent := 0
	if total > 0 {
		percent = processed * 100 / total
	}
	_ = p.rdb.HSet(ctx, shared.PayrollRunProgressKey(p.runID), map[string]any{
		"processed": processed,
		"percent":   percent,
	}).Err()
}

func (p *progressTracker) finish(ctx context.Context, status RunStatus) {
	fields := map[string]any{"status": string(status)}
	if status == RunCompleted {
		fields["percent"] = 100
	}
	_ = p.rdb.HSet(ctx, shared.PayrollRunProgressKey(p.runID), fields).Err()
}

func (p *progressTracker) log(ctx context.Context, format string, args ...any) {
	key := shared.PayrollRunLogKey(p.runID)
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, key, line)
	pipe.LTrim(ctx, key, -maxLogLines, -1)
	pipe.Expire(ctx, key, progressTTL)
	_, _ = pipe.Exec(ctx)
}

func (p *progressTracker) stopRequested(ctx context.Context) bool {
	v, err := p.rdb.Exists(ctx, shared.PayrollRunStopKey(p.runID)).Result()
	return err == nil && v > 0
}

// readProgress merges the redis mirror with the authoritative run row. Redis
// entries expire; the run row survives, so stale polls still answer.
func readProgress(ctx context.Context, rdb *redis.Client, run *Run, now time.Time) (*Progress, error) {
	prog := &Progress{
		RunID:     run.ID.String(),
		Status:    run.Status,
		Processed: run.Processed,
		Total:     run.Total,
	}
	if run.Total > 0 {
		prog.Percent = run.Processed * 100 / run.Total
	}
	if run.Status == RunCompleted {
		prog.Percent = 100
	}

	fields, err := rdb.HGetAll(ctx, shared.PayrollRunProgressKey(run.ID.String())).Result()
	if err == nil && len(fields) > 0 {
		if v, err := strconv.Atoi(fields["processed"]); err == nil {
			prog.Processed = v
		}
		if v, err := strconv.Atoi(fields["total"]); err == nil {
			prog.Total = v
		}
		if v, err := strconv.Atoi(fields["percent"]); err == nil {
			prog.Percent = v
		}
	}

	lines, err := rdb.LRange(ctx, shared.PayrollRunLogKey(run.ID.String()), 0, -1).Result()
	if err == nil {
		prog.LogLines = lines
	}

	if run.StartedAt != nil {
		end := now
		if run.FinishedAt != nil {
			end = *run.FinishedAt
		}
		prog.ElapsedSeconds = int64(end.Sub(*run.StartedAt).Seconds())
	}
	return prog, nil
}
