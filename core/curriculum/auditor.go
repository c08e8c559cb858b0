package curriculum

import (
	"context"
	"encoding/json"
	"time"

	"github.com/studyboard/studyboard/core"
)

type failureSummary struct {
	Error      string             `json:"error"`
	Duplicates []DuplicateGroup   `json:"duplicates,omitempty"`
	Blocked    *BlockedTopicError `json:"blocked,omitempty"`
}

// runAuditor records the lifecycle of one promotion run.
// Closing a run never fails the promotion: close errors are logged and dropped.
type runAuditor struct {
	audit AuditLog
	log   core.Logger
	now   func() time.Time
}

func (a *runAuditor) open(ctx context.Context, req PromoteRequest) (PromotionRun, error) {
	run := PromotionRun{
		Action:             ActionPromote,
		Status:             RunRunning,
		SubjectCode:        req.SubjectCode,
		ExamBoard:          req.ExamBoardCode,
		QualificationLevel: req.QualificationCode,
		RequestedBy:        req.RequestedBy,
		StartedAt:          a.now().UTC(),
	}
	id, err := a.audit.OpenRun(ctx, run)
	if err != nil {
		return PromotionRun{}, persistenceErr("open promotion run", err)
	}
	run.ID = id
	return run, nil
}

func (a *runAuditor) succeed(ctx context.Context, run *PromotionRun, res PromoteResult) {
	summary, err := json.Marshal(res)
	if err != nil {
		a.log.Error("curriculum: marshal run summary", err, map[string]interface{}{"run_id": run.ID})
	}
	a.close(ctx, run, RunSuccess, summary, "")
}

func (a *runAuditor) fail(ctx context.Context, run *PromotionRun, cause error) {
	summary, err := json.Marshal(failureSummary{
		Error:      cause.Error(),
		Duplicates: DuplicatesOf(cause),
		Blocked:    BlockedTopicOf(cause),
	})
	if err != nil {
		a.log.Error("curriculum: marshal run summary", err, map[string]interface{}{"run_id": run.ID})
	}
	a.close(ctx, run, RunError, summary, cause.Error())
}

func (a *runAuditor) close(ctx context.Context, run *PromotionRun, status RunStatus, summary json.RawMessage, errText string) {
	finished := a.now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	run.Summary = summary
	run.ErrorText = errText

	// the run must be finalized even when the caller's context is already done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.audit.CloseRun(ctx, run.ID, status, summary, errText); err != nil {
		a.log.Error("curriculum: close promotion run", err, map[string]interface{}{
			"run_id": run.ID,
			"status": string(status),
		})
	}
}
