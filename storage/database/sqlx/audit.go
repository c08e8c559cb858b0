package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

const runColumns = "id, action, status, subject_code, exam_board, qualification_level, requested_by, started_at, finished_at, summary, error_text"

var runOrdering = core.DBOrdering{Field: "started_at"}

type flashcardReferences struct {
	db core.DBExecutor
}

var _ curriculum.FlashcardReferences = (*flashcardReferences)(nil) // interface compliance check

func NewFlashcardReferences(db core.DBExecutor) curriculum.FlashcardReferences {
	return &flashcardReferences{db: db}
}

func (repo *flashcardReferences) CountByTopic(ctx context.Context, topicID string) (int, error) {
	var n int
	if err := repo.db.GetContext(ctx, &n, "SELECT count(*) FROM flashcards WHERE topic_id = $1", topicID); err != nil {
		return 0, errors.Wrap(err, "counting flashcards")
	}
	return n, nil
}

type auditLog struct {
	db core.DBExecutor
}

var _ curriculum.AuditLog = (*auditLog)(nil) // interface compliance check

func NewAuditLog(db core.DBExecutor) curriculum.AuditLog {
	return &auditLog{db: db}
}

func (repo *auditLog) OpenRun(ctx context.Context, run curriculum.PromotionRun) (string, error) {
	id := uuid.NewString()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO curriculum_promotion_runs (id, action, status, subject_code, exam_board, qualification_level, requested_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, run.Action, string(curriculum.RunRunning), run.SubjectCode, run.ExamBoard, run.QualificationLevel,
		run.RequestedBy, run.StartedAt,
	)
	if err != nil {
		return "", errors.Wrap(err, "inserting promotion run")
	}
	return id, nil
}

// CloseRun finalizes a running run. Finalized runs are never updated again.
func (repo *auditLog) CloseRun(ctx context.Context, id string, status curriculum.RunStatus, summary json.RawMessage, errText string) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE curriculum_promotion_runs
		SET status = $2, finished_at = now(), summary = $3, error_text = $4
		WHERE id = $1 AND status = 'running'`,
		id, string(status), null.JSONFrom(summary), null.NewString(errText, errText != ""),
	)
	if err != nil {
		return errors.Wrap(err, "closing promotion run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "closing promotion run")
	}
	if n == 0 {
		return errors.Wrapf(curriculum.ErrRunNotFound, "no running promotion run %s", id)
	}
	return nil
}

func (repo *auditLog) ListRuns(ctx context.Context, limit int) ([]curriculum.PromotionRun, error) {
	var rows []runRow
	err := repo.db.SelectContext(ctx, &rows,
		"SELECT "+runColumns+" FROM curriculum_promotion_runs ORDER BY "+runOrdering.String()+" LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting promotion runs")
	}
	runs := make([]curriculum.PromotionRun, len(rows))
	for i, r := range rows {
		runs[i] = r.model()
	}
	return runs, nil
}

func (repo *auditLog) GetRun(ctx context.Context, id string) (curriculum.PromotionRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return curriculum.PromotionRun{}, curriculum.ErrRunNotFound
	}
	var row runRow
	err := repo.db.GetContext(ctx, &row, "SELECT "+runColumns+" FROM curriculum_promotion_runs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return curriculum.PromotionRun{}, curriculum.ErrRunNotFound
	}
	if err != nil {
		return curriculum.PromotionRun{}, errors.Wrap(err, "selecting promotion run")
	}
	return row.model(), nil
}
