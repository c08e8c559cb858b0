package dummydb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyboard/studyboard/core/curriculum"
)

type flashcardReferences struct {
	db *DB
}

var _ curriculum.FlashcardReferences = (*flashcardReferences)(nil) // interface compliance check

func NewFlashcardReferences(db *DB) curriculum.FlashcardReferences {
	return &flashcardReferences{db: db}
}

func (repo *flashcardReferences) CountByTopic(_ context.Context, topicID string) (int, error) {
	if err := repo.db.fault("CountByTopic", topicID); err != nil {
		return 0, err
	}
	repo.db.flashcards.RLock()
	defer repo.db.flashcards.RUnlock()
	return repo.db.flashcards.refs[topicID], nil
}

type auditLog struct {
	db *DB
}

var _ curriculum.AuditLog = (*auditLog)(nil) // interface compliance check

func NewAuditLog(db *DB) curriculum.AuditLog {
	return &auditLog{db: db}
}

func (repo *auditLog) OpenRun(_ context.Context, run curriculum.PromotionRun) (string, error) {
	if err := repo.db.fault("OpenRun", ""); err != nil {
		return "", err
	}
	repo.db.runs.Lock()
	defer repo.db.runs.Unlock()

	run.ID = uuid.NewString()
	run.Status = curriculum.RunRunning
	run.FinishedAt = nil
	repo.db.runs.runs = append(repo.db.runs.runs, &run)
	return run.ID, nil
}

func (repo *auditLog) CloseRun(_ context.Context, id string, status curriculum.RunStatus, summary json.RawMessage, errText string) error {
	if err := repo.db.fault("CloseRun", id); err != nil {
		return err
	}
	repo.db.runs.Lock()
	defer repo.db.runs.Unlock()

	for _, r := range repo.db.runs.runs {
		if r.ID != id {
			continue
		}
		if r.Status != curriculum.RunRunning {
			return fmt.Errorf("promotion run %s already finalized as %s", id, r.Status)
		}
		now := time.Now().UTC()
		r.Status = status
		r.FinishedAt = &now
		r.Summary = append(json.RawMessage(nil), summary...)
		r.ErrorText = errText
		return nil
	}
	return curriculum.ErrRunNotFound
}

func (repo *auditLog) ListRuns(_ context.Context, limit int) ([]curriculum.PromotionRun, error) {
	if err := repo.db.fault("ListRuns", ""); err != nil {
		return nil, err
	}
	repo.db.runs.RLock()
	defer repo.db.runs.RUnlock()

	runs := make([]curriculum.PromotionRun, 0, limit)
	for i := len(repo.db.runs.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, *repo.db.runs.runs[i])
	}
	return runs, nil
}

func (repo *auditLog) GetRun(_ context.Context, id string) (curriculum.PromotionRun, error) {
	if err := repo.db.fault("GetRun", id); err != nil {
		return curriculum.PromotionRun{}, err
	}
	repo.db.runs.RLock()
	defer repo.db.runs.RUnlock()

	for _, r := range repo.db.runs.runs {
		if r.ID == id {
			return *r, nil
		}
	}
	return curriculum.PromotionRun{}, curriculum.ErrRunNotFound
}
