package dummydb

import (
	"context"
	"strings"

	"github.com/studyboard/studyboard/core/curriculum"
)

type stagingRepository struct {
	db *DB
}

var _ curriculum.StagingRepository = (*stagingRepository)(nil) // interface compliance check

func NewStagingRepository(db *DB) curriculum.StagingRepository {
	return &stagingRepository{db: db}
}

func (repo *stagingRepository) FindSubject(_ context.Context, board, qualification, code string) (curriculum.StagingSubject, error) {
	if err := repo.db.fault("FindSubject", ""); err != nil {
		return curriculum.StagingSubject{}, err
	}
	repo.db.staging.RLock()
	defer repo.db.staging.RUnlock()

	for _, s := range repo.db.staging.subjects {
		if strings.EqualFold(s.ExamBoard, board) &&
			strings.EqualFold(s.QualificationLevel, qualification) &&
			strings.EqualFold(s.SubjectCode, code) {
			return s, nil
		}
	}
	return curriculum.StagingSubject{}, &curriculum.NotFoundError{
		Entity: "staging subject",
		Key:    board + "/" + qualification + "/" + code,
	}
}

func (repo *stagingRepository) ListTopics(_ context.Context, subjectID string) ([]curriculum.StagingTopic, error) {
	if err := repo.db.fault("ListStagingTopics", subjectID); err != nil {
		return nil, err
	}
	repo.db.staging.RLock()
	defer repo.db.staging.RUnlock()

	src := repo.db.staging.topics[subjectID]
	topics := make([]curriculum.StagingTopic, len(src))
	for i, t := range src {
		topics[i] = cloneStagingTopic(t)
	}
	return topics, nil
}
