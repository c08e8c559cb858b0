package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

type stagingRepository struct {
	db core.DBExecutor
}

var _ curriculum.StagingRepository = (*stagingRepository)(nil) // interface compliance check

func NewStagingRepository(db core.DBExecutor) curriculum.StagingRepository {
	return &stagingRepository{db: db}
}

func (repo *stagingRepository) FindSubject(ctx context.Context, board, qualification, code string) (curriculum.StagingSubject, error) {
	var row stagingSubjectRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT id, exam_board, qualification_level, subject_code, subject_name
		FROM staging_subjects
		WHERE upper(exam_board) = upper($1) AND upper(qualification_level) = upper($2) AND upper(subject_code) = upper($3)`,
		board, qualification, code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return curriculum.StagingSubject{}, &curriculum.NotFoundError{
			Entity: "staging subject",
			Key:    board + "/" + qualification + "/" + code,
		}
	}
	if err != nil {
		return curriculum.StagingSubject{}, errors.Wrap(err, "selecting staging subject")
	}
	return curriculum.StagingSubject(row), nil
}

func (repo *stagingRepository) ListTopics(ctx context.Context, subjectID string) ([]curriculum.StagingTopic, error) {
	var rows []stagingTopicRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT id, topic_code, topic_name, topic_level, parent_topic_id
		FROM staging_topics
		WHERE subject_id = $1
		ORDER BY topic_level, topic_code, id`,
		subjectID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting staging topics")
	}
	topics := make([]curriculum.StagingTopic, len(rows))
	for i, r := range rows {
		topics[i] = r.model()
	}
	return topics, nil
}
