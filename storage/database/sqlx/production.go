package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

const (
	defaultPageSize = 1000
	pageWorkers     = 4
)

type productionRepository struct {
	db       core.DBExecutor
	pageSize int
}

var _ curriculum.ProductionRepository = (*productionRepository)(nil) // interface compliance check

// NewProductionRepository returns the production curriculum repository.
// Topic listings larger than pageSize are read in parallel pages when db is a *sqlx.DB pool.
// A *sqlx.Tx is not safe for concurrent use and is always read with a single query.
func NewProductionRepository(db core.DBExecutor, pageSize int) curriculum.ProductionRepository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &productionRepository{db: db, pageSize: pageSize}
}

func (repo *productionRepository) resolveCode(ctx context.Context, table, entity, code string) (string, error) {
	var id string
	err := repo.db.GetContext(ctx, &id, "SELECT id FROM "+table+" WHERE upper(code) = upper($1)", code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &curriculum.NotFoundError{Entity: entity, Key: code}
	}
	if err != nil {
		return "", errors.Wrapf(err, "selecting %s", entity)
	}
	return id, nil
}

func (repo *productionRepository) ResolveExamBoard(ctx context.Context, code string) (string, error) {
	return repo.resolveCode(ctx, "exam_boards", "exam board", code)
}

func (repo *productionRepository) ResolveQualification(ctx context.Context, code string) (string, error) {
	return repo.resolveCode(ctx, "qualification_types", "qualification", code)
}

func (repo *productionRepository) UpsertSubject(ctx context.Context, subject curriculum.ProductionSubject) (curriculum.ProductionSubject, error) {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	var row subjectRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO exam_board_subjects (id, exam_board_id, qualification_type_id, subject_code, subject_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT exam_board_subjects_natural_key
		DO UPDATE SET subject_name = EXCLUDED.subject_name, updated_at = now()
		RETURNING id, exam_board_id, qualification_type_id, subject_code, subject_name`,
		subject.ID, subject.ExamBoardID, subject.QualificationTypeID, subject.SubjectCode, subject.SubjectName,
	)
	if err != nil {
		return curriculum.ProductionSubject{}, errors.Wrap(err, "upserting subject")
	}
	return curriculum.ProductionSubject(row), nil
}

func (repo *productionRepository) ListTopics(ctx context.Context, subjectID string) ([]curriculum.ProductionTopic, error) {
	var total int
	if err := repo.db.GetContext(ctx, &total, "SELECT count(*) FROM curriculum_topics WHERE exam_board_subject_id = $1", subjectID); err != nil {
		return nil, errors.Wrap(err, "counting topics")
	}

	pageCount := (total + repo.pageSize - 1) / repo.pageSize
	if _, pooled := repo.db.(*sqlx.DB); pageCount <= 1 || !pooled {
		var rows []topicRow
		err := repo.db.SelectContext(ctx, &rows, `
			SELECT `+topicColumns+`
			FROM curriculum_topics
			WHERE exam_board_subject_id = $1
			ORDER BY topic_level, sort_order, id`,
			subjectID,
		)
		if err != nil {
			return nil, errors.Wrap(err, "selecting topics")
		}
		return topicModels(rows), nil
	}

	pages := make([][]topicRow, pageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageWorkers)
	for i := range pages {
		i := i
		g.Go(func() error {
			err := repo.db.SelectContext(gctx, &pages[i], `
				SELECT `+topicColumns+`
				FROM curriculum_topics
				WHERE exam_board_subject_id = $1
				ORDER BY topic_level, sort_order, id
				LIMIT $2 OFFSET $3`,
				subjectID, repo.pageSize, i*repo.pageSize,
			)
			return errors.Wrapf(err, "selecting topics page %d", i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	topics := make([]curriculum.ProductionTopic, 0, total)
	for _, page := range pages {
		topics = append(topics, topicModels(page)...)
	}
	return topics, nil
}

func (repo *productionRepository) FindTopicsByNaturalKey(ctx context.Context, subjectID string, level int, names []string) ([]curriculum.ProductionTopic, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var rows []topicRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+topicColumns+`
		FROM curriculum_topics
		WHERE exam_board_subject_id = $1 AND topic_level = $2 AND topic_name = ANY($3)
		ORDER BY sort_order, id`,
		subjectID, level, pq.Array(names),
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting topics by natural key")
	}
	return topicModels(rows), nil
}

var conflictClauses = map[curriculum.ConflictKey]string{
	curriculum.ConflictOnID: `ON CONFLICT (id) DO UPDATE SET
		exam_board_subject_id = EXCLUDED.exam_board_subject_id,
		topic_code = EXCLUDED.topic_code,
		topic_name = EXCLUDED.topic_name,
		topic_level = EXCLUDED.topic_level,
		parent_topic_id = EXCLUDED.parent_topic_id,
		sort_order = EXCLUDED.sort_order,
		updated_at = now()`,
	curriculum.ConflictOnNaturalKey: `ON CONFLICT ON CONSTRAINT curriculum_topics_natural_key DO UPDATE SET
		topic_code = EXCLUDED.topic_code,
		parent_topic_id = EXCLUDED.parent_topic_id,
		sort_order = EXCLUDED.sort_order,
		updated_at = now()`,
}

// UpsertTopics writes rows in a single multi-row statement.
func (repo *productionRepository) UpsertTopics(ctx context.Context, rows []curriculum.ProductionTopic, key curriculum.ConflictKey) ([]curriculum.ProductionTopic, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	clause, ok := conflictClauses[key]
	if !ok {
		return nil, errors.Errorf("unsupported conflict key %d", key)
	}

	const cols = 7
	var b strings.Builder
	b.WriteString("INSERT INTO curriculum_topics (" + topicColumns + ") VALUES ")
	args := make([]interface{}, 0, len(rows)*cols)
	for i, t := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * cols
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args,
			t.ID, t.SubjectID, null.StringFromPtr(t.TopicCode), t.TopicName, t.TopicLevel,
			null.StringFromPtr(t.ParentTopicID), t.SortOrder,
		)
	}
	b.WriteString(" " + clause + " RETURNING " + topicColumns)

	var written []topicRow
	if err := repo.db.SelectContext(ctx, &written, b.String(), args...); err != nil {
		return nil, errors.Wrapf(err, "upserting %d topics on %s", len(rows), key)
	}
	return topicModels(written), nil
}

func (repo *productionRepository) SetTopicParents(ctx context.Context, links []curriculum.ParentLink) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("UPDATE curriculum_topics AS t SET parent_topic_id = v.parent_id::uuid, updated_at = now() FROM (VALUES ")
	args := make([]interface{}, 0, len(links)*2)
	for i, l := range links {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, l.TopicID, l.ParentID)
	}
	b.WriteString(") AS v(id, parent_id) WHERE t.id = v.id::uuid")

	res, err := repo.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, errors.Wrap(err, "updating topic parents")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "updating topic parents")
	}
	return int(n), nil
}

func (repo *productionRepository) DeleteTopic(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM curriculum_topics WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting topic")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting topic")
	}
	if n == 0 {
		return &curriculum.NotFoundError{Entity: "topic", Key: id}
	}
	return nil
}
