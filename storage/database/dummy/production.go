package dummydb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/studyboard/studyboard/core/curriculum"
)

// ErrUniqueViolation mirrors the production (subject, name, level) unique constraint.
var ErrUniqueViolation = errors.New("duplicate key value violates unique constraint \"curriculum_topics_natural_key\"")

type productionRepository struct {
	db *DB
}

var _ curriculum.ProductionRepository = (*productionRepository)(nil) // interface compliance check

func NewProductionRepository(db *DB) curriculum.ProductionRepository {
	return &productionRepository{db: db}
}

func (repo *productionRepository) ResolveExamBoard(_ context.Context, code string) (string, error) {
	if err := repo.db.fault("ResolveExamBoard", ""); err != nil {
		return "", err
	}
	repo.db.production.RLock()
	defer repo.db.production.RUnlock()

	if id, ok := repo.db.production.boards[strings.ToUpper(code)]; ok {
		return id, nil
	}
	return "", &curriculum.NotFoundError{Entity: "exam board", Key: code}
}

func (repo *productionRepository) ResolveQualification(_ context.Context, code string) (string, error) {
	if err := repo.db.fault("ResolveQualification", ""); err != nil {
		return "", err
	}
	repo.db.production.RLock()
	defer repo.db.production.RUnlock()

	if id, ok := repo.db.production.qualifications[strings.ToUpper(code)]; ok {
		return id, nil
	}
	return "", &curriculum.NotFoundError{Entity: "qualification", Key: code}
}

func (repo *productionRepository) UpsertSubject(_ context.Context, subject curriculum.ProductionSubject) (curriculum.ProductionSubject, error) {
	if err := repo.db.fault("UpsertSubject", ""); err != nil {
		return curriculum.ProductionSubject{}, err
	}
	repo.db.production.Lock()
	defer repo.db.production.Unlock()

	for _, s := range repo.db.production.subjects {
		if s.ExamBoardID == subject.ExamBoardID &&
			s.QualificationTypeID == subject.QualificationTypeID &&
			s.SubjectCode == subject.SubjectCode {
			s.SubjectName = subject.SubjectName
			return *s, nil
		}
	}
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	row := subject
	repo.db.production.subjects[row.ID] = &row
	return subject, nil
}

func (repo *productionRepository) ListTopics(_ context.Context, subjectID string) ([]curriculum.ProductionTopic, error) {
	if err := repo.db.fault("ListTopics", subjectID); err != nil {
		return nil, err
	}
	repo.db.production.RLock()
	defer repo.db.production.RUnlock()
	return repo.db.production.list(subjectID), nil
}

func (repo *productionRepository) FindTopicsByNaturalKey(_ context.Context, subjectID string, level int, names []string) ([]curriculum.ProductionTopic, error) {
	if err := repo.db.fault("FindTopicsByNaturalKey", subjectID); err != nil {
		return nil, err
	}
	repo.db.production.RLock()
	defer repo.db.production.RUnlock()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	var hits []curriculum.ProductionTopic
	for _, t := range repo.db.production.list(subjectID) {
		if t.TopicLevel != level {
			continue
		}
		if _, ok := wanted[t.TopicName]; ok {
			hits = append(hits, t)
		}
	}
	return hits, nil
}

// naturalKeyOwner returns the row holding (subject, name, level), if any.
func (t *productionTable) naturalKeyOwner(row curriculum.ProductionTopic) *curriculum.ProductionTopic {
	for _, existing := range t.topics {
		if existing.SubjectID == row.SubjectID &&
			existing.TopicName == row.TopicName &&
			existing.TopicLevel == row.TopicLevel {
			return existing
		}
	}
	return nil
}

func (t *productionTable) write(target *curriculum.ProductionTopic, row curriculum.ProductionTopic) {
	target.SubjectID = row.SubjectID
	target.TopicCode = cloneStr(row.TopicCode)
	target.TopicName = row.TopicName
	target.TopicLevel = row.TopicLevel
	target.ParentTopicID = cloneStr(row.ParentTopicID)
	target.SortOrder = row.SortOrder
	t.writes = append(t.writes, target.ID)
}

func (repo *productionRepository) UpsertTopics(_ context.Context, rows []curriculum.ProductionTopic, key curriculum.ConflictKey) ([]curriculum.ProductionTopic, error) {
	if err := repo.db.fault("UpsertTopics", ""); err != nil {
		return nil, err
	}
	repo.db.production.Lock()
	defer repo.db.production.Unlock()

	tbl := repo.db.production
	written := make([]curriculum.ProductionTopic, 0, len(rows))
	for _, row := range rows {
		if err := repo.db.fault("UpsertTopics", row.ID); err != nil {
			return written, err
		}

		owner := tbl.naturalKeyOwner(row)
		switch key {
		case curriculum.ConflictOnNaturalKey:
			if owner != nil {
				// the natural key owner keeps its id
				tbl.write(owner, row)
				written = append(written, cloneTopic(*owner))
				continue
			}
		default:
			if owner != nil && owner.ID != row.ID {
				return written, fmt.Errorf("upsert topic %s: %w", row.ID, ErrUniqueViolation)
			}
			if existing, ok := tbl.topics[row.ID]; ok {
				tbl.write(existing, row)
				written = append(written, cloneTopic(*existing))
				continue
			}
		}

		if _, ok := tbl.topics[row.ID]; ok {
			return written, fmt.Errorf("insert topic %s: duplicate primary key", row.ID)
		}
		inserted := &curriculum.ProductionTopic{ID: row.ID}
		tbl.topics[row.ID] = inserted
		tbl.write(inserted, row)
		written = append(written, cloneTopic(*inserted))
	}
	return written, nil
}

func (repo *productionRepository) SetTopicParents(_ context.Context, links []curriculum.ParentLink) (int, error) {
	if err := repo.db.fault("SetTopicParents", ""); err != nil {
		return 0, err
	}
	repo.db.production.Lock()
	defer repo.db.production.Unlock()

	n := 0
	for _, l := range links {
		row, ok := repo.db.production.topics[l.TopicID]
		if !ok {
			continue
		}
		if _, ok := repo.db.production.topics[l.ParentID]; !ok {
			continue
		}
		parent := l.ParentID
		row.ParentTopicID = &parent
		n++
	}
	return n, nil
}

func (repo *productionRepository) DeleteTopic(_ context.Context, id string) error {
	if err := repo.db.fault("DeleteTopic", id); err != nil {
		return err
	}
	repo.db.production.Lock()
	defer repo.db.production.Unlock()

	if _, ok := repo.db.production.topics[id]; !ok {
		return &curriculum.NotFoundError{Entity: "topic", Key: id}
	}
	delete(repo.db.production.topics, id)
	for _, t := range repo.db.production.topics { // ON DELETE SET NULL
		if t.ParentTopicID != nil && *t.ParentTopicID == id {
			t.ParentTopicID = nil
		}
	}
	return nil
}
