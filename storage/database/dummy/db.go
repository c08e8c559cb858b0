package dummydb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/studyboard/studyboard/core/curriculum"
)

type (
	// DB is an in-memory stand-in for the staging and production databases.
	DB struct {
		staging    *stagingTable
		production *productionTable
		flashcards *flashcardTable
		runs       *runTable
		faults     *faults
	}

	stagingTable struct {
		sync.RWMutex
		subjects map[string]curriculum.StagingSubject
		topics   map[string][]curriculum.StagingTopic // {subject_id: topics}
	}

	productionTable struct {
		sync.RWMutex
		boards         map[string]string // {code: id}
		qualifications map[string]string // {code: id}
		subjects       map[string]*curriculum.ProductionSubject
		topics         map[string]*curriculum.ProductionTopic
		writes         []string // topic ids in upsert order
	}

	flashcardTable struct {
		sync.RWMutex
		refs map[string]int // {topic_id: count}
	}

	runTable struct {
		sync.RWMutex
		runs []*curriculum.PromotionRun
	}

	faults struct {
		sync.RWMutex
		errs map[string]error
	}
)

func Open() (*DB, error) {
	db := &DB{
		staging: &stagingTable{
			subjects: make(map[string]curriculum.StagingSubject),
			topics:   make(map[string][]curriculum.StagingTopic),
		},
		production: &productionTable{
			boards:         make(map[string]string),
			qualifications: make(map[string]string),
			subjects:       make(map[string]*curriculum.ProductionSubject),
			topics:         make(map[string]*curriculum.ProductionTopic),
		},
		flashcards: &flashcardTable{refs: make(map[string]int)},
		runs:       &runTable{},
		faults:     &faults{errs: make(map[string]error)},
	}
	return db, nil
}

// FailOn makes op return err. With ids, only calls for those topic or run ids fail.
// A nil err clears the fault.
func (db *DB) FailOn(op string, err error, ids ...string) {
	db.faults.Lock()
	defer db.faults.Unlock()

	keys := []string{op}
	if len(ids) > 0 {
		keys = keys[:0]
		for _, id := range ids {
			keys = append(keys, op+":"+id)
		}
	}
	for _, k := range keys {
		if err == nil {
			delete(db.faults.errs, k)
		} else {
			db.faults.errs[k] = err
		}
	}
}

func (db *DB) fault(op, id string) error {
	db.faults.RLock()
	defer db.faults.RUnlock()

	if err, ok := db.faults.errs[op]; ok {
		return err
	}
	if id != "" {
		return db.faults.errs[op+":"+id]
	}
	return nil
}

// AddExamBoard registers a production exam board and returns its id.
func (db *DB) AddExamBoard(code string) string {
	db.production.Lock()
	defer db.production.Unlock()
	return addCode(db.production.boards, code)
}

// AddQualification registers a production qualification type and returns its id.
func (db *DB) AddQualification(code string) string {
	db.production.Lock()
	defer db.production.Unlock()
	return addCode(db.production.qualifications, code)
}

func addCode(table map[string]string, code string) string {
	code = strings.ToUpper(code)
	if id, ok := table[code]; ok {
		return id
	}
	id := uuid.NewString()
	table[code] = id
	return id
}

// PutStagingSubject stores subject and replaces its topics. A missing subject id is generated.
func (db *DB) PutStagingSubject(subject curriculum.StagingSubject, topics ...curriculum.StagingTopic) curriculum.StagingSubject {
	db.staging.Lock()
	defer db.staging.Unlock()

	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	db.staging.subjects[subject.ID] = subject
	cp := make([]curriculum.StagingTopic, len(topics))
	for i, t := range topics {
		cp[i] = cloneStagingTopic(t)
	}
	db.staging.topics[subject.ID] = cp
	return subject
}

// AddProductionTopic inserts t as is, bypassing every constraint. Used to seed legacy rows.
func (db *DB) AddProductionTopic(t curriculum.ProductionTopic) curriculum.ProductionTopic {
	db.production.Lock()
	defer db.production.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row := cloneTopic(t)
	db.production.topics[t.ID] = &row
	return row
}

// ProductionTopics returns the subject's topics ordered by level, sort order and id.
func (db *DB) ProductionTopics(subjectID string) []curriculum.ProductionTopic {
	db.production.RLock()
	defer db.production.RUnlock()
	return db.production.list(subjectID)
}

// TopicWrites returns the topic ids written by UpsertTopics since the last reset.
func (db *DB) TopicWrites() []string {
	db.production.RLock()
	defer db.production.RUnlock()
	return append([]string(nil), db.production.writes...)
}

func (db *DB) ResetTopicWrites() {
	db.production.Lock()
	defer db.production.Unlock()
	db.production.writes = nil
}

// AddFlashcards records n flashcards referencing topicID.
func (db *DB) AddFlashcards(topicID string, n int) {
	db.flashcards.Lock()
	defer db.flashcards.Unlock()
	db.flashcards.refs[topicID] += n
}

func (t *productionTable) list(subjectID string) []curriculum.ProductionTopic {
	topics := make([]curriculum.ProductionTopic, 0)
	for _, row := range t.topics {
		if row.SubjectID == subjectID {
			topics = append(topics, cloneTopic(*row))
		}
	}
	sortTopics(topics)
	return topics
}

func sortTopics(topics []curriculum.ProductionTopic) {
	sort.Slice(topics, func(i, j int) bool {
		a, b := topics[i], topics[j]
		if a.TopicLevel != b.TopicLevel {
			return a.TopicLevel < b.TopicLevel
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}

func cloneTopic(t curriculum.ProductionTopic) curriculum.ProductionTopic {
	t.TopicCode = cloneStr(t.TopicCode)
	t.ParentTopicID = cloneStr(t.ParentTopicID)
	return t
}

func cloneStagingTopic(t curriculum.StagingTopic) curriculum.StagingTopic {
	t.ParentTopicID = cloneStr(t.ParentTopicID)
	return t
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
