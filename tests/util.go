package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/studyboard/studyboard/core/curriculum"
	dummydb "github.com/studyboard/studyboard/storage/database/dummy"
)

// LogEntry is one message captured by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records messages in memory.
type Logger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

func (l *Logger) add(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Count returns how many messages were logged at level.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.add("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.add("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.add("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.add("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.add("fatal", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Topic builds a staging topic. parent is the parent's staging id or "".
func Topic(id, code string, level int, name, parent string) curriculum.StagingTopic {
	t := curriculum.StagingTopic{ID: id, TopicCode: code, TopicName: name, TopicLevel: level}
	if parent != "" {
		t.ParentTopicID = &parent
	}
	return t
}

// OpenDB returns an in-memory database with the exam board and qualification registered.
func OpenDB(t *testing.T, board, qualification string) *dummydb.DB {
	t.Helper()
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	db.AddExamBoard(board)
	db.AddQualification(qualification)
	return db
}

// Stores wires every curriculum collaborator to db.
func Stores(db *dummydb.DB) curriculum.Stores {
	return curriculum.Stores{
		Staging:    dummydb.NewStagingRepository(db),
		Production: dummydb.NewProductionRepository(db),
		Flashcards: dummydb.NewFlashcardReferences(db),
		Audit:      dummydb.NewAuditLog(db),
	}
}
