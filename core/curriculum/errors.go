package curriculum

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrPromotionInProgress = errors.New("a promotion for this subject is already running")
	ErrRunNotFound         = errors.New("promotion run not found")
	ErrLeaseHeld           = errors.New("lease already held")
)

// Duplicate group keys.
const (
	KeyTopicCode   = "topic_code"
	KeyLevelName   = "topic_level_name"
	KeyParentCycle = "parent_cycle"
)

// DuplicateGroup lists every staging topic code sharing one violated key.
type DuplicateGroup struct {
	Key        string   `json:"key"`
	TopicLevel int      `json:"topic_level"`
	TopicName  string   `json:"topic_name"`
	Codes      []string `json:"codes"`
	IDs        []string `json:"staging_ids,omitempty"`
}

// DuplicateDataError reports staging integrity violations found before any write.
type DuplicateDataError struct {
	Groups []DuplicateGroup
}

func (e *DuplicateDataError) Error() string {
	if len(e.Groups) == 0 {
		return "staging data contains duplicates"
	}
	parts := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		switch g.Key {
		case KeyTopicCode:
			parts = append(parts, fmt.Sprintf("topic_code %q used %d times", g.Codes[0], len(g.IDs)))
		case KeyParentCycle:
			parts = append(parts, fmt.Sprintf("parent cycle through [%s]", strings.Join(g.Codes, ", ")))
		default:
			parts = append(parts, fmt.Sprintf("level %d name %q shared by [%s]", g.TopicLevel, g.TopicName, strings.Join(g.Codes, ", ")))
		}
	}
	return "staging data contains duplicates: " + strings.Join(parts, "; ")
}

// NotFoundError is returned when a staging or production record the promotion needs is absent.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// BlockedTopicError reports a production topic that holds the (level, name) a staging topic is
// renamed to and could not be removed.
type BlockedTopicError struct {
	TopicID    string `json:"topic_id"`
	TopicCode  string `json:"topic_code,omitempty"`
	TopicLevel int    `json:"topic_level"`
	TopicName  string `json:"topic_name"`
	WantedBy   string `json:"wanted_by"` // staging topic code
	Flashcards int    `json:"flashcards,omitempty"`
	Reason     string `json:"reason"`
}

func (e *BlockedTopicError) Error() string {
	return fmt.Sprintf("production topic %s (level %d, name %q) blocks the rename of %q: %s",
		e.TopicID, e.TopicLevel, e.TopicName, e.WantedBy, e.Reason)
}

// PersistenceError wraps a failed store operation. Writes made before it are kept.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var nfErr *NotFoundError
	if errors.As(err, &nfErr) {
		return err
	}
	return errors.WithStack(&PersistenceError{Op: op, Err: err})
}

// BlockedTopicOf returns the blocking topic carried by err, if any.
func BlockedTopicOf(err error) *BlockedTopicError {
	var bErr *BlockedTopicError
	if errors.As(err, &bErr) {
		return bErr
	}
	return nil
}

// DuplicatesOf returns the duplicate groups carried by err, if any.
func DuplicatesOf(err error) []DuplicateGroup {
	var dErr *DuplicateDataError
	if errors.As(err, &dErr) {
		return dErr.Groups
	}
	return nil
}
