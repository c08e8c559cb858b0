package curriculum

import (
	"encoding/json"
	"time"

	"github.com/studyboard/studyboard/core"
)

// RunStatus is the lifecycle state of a PromotionRun.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ActionPromote is the PromotionRun.Action recorded by Service.Promote.
const ActionPromote = "promote_subject"

type StagingSubject struct {
	ID                 string `json:"id"`
	ExamBoard          string `json:"exam_board"`
	QualificationLevel string `json:"qualification_level"`
	SubjectCode        string `json:"subject_code"`
	SubjectName        string `json:"subject_name"`
}

type StagingTopic struct {
	ID            string  `json:"id"`
	TopicCode     string  `json:"topic_code"`
	TopicName     string  `json:"topic_name"`
	TopicLevel    int     `json:"topic_level"`
	ParentTopicID *string `json:"parent_topic_id"`
}

type ProductionSubject struct {
	ID                  string `json:"id"`
	ExamBoardID         string `json:"exam_board_id"`
	QualificationTypeID string `json:"qualification_type_id"`
	SubjectCode         string `json:"subject_code"`
	SubjectName         string `json:"subject_name"`
}

type ProductionTopic struct {
	ID            string  `json:"id"`
	SubjectID     string  `json:"subject_id"`
	TopicCode     *string `json:"topic_code"`
	TopicName     string  `json:"topic_name"`
	TopicLevel    int     `json:"topic_level"`
	ParentTopicID *string `json:"parent_topic_id"`
	SortOrder     int     `json:"sort_order"`
}

// Code returns the topic code or "" when the row has none.
func (t ProductionTopic) Code() string {
	if t.TopicCode == nil {
		return ""
	}
	return *t.TopicCode
}

// ParentLink sets TopicID's parent to ParentID.
type ParentLink struct {
	TopicID  string
	ParentID string
}

type PromotionRun struct {
	ID                 string          `json:"id"`
	Action             string          `json:"action"`
	Status             RunStatus       `json:"status"`
	SubjectCode        string          `json:"subject_code"`
	ExamBoard          string          `json:"exam_board"`
	QualificationLevel string          `json:"qualification_level"`
	RequestedBy        string          `json:"requested_by"`
	StartedAt          time.Time       `json:"started_at"` // UTC
	FinishedAt         *time.Time      `json:"finished_at"`
	Summary            json.RawMessage `json:"summary,omitempty"`
	ErrorText          string          `json:"error_text,omitempty"`
}

// PromoteRequest asks for one subject's staging taxonomy to be promoted to production.
type PromoteRequest struct {
	ExamBoardCode     string `json:"exam_board_code" validate:"required,notblank,code"`
	QualificationCode string `json:"qualification_code" validate:"required,notblank,code"`
	SubjectCode       string `json:"subject_code" validate:"required,notblank,code"`
	// nil means true
	CleanupUnreferencedRemovedTopics *bool  `json:"cleanup_unreferenced_removed_topics"`
	RequestedBy                      string `json:"requested_by" validate:"omitempty,max=254"`
}

func (r *PromoteRequest) clean() {
	r.ExamBoardCode = core.CleanCode(r.ExamBoardCode)
	r.QualificationCode = core.CleanCode(r.QualificationCode)
	r.SubjectCode = core.CleanCode(r.SubjectCode)
	r.RequestedBy = core.CleanString(r.RequestedBy, true /* lower */)
}

func (r PromoteRequest) cleanupEnabled() bool {
	return r.CleanupUnreferencedRemovedTopics == nil || *r.CleanupUnreferencedRemovedTopics
}

type CleanupWarning struct {
	TopicID   string `json:"topic_id"`
	TopicCode string `json:"topic_code,omitempty"`
	Reason    string `json:"reason"`
}

type CleanupResult struct {
	DeletedRemoved  int              `json:"deleted_removed"`
	DeletedBlocking int              `json:"deleted_blocking"` // removed topics deleted before the writes to free a name
	KeptRemoved     int              `json:"kept_removed"`
	Warnings        []CleanupWarning `json:"warnings,omitempty"`
}

type PromoteResult struct {
	RunID                     string        `json:"run_id"`
	ProductionSubjectID       string        `json:"production_subject_id"`
	StagingSubjectID          string        `json:"staging_subject_id"`
	StagingTopicCount         int           `json:"staging_topic_count"`
	ProductionTopicCountAfter int           `json:"production_topic_count_after"`
	ParentLinksUpdated        int           `json:"parent_links_updated"`
	Inserted                  int           `json:"inserted"`
	Updated                   int           `json:"updated"`
	Cleanup                   CleanupResult `json:"cleanup"`
	Note                      string        `json:"note"`
}

// promoteNote reminds operators that promotion leaves search embeddings untouched.
const promoteNote = "Topic embeddings are not regenerated by promotion; trigger embedding regeneration for this subject separately."
