package sqlxrepos

import (
	"encoding/json"

	"github.com/volatiletech/null/v8"

	"github.com/studyboard/studyboard/core/curriculum"
)

const topicColumns = "id, exam_board_subject_id, topic_code, topic_name, topic_level, parent_topic_id, sort_order"

type (
	stagingSubjectRow struct {
		ID                 string `db:"id"`
		ExamBoard          string `db:"exam_board"`
		QualificationLevel string `db:"qualification_level"`
		SubjectCode        string `db:"subject_code"`
		SubjectName        string `db:"subject_name"`
	}

	stagingTopicRow struct {
		ID            string      `db:"id"`
		TopicCode     string      `db:"topic_code"`
		TopicName     string      `db:"topic_name"`
		TopicLevel    int         `db:"topic_level"`
		ParentTopicID null.String `db:"parent_topic_id"`
	}

	subjectRow struct {
		ID                  string `db:"id"`
		ExamBoardID         string `db:"exam_board_id"`
		QualificationTypeID string `db:"qualification_type_id"`
		SubjectCode         string `db:"subject_code"`
		SubjectName         string `db:"subject_name"`
	}

	topicRow struct {
		ID            string      `db:"id"`
		SubjectID     string      `db:"exam_board_subject_id"`
		TopicCode     null.String `db:"topic_code"`
		TopicName     string      `db:"topic_name"`
		TopicLevel    int         `db:"topic_level"`
		ParentTopicID null.String `db:"parent_topic_id"`
		SortOrder     int         `db:"sort_order"`
	}

	runRow struct {
		ID                 string      `db:"id"`
		Action             string      `db:"action"`
		Status             string      `db:"status"`
		SubjectCode        string      `db:"subject_code"`
		ExamBoard          string      `db:"exam_board"`
		QualificationLevel string      `db:"qualification_level"`
		RequestedBy        string      `db:"requested_by"`
		StartedAt          null.Time   `db:"started_at"`
		FinishedAt         null.Time   `db:"finished_at"`
		Summary            null.JSON   `db:"summary"`
		ErrorText          null.String `db:"error_text"`
	}
)

func (r stagingTopicRow) model() curriculum.StagingTopic {
	return curriculum.StagingTopic{
		ID:            r.ID,
		TopicCode:     r.TopicCode,
		TopicName:     r.TopicName,
		TopicLevel:    r.TopicLevel,
		ParentTopicID: r.ParentTopicID.Ptr(),
	}
}

func (r topicRow) model() curriculum.ProductionTopic {
	return curriculum.ProductionTopic{
		ID:            r.ID,
		SubjectID:     r.SubjectID,
		TopicCode:     r.TopicCode.Ptr(),
		TopicName:     r.TopicName,
		TopicLevel:    r.TopicLevel,
		ParentTopicID: r.ParentTopicID.Ptr(),
		SortOrder:     r.SortOrder,
	}
}

func topicModels(rows []topicRow) []curriculum.ProductionTopic {
	topics := make([]curriculum.ProductionTopic, len(rows))
	for i, r := range rows {
		topics[i] = r.model()
	}
	return topics
}

func (r runRow) model() curriculum.PromotionRun {
	run := curriculum.PromotionRun{
		ID:                 r.ID,
		Action:             r.Action,
		Status:             curriculum.RunStatus(r.Status),
		SubjectCode:        r.SubjectCode,
		ExamBoard:          r.ExamBoard,
		QualificationLevel: r.QualificationLevel,
		RequestedBy:        r.RequestedBy,
		StartedAt:          r.StartedAt.Time.UTC(),
		FinishedAt:         r.FinishedAt.Ptr(),
		ErrorText:          r.ErrorText.String,
	}
	if r.Summary.Valid {
		run.Summary = json.RawMessage(r.Summary.JSON)
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.UTC()
		run.FinishedAt = &finished
	}
	return run
}
