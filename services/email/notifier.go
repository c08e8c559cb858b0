package emailsvc

import (
	"context"
	"net/mail"
	"time"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

const promotionRunTemplate = "promotion_run"

type runNotifier struct {
	mail core.EmailService
	to   []mail.Address
}

var _ curriculum.Notifier = (*runNotifier)(nil) // interface compliance check

// NewRunNotifier mails every finished promotion run to the configured operators.
// Without operator addresses it sends nothing.
func NewRunNotifier(conf *core.Config, svc core.EmailService) curriculum.Notifier {
	return &runNotifier{mail: svc, to: conf.OperatorAddresses()}
}

type runMailData struct {
	RunID              string
	Status             curriculum.RunStatus
	ExamBoard          string
	QualificationLevel string
	SubjectCode        string
	RequestedBy        string
	StartedAt          string
	FinishedAt         string
	ErrorText          string
	Summary            string
}

func (n *runNotifier) RunFinished(_ context.Context, run curriculum.PromotionRun) {
	if len(n.to) == 0 {
		return
	}

	data := runMailData{
		RunID:              run.ID,
		Status:             run.Status,
		ExamBoard:          run.ExamBoard,
		QualificationLevel: run.QualificationLevel,
		SubjectCode:        run.SubjectCode,
		RequestedBy:        run.RequestedBy,
		StartedAt:          run.StartedAt.Format(time.RFC3339),
		ErrorText:          run.ErrorText,
		Summary:            string(run.Summary),
	}
	if data.RequestedBy == "" {
		data.RequestedBy = "-"
	}
	if run.FinishedAt != nil {
		data.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}

	n.mail.SendMessages(&core.EmailMessage{
		To:           n.to,
		Subject:      "Curriculum promotion " + string(run.Status) + ": " + run.ExamBoard + " " + run.QualificationLevel + " " + run.SubjectCode,
		TemplateName: promotionRunTemplate,
		TemplateData: data,
	})
}
