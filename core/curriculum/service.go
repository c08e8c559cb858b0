package curriculum

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/studyboard/studyboard/core"
)

const (
	defaultBatchSize = 100
	defaultLeaseTTL  = 15 * time.Minute
)

type (
	StagingRepository interface {
		// FindSubject returns a *NotFoundError when the subject does not exist.
		FindSubject(ctx context.Context, board, qualification, code string) (StagingSubject, error)
		ListTopics(ctx context.Context, subjectID string) ([]StagingTopic, error)
	}

	ProductionRepository interface {
		// ResolveExamBoard and ResolveQualification return a *NotFoundError for unknown codes.
		ResolveExamBoard(ctx context.Context, code string) (string, error)
		ResolveQualification(ctx context.Context, code string) (string, error)
		// UpsertSubject writes through (exam_board_id, qualification_type_id, subject_code)
		// and returns the stored subject with its stable id.
		UpsertSubject(ctx context.Context, subject ProductionSubject) (ProductionSubject, error)
		ListTopics(ctx context.Context, subjectID string) ([]ProductionTopic, error)
		// FindTopicsByNaturalKey returns the subject's topics at level whose raw name is one of names.
		FindTopicsByNaturalKey(ctx context.Context, subjectID string, level int, names []string) ([]ProductionTopic, error)
		UpsertTopics(ctx context.Context, rows []ProductionTopic, key ConflictKey) ([]ProductionTopic, error)
		SetTopicParents(ctx context.Context, links []ParentLink) (int, error)
		DeleteTopic(ctx context.Context, id string) error
	}

	FlashcardReferences interface {
		CountByTopic(ctx context.Context, topicID string) (int, error)
	}

	AuditLog interface {
		OpenRun(ctx context.Context, run PromotionRun) (string, error)
		CloseRun(ctx context.Context, id string, status RunStatus, summary json.RawMessage, errText string) error
		// ListRuns returns the latest runs first.
		ListRuns(ctx context.Context, limit int) ([]PromotionRun, error)
		// GetRun returns ErrRunNotFound for unknown ids.
		GetRun(ctx context.Context, id string) (PromotionRun, error)
	}

	// Leaser hands out exclusive, expiring leases. Acquire returns ErrLeaseHeld when key is taken.
	Leaser interface {
		Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
	}

	// Notifier is told about every finished run. Delivery is best effort.
	Notifier interface {
		RunFinished(ctx context.Context, run PromotionRun)
	}

	// Stores groups the persistence collaborators of a Service.
	Stores struct {
		Staging    StagingRepository
		Production ProductionRepository
		Flashcards FlashcardReferences
		Audit      AuditLog
	}

	Service struct {
		stores   Stores
		leaser   Leaser
		notifier Notifier
		log      core.Logger
		conf     core.CurriculumConfig
		now      func() time.Time
	}
)

func NewService(conf core.CurriculumConfig, stores Stores, leaser Leaser, notifier Notifier, log core.Logger) *Service {
	if conf.BatchSize <= 0 {
		conf.BatchSize = defaultBatchSize
	}
	if conf.LeaseTTL <= 0 {
		conf.LeaseTTL = defaultLeaseTTL
	}
	return &Service{
		stores:   stores,
		leaser:   leaser,
		notifier: notifier,
		log:      log,
		conf:     conf,
		now:      time.Now,
	}
}

func (svc *Service) validate(req *PromoteRequest) error {
	req.clean()
	if err := core.Validate.Struct(req); err != nil {
		return err
	}

	var fields []core.FieldError
	if !inCatalog(svc.conf.ExamBoards, req.ExamBoardCode) {
		fields = append(fields, core.FieldError{Field: "exam_board_code", Error: "unknown exam board"})
	}
	if !inCatalog(svc.conf.Qualifications, req.QualificationCode) {
		fields = append(fields, core.FieldError{Field: "qualification_code", Error: "unknown qualification"})
	}
	if len(fields) > 0 {
		return core.NewValidationError(errors.New("invalid promotion request"), fields...)
	}
	return nil
}

// inCatalog reports whether code is listed. An empty catalog accepts every code.
func inCatalog(catalog []string, code string) bool {
	if len(catalog) == 0 {
		return true
	}
	for _, c := range catalog {
		if core.CleanCode(c) == code {
			return true
		}
	}
	return false
}

func leaseKey(req PromoteRequest) string {
	return "curriculum:promote:" + req.ExamBoardCode + ":" + req.QualificationCode + ":" + req.SubjectCode
}

// Promote reconciles one staging subject into production.
// Validation errors are returned before any store access and leave no run behind; every
// later failure closes the run as error. Writes made before a failure are kept.
func (svc *Service) Promote(ctx context.Context, req PromoteRequest) (res PromoteResult, err error) {
	if err := svc.validate(&req); err != nil {
		return PromoteResult{}, err
	}

	ctx, span := startSpan(ctx, "Promote",
		attribute.String("exam_board", req.ExamBoardCode),
		attribute.String("qualification", req.QualificationCode),
		attribute.String("subject_code", req.SubjectCode),
	)
	defer func() { endSpan(span, err) }()

	release, err := svc.leaser.Acquire(ctx, leaseKey(req), svc.conf.LeaseTTL)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			return PromoteResult{}, ErrPromotionInProgress
		}
		return PromoteResult{}, errors.Wrap(err, "acquire promotion lease")
	}
	defer func() {
		if rErr := release(context.WithoutCancel(ctx)); rErr != nil {
			svc.log.Warn("curriculum: release promotion lease", rErr, map[string]interface{}{"key": leaseKey(req)})
		}
	}()

	auditor := &runAuditor{audit: svc.stores.Audit, log: svc.log, now: svc.now}
	run, err := auditor.open(ctx, req)
	if err != nil {
		return PromoteResult{}, err
	}
	started := svc.now()

	res, err = svc.promote(ctx, req)
	res.RunID = run.ID
	if err != nil {
		auditor.fail(ctx, &run, err)
		svc.log.Error("curriculum: promotion failed", err, map[string]interface{}{
			"run_id":       run.ID,
			"subject_code": req.SubjectCode,
		})
	} else {
		auditor.succeed(ctx, &run, res)
		svc.log.Info("curriculum: promotion finished", map[string]interface{}{
			"run_id":                       run.ID,
			"subject_code":                 req.SubjectCode,
			"inserted":                     res.Inserted,
			"updated":                      res.Updated,
			"production_topic_count_after": res.ProductionTopicCountAfter,
		})
	}
	recordRun(run.Status, svc.now().Sub(started).Seconds())

	if svc.notifier != nil {
		svc.notifier.RunFinished(context.WithoutCancel(ctx), run)
	}
	if err != nil {
		return PromoteResult{RunID: run.ID}, err
	}
	return res, nil
}

func (svc *Service) promote(ctx context.Context, req PromoteRequest) (PromoteResult, error) {
	stagingSubject, err := svc.stores.Staging.FindSubject(ctx, req.ExamBoardCode, req.QualificationCode, req.SubjectCode)
	if err != nil {
		return PromoteResult{}, persistenceErr("find staging subject", err)
	}
	stagingTopics, err := svc.stores.Staging.ListTopics(ctx, stagingSubject.ID)
	if err != nil {
		return PromoteResult{}, persistenceErr("list staging topics", err)
	}

	if err := svc.guard(ctx, stagingTopics); err != nil {
		return PromoteResult{}, err
	}

	subject, err := svc.productionSubject(ctx, req, stagingSubject)
	if err != nil {
		return PromoteResult{}, err
	}

	rctx, span := startSpan(ctx, "reconcile", attribute.Int("staging_topic_count", len(stagingTopics)))
	rc := &rowReconciler{
		prod:           svc.stores.Production,
		refs:           svc.stores.Flashcards,
		batchSize:      svc.conf.BatchSize,
		deleteBlockers: req.cleanupEnabled(),
		log:            svc.log,
	}
	rec, err := rc.reconcile(rctx, subject.ID, stagingTopics)
	endSpan(span, err)
	if err != nil {
		return PromoteResult{}, err
	}

	pctx, span := startSpan(ctx, "rebuildParents")
	pb := &parentLinkRebuilder{prod: svc.stores.Production, batchSize: svc.conf.BatchSize}
	links, err := pb.rebuild(pctx, stagingTopics, rec.codeToID)
	endSpan(span, err)
	if err != nil {
		return PromoteResult{}, err
	}

	var cleanup CleanupResult
	if req.cleanupEnabled() {
		cctx, span := startSpan(ctx, "cleanup")
		cp := &cleanupPlanner{prod: svc.stores.Production, refs: svc.stores.Flashcards, log: svc.log}
		cleanup = cp.run(cctx, rec.topics, rec.live)
		cleanup.DeletedBlocking = rec.cleared
		endSpan(span, nil)
	}

	return PromoteResult{
		ProductionSubjectID:       subject.ID,
		StagingSubjectID:          stagingSubject.ID,
		StagingTopicCount:         len(stagingTopics),
		ProductionTopicCountAfter: len(rec.topics) - cleanup.DeletedRemoved,
		ParentLinksUpdated:        links,
		Inserted:                  rec.inserted,
		Updated:                   rec.updated,
		Cleanup:                   cleanup,
		Note:                      promoteNote,
	}, nil
}

func (svc *Service) guard(ctx context.Context, topics []StagingTopic) error {
	_, span := startSpan(ctx, "guard")
	err := checkStagingIntegrity(topics)
	endSpan(span, err)
	return err
}

func (svc *Service) productionSubject(ctx context.Context, req PromoteRequest, staging StagingSubject) (ProductionSubject, error) {
	boardID, err := svc.stores.Production.ResolveExamBoard(ctx, req.ExamBoardCode)
	if err != nil {
		return ProductionSubject{}, persistenceErr("resolve exam board", err)
	}
	qualificationID, err := svc.stores.Production.ResolveQualification(ctx, req.QualificationCode)
	if err != nil {
		return ProductionSubject{}, persistenceErr("resolve qualification", err)
	}
	subject, err := svc.stores.Production.UpsertSubject(ctx, ProductionSubject{
		ExamBoardID:         boardID,
		QualificationTypeID: qualificationID,
		SubjectCode:         req.SubjectCode,
		SubjectName:         staging.SubjectName,
	})
	if err != nil {
		return ProductionSubject{}, persistenceErr("upsert production subject", err)
	}
	return subject, nil
}

// ListRuns returns the latest promotion runs, newest first.
func (svc *Service) ListRuns(ctx context.Context, limit int) ([]PromotionRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	runs, err := svc.stores.Audit.ListRuns(ctx, limit)
	if err != nil {
		return nil, persistenceErr("list promotion runs", err)
	}
	return runs, nil
}

func (svc *Service) GetRun(ctx context.Context, id string) (PromotionRun, error) {
	run, err := svc.stores.Audit.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return PromotionRun{}, err
		}
		return PromotionRun{}, persistenceErr("get promotion run", err)
	}
	return run, nil
}
