package curriculum_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
	leasesvc "github.com/studyboard/studyboard/services/lease"
	dummydb "github.com/studyboard/studyboard/storage/database/dummy"
	testutil "github.com/studyboard/studyboard/tests"
)

const (
	board         = "AQA"
	qualification = "GCSE"
)

type recordingNotifier struct {
	mu   sync.Mutex
	runs []curriculum.PromotionRun
}

func (n *recordingNotifier) RunFinished(_ context.Context, run curriculum.PromotionRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

type fixture struct {
	db       *dummydb.DB
	svc      *curriculum.Service
	log      *testutil.Logger
	leaser   *leasesvc.LocalLeaser
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       testutil.OpenDB(t, board, qualification),
		log:      &testutil.Logger{},
		leaser:   leasesvc.NewLocalLeaser(),
		notifier: &recordingNotifier{},
	}
	conf := core.CurriculumConfig{BatchSize: 2, ExamBoards: []string{board, "OCR"}, Qualifications: []string{qualification}}
	f.svc = curriculum.NewService(conf, testutil.Stores(f.db), f.leaser, f.notifier, f.log)
	return f
}

func (f *fixture) stage(code string, topics ...curriculum.StagingTopic) curriculum.StagingSubject {
	return f.db.PutStagingSubject(curriculum.StagingSubject{
		ID:                 "staging-" + code,
		ExamBoard:          board,
		QualificationLevel: qualification,
		SubjectCode:        code,
		SubjectName:        "Subject " + code,
	}, topics...)
}

func (f *fixture) runs(t *testing.T) []curriculum.PromotionRun {
	t.Helper()
	runs, err := f.svc.ListRuns(context.Background(), 100)
	require.NoError(t, err)
	return runs
}

func request(code string) curriculum.PromoteRequest {
	return curriculum.PromoteRequest{
		ExamBoardCode:     board,
		QualificationCode: qualification,
		SubjectCode:       code,
		RequestedBy:       "Ops@Example.com",
	}
}

func byCode(topics []curriculum.ProductionTopic) map[string]curriculum.ProductionTopic {
	m := make(map[string]curriculum.ProductionTopic, len(topics))
	for _, t := range topics {
		m[t.Code()] = t
	}
	return m
}

func boolPtr(b bool) *bool { return &b }

func assertWrittenOnce(t *testing.T, ids []string) {
	t.Helper()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("production topic %s written twice in one run", id)
		}
		seen[id] = true
	}
}

func TestService_Promote_NewSubject(t *testing.T) {
	f := newFixture(t)
	f.stage("9PE1",
		testutil.Topic("s1", "1.1", 0, "Fitness", ""),
		testutil.Topic("s2", "1.1.1", 1, "Components", "s1"),
	)

	res, err := f.svc.Promote(context.Background(), request("9pe1"))
	require.NoError(t, err)

	assert.Equal(t, "staging-9PE1", res.StagingSubjectID)
	assert.NotEmpty(t, res.ProductionSubjectID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.StagingTopicCount)
	assert.Equal(t, 2, res.ProductionTopicCountAfter)
	assert.Equal(t, 1, res.ParentLinksUpdated)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Cleanup.DeletedRemoved)
	assert.Equal(t, 0, res.Cleanup.KeptRemoved)
	assert.NotEmpty(t, res.Note)

	topics := byCode(f.db.ProductionTopics(res.ProductionSubjectID))
	require.Len(t, topics, 2)
	assert.Nil(t, topics["1.1"].ParentTopicID)
	require.NotNil(t, topics["1.1.1"].ParentTopicID)
	assert.Equal(t, topics["1.1"].ID, *topics["1.1.1"].ParentTopicID)
	assert.Equal(t, 0, topics["1.1"].SortOrder)
	assert.Equal(t, 1, topics["1.1.1"].SortOrder)

	runs := f.runs(t)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, curriculum.RunSuccess, run.Status)
	assert.Equal(t, curriculum.ActionPromote, run.Action)
	assert.Equal(t, "9PE1", run.SubjectCode)
	assert.Equal(t, "ops@example.com", run.RequestedBy)
	assert.NotNil(t, run.FinishedAt)

	var summary curriculum.PromoteResult
	require.NoError(t, json.Unmarshal(run.Summary, &summary))
	assert.Equal(t, res, summary)

	require.Len(t, f.notifier.runs, 1)
	assert.Equal(t, curriculum.RunSuccess, f.notifier.runs[0].Status)
}

func TestService_Promote_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.stage("9PE1",
		testutil.Topic("s1", "1.1", 0, "Fitness", ""),
		testutil.Topic("s2", "1.1.1", 1, "Components", "s1"),
		testutil.Topic("s3", "1.1.2", 1, "Warm up", "s1"),
	)
	ctx := context.Background()

	first, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	before := f.db.ProductionTopics(first.ProductionSubjectID)

	f.db.ResetTopicWrites()
	second, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	assertWrittenOnce(t, f.db.TopicWrites())

	assert.Equal(t, first.ProductionSubjectID, second.ProductionSubjectID)
	assert.Equal(t, first.ProductionTopicCountAfter, second.ProductionTopicCountAfter)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Updated)
	assert.Equal(t, first.ParentLinksUpdated, second.ParentLinksUpdated)
	assert.Equal(t, before, f.db.ProductionTopics(second.ProductionSubjectID))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestService_Promote_RenameKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage("9PE1",
		testutil.Topic("s1", "1.1", 0, "Fitness", ""),
		testutil.Topic("s2", "1.1.1", 1, "Components", "s1"),
	)
	first, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	before := byCode(f.db.ProductionTopics(first.ProductionSubjectID))

	// staging ids are not stable between uploads
	f.stage("9PE1",
		testutil.Topic("n1", "1.1", 0, "Fitness", ""),
		testutil.Topic("n2", "1.1.1", 1, "Components of Fitness", "n1"),
	)
	second, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)

	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.ParentLinksUpdated)
	assert.Equal(t, 2, second.ProductionTopicCountAfter)

	after := byCode(f.db.ProductionTopics(second.ProductionSubjectID))
	require.Len(t, after, 2)
	assert.Equal(t, before["1.1"].ID, after["1.1"].ID)
	assert.Equal(t, before["1.1.1"].ID, after["1.1.1"].ID)
	assert.Equal(t, "Components of Fitness", after["1.1.1"].TopicName)
	assert.Equal(t, "Fitness", after["1.1"].TopicName)
	assert.Equal(t, after["1.1"].ID, *after["1.1.1"].ParentTopicID)
}

func TestService_Promote_CodeOwnerKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage("9PE1", testutil.Topic("s1", "X", 0, "Foo", ""))
	first, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	before := byCode(f.db.ProductionTopics(first.ProductionSubjectID))
	f.db.AddFlashcards(before["X"].ID, 4)

	// X is renamed and a new topic A takes its old name; A sorts before X
	f.stage("9PE1",
		testutil.Topic("n1", "X", 0, "Bar", ""),
		testutil.Topic("n2", "A", 0, "Foo", ""),
	)
	second, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, second.Inserted)

	after := byCode(f.db.ProductionTopics(second.ProductionSubjectID))
	require.Len(t, after, 2)
	assert.Equal(t, before["X"].ID, after["X"].ID)
	assert.Equal(t, "Bar", after["X"].TopicName)
	assert.NotEqual(t, before["X"].ID, after["A"].ID)
	assert.Equal(t, "Foo", after["A"].TopicName)
}

func TestService_Promote_RenameOntoRemovedTopic(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*fixture, map[string]curriculum.ProductionTopic) {
		f := newFixture(t)
		f.stage("9PE1",
			testutil.Topic("s1", "X", 0, "Bar", ""),
			testutil.Topic("s2", "Z", 0, "Foo", ""),
		)
		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		topics := byCode(f.db.ProductionTopics(res.ProductionSubjectID))

		// Z leaves staging and X takes its name
		f.stage("9PE1", testutil.Topic("s1", "X", 0, "Foo", ""))
		return f, topics
	}

	t.Run("unreferenced blocker is deleted", func(t *testing.T) {
		f, topics := setup(t)

		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Cleanup.DeletedBlocking)
		assert.Equal(t, 0, res.Cleanup.DeletedRemoved)
		assert.Equal(t, 1, res.ProductionTopicCountAfter)

		after := byCode(f.db.ProductionTopics(res.ProductionSubjectID))
		require.Len(t, after, 1)
		assert.Equal(t, topics["X"].ID, after["X"].ID)
		assert.Equal(t, "Foo", after["X"].TopicName)

		// a re-run is a no-op
		res, err = f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cleanup.DeletedBlocking)
	})

	tests := []struct {
		name       string
		prepare    func(f *fixture, topics map[string]curriculum.ProductionTopic) curriculum.PromoteRequest
		flashcards int
		reason     string
	}{
		{
			name: "referenced blocker",
			prepare: func(f *fixture, topics map[string]curriculum.ProductionTopic) curriculum.PromoteRequest {
				f.db.AddFlashcards(topics["Z"].ID, 2)
				return request("9PE1")
			},
			flashcards: 2,
			reason:     "referenced by 2 flashcards",
		},
		{
			name: "cleanup disabled",
			prepare: func(f *fixture, _ map[string]curriculum.ProductionTopic) curriculum.PromoteRequest {
				req := request("9PE1")
				req.CleanupUnreferencedRemovedTopics = boolPtr(false)
				return req
			},
			reason: "disabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, topics := setup(t)
			req := tt.prepare(f, topics)

			res, err := f.svc.Promote(ctx, req)
			require.Error(t, err)

			var bErr *curriculum.BlockedTopicError
			require.ErrorAs(t, err, &bErr)
			assert.Equal(t, topics["Z"].ID, bErr.TopicID)
			assert.Equal(t, "Z", bErr.TopicCode)
			assert.Equal(t, "Foo", bErr.TopicName)
			assert.Equal(t, "X", bErr.WantedBy)
			assert.Equal(t, tt.flashcards, bErr.Flashcards)
			assert.Contains(t, bErr.Reason, tt.reason)

			after := byCode(f.db.ProductionTopics(topics["X"].SubjectID))
			assert.Equal(t, "Bar", after["X"].TopicName, "nothing written")
			assert.Contains(t, after, "Z")

			run, err := f.svc.GetRun(ctx, res.RunID)
			require.NoError(t, err)
			assert.Equal(t, curriculum.RunError, run.Status)
			var summary struct {
				Blocked *curriculum.BlockedTopicError `json:"blocked"`
			}
			require.NoError(t, json.Unmarshal(run.Summary, &summary))
			assert.Equal(t, bErr, summary.Blocked)
		})
	}
}

func TestService_Promote_NameSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage("9PE1",
		testutil.Topic("s1", "X", 0, "Foo", ""),
		testutil.Topic("s2", "Y", 0, "Bar", ""),
	)
	first, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	before := byCode(f.db.ProductionTopics(first.ProductionSubjectID))

	f.stage("9PE1",
		testutil.Topic("s1", "X", 0, "Bar", ""),
		testutil.Topic("s2", "Y", 0, "Foo", ""),
	)
	second, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Cleanup.DeletedBlocking)

	after := byCode(f.db.ProductionTopics(second.ProductionSubjectID))
	require.Len(t, after, 2)
	assert.Equal(t, before["X"].ID, after["X"].ID)
	assert.Equal(t, before["Y"].ID, after["Y"].ID)
	assert.Equal(t, "Bar", after["X"].TopicName)
	assert.Equal(t, "Foo", after["Y"].TopicName)
}

func TestService_Promote_LegacyCodeSharerIsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
	res, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	current := byCode(f.db.ProductionTopics(res.ProductionSubjectID))["1.1"]

	code := "1.1"
	legacy := f.db.AddProductionTopic(curriculum.ProductionTopic{
		SubjectID:  res.ProductionSubjectID,
		TopicCode:  &code,
		TopicName:  "Old fitness",
		TopicLevel: 0,
		SortOrder:  5,
	})

	res, err = f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleanup.DeletedRemoved)
	assert.Equal(t, 1, res.ProductionTopicCountAfter)

	topics := f.db.ProductionTopics(res.ProductionSubjectID)
	require.Len(t, topics, 1)
	assert.Equal(t, current.ID, topics[0].ID)
	assert.NotEqual(t, legacy.ID, topics[0].ID)
}

func TestService_Promote_ParentRewiring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage("8035",
		testutil.Topic("r", "1", 0, "Root", ""),
		testutil.Topic("c", "1.1", 1, "Child", "r"),
		testutil.Topic("g", "1.1.1", 2, "Grandchild", "c"),
		testutil.Topic("o", "2", 0, "Other root", ""),
	)
	res, err := f.svc.Promote(ctx, request("8035"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ParentLinksUpdated)

	topics := byCode(f.db.ProductionTopics(res.ProductionSubjectID))
	assert.Equal(t, topics["1"].ID, *topics["1.1"].ParentTopicID)
	assert.Equal(t, topics["1.1"].ID, *topics["1.1.1"].ParentTopicID)
	assert.Nil(t, topics["1"].ParentTopicID)
	assert.Nil(t, topics["2"].ParentTopicID)

	// move the child under the other root and make the grandchild a root
	f.stage("8035",
		testutil.Topic("r", "1", 0, "Root", ""),
		testutil.Topic("c", "1.1", 1, "Child", "o"),
		testutil.Topic("g", "1.1.1", 2, "Grandchild", ""),
		testutil.Topic("o", "2", 0, "Other root", ""),
	)
	res, err = f.svc.Promote(ctx, request("8035"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ParentLinksUpdated)

	moved := byCode(f.db.ProductionTopics(res.ProductionSubjectID))
	assert.Equal(t, topics["2"].ID, *moved["1.1"].ParentTopicID)
	assert.Nil(t, moved["1.1.1"].ParentTopicID)
	assert.Equal(t, topics["1.1.1"].ID, moved["1.1.1"].ID)
}

func TestService_Promote_DuplicateStagingData(t *testing.T) {
	f := newFixture(t)
	f.stage("9PE1",
		testutil.Topic("s1", "A", 1, "X", ""),
		testutil.Topic("s2", "B", 1, "X", ""),
	)

	res, err := f.svc.Promote(context.Background(), request("9PE1"))
	require.Error(t, err)

	var dErr *curriculum.DuplicateDataError
	require.ErrorAs(t, err, &dErr)
	require.Len(t, dErr.Groups, 1)
	g := dErr.Groups[0]
	assert.Equal(t, 1, g.TopicLevel)
	assert.Equal(t, "X", g.TopicName)
	assert.Equal(t, []string{"A", "B"}, g.Codes)

	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, f.db.TopicWrites(), "no topic may be written")

	runs := f.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, curriculum.RunError, runs[0].Status)
	assert.Contains(t, runs[0].ErrorText, "duplicates")

	var summary struct {
		Error      string                      `json:"error"`
		Duplicates []curriculum.DuplicateGroup `json:"duplicates"`
	}
	require.NoError(t, json.Unmarshal(runs[0].Summary, &summary))
	assert.Equal(t, dErr.Groups, summary.Duplicates)
}

func TestService_Promote_Cleanup(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*fixture, map[string]curriculum.ProductionTopic) {
		f := newFixture(t)
		f.stage("9PE1",
			testutil.Topic("s1", "1.1", 0, "Fitness", ""),
			testutil.Topic("s2", "1.2", 0, "Nutrition", ""),
			testutil.Topic("s3", "1.2.1", 1, "Diet", "s2"),
		)
		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		topics := byCode(f.db.ProductionTopics(res.ProductionSubjectID))

		// 1.2 and its child disappear from staging; 1.2 has flashcards
		f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
		f.db.AddFlashcards(topics["1.2"].ID, 3)
		return f, topics
	}

	t.Run("referenced topics survive", func(t *testing.T) {
		f, topics := setup(t)

		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Cleanup.DeletedRemoved)
		assert.Equal(t, 1, res.Cleanup.KeptRemoved)
		assert.Empty(t, res.Cleanup.Warnings)
		assert.Equal(t, 2, res.ProductionTopicCountAfter)

		after := byCode(f.db.ProductionTopics(res.ProductionSubjectID))
		assert.Contains(t, after, "1.2")
		assert.NotContains(t, after, "1.2.1")
		assert.Equal(t, topics["1.2"].ID, after["1.2"].ID)
	})

	t.Run("disabled", func(t *testing.T) {
		f, _ := setup(t)

		req := request("9PE1")
		req.CleanupUnreferencedRemovedTopics = boolPtr(false)
		res, err := f.svc.Promote(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, curriculum.CleanupResult{}, res.Cleanup)
		assert.Equal(t, 3, res.ProductionTopicCountAfter)
		assert.Len(t, f.db.ProductionTopics(res.ProductionSubjectID), 3)
	})

	t.Run("failures keep the topic and warn", func(t *testing.T) {
		f, topics := setup(t)
		f.db.FailOn("DeleteTopic", errors.New("lock timeout"), topics["1.2.1"].ID)

		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cleanup.DeletedRemoved)
		assert.Equal(t, 2, res.Cleanup.KeptRemoved)
		require.Len(t, res.Cleanup.Warnings, 1)
		assert.Equal(t, topics["1.2.1"].ID, res.Cleanup.Warnings[0].TopicID)
		assert.Equal(t, "1.2.1", res.Cleanup.Warnings[0].TopicCode)
		assert.Contains(t, res.Cleanup.Warnings[0].Reason, "lock timeout")
		assert.Equal(t, 1, f.log.Count("warn"))

		runs := f.runs(t)
		assert.Equal(t, curriculum.RunSuccess, runs[0].Status)
	})

	t.Run("reference check failure keeps the topic", func(t *testing.T) {
		f, topics := setup(t)
		f.db.FailOn("CountByTopic", errors.New("replica down"))

		res, err := f.svc.Promote(ctx, request("9PE1"))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cleanup.DeletedRemoved)
		assert.Equal(t, 2, res.Cleanup.KeptRemoved)
		assert.Len(t, res.Cleanup.Warnings, 2)
		assert.Len(t, f.db.ProductionTopics(res.ProductionSubjectID), 3)
		assert.Equal(t, topics["1.2.1"].ID, res.Cleanup.Warnings[0].TopicID, "deepest first")
	})
}

func TestService_Promote_LegacyBulletRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// first promotion creates the subject; legacy rows are then seeded under it
	f.stage("9PE1", testutil.Topic("s0", "0", 0, "Fitness", ""))
	res, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	subjectID := res.ProductionSubjectID

	l1 := f.db.AddProductionTopic(curriculum.ProductionTopic{SubjectID: subjectID, TopicName: "• X", TopicLevel: 1, SortOrder: 0})
	l2 := f.db.AddProductionTopic(curriculum.ProductionTopic{SubjectID: subjectID, TopicName: "● X", TopicLevel: 1, SortOrder: 1})

	f.stage("9PE1",
		testutil.Topic("s0", "0", 0, "Fitness", ""),
		testutil.Topic("s1", "a", 1, "• X", "s0"),
		testutil.Topic("s2", "b", 1, "● X", "s0"),
	)
	f.db.ResetTopicWrites()
	res, err = f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)
	assertWrittenOnce(t, f.db.TopicWrites())

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 2, res.ParentLinksUpdated)

	after := byCode(f.db.ProductionTopics(subjectID))
	assert.Equal(t, l1.ID, after["a"].ID, "matched through the name index")
	assert.Equal(t, l2.ID, after["b"].ID, "matched through the natural key probe")
}

func TestService_Promote_RandomBulletCollisions(t *testing.T) {
	spellings := []string{"• ", "● ", "� ", "â€¢ ", "- ", ""}
	ctx := context.Background()

	for seed := int64(1); seed <= 10; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rnd := rand.New(rand.NewSource(seed))
			f := newFixture(t)

			f.stage("R1", testutil.Topic("root", "root", 0, "Root", ""))
			res, err := f.svc.Promote(ctx, request("R1"))
			require.NoError(t, err)
			subjectID := res.ProductionSubjectID

			topics := []curriculum.StagingTopic{testutil.Topic("root", "root", 0, "Root", "")}
			for b := 0; b < 6; b++ {
				base := fmt.Sprintf("Topic %d", b)
				// one legacy row per base name, in a random spelling and without a code
				f.db.AddProductionTopic(curriculum.ProductionTopic{
					SubjectID:  subjectID,
					TopicName:  spellings[rnd.Intn(len(spellings))] + base,
					TopicLevel: 1,
					SortOrder:  b,
				})
				// one to three staging spellings of the same base name
				perm := rnd.Perm(len(spellings))[:1+rnd.Intn(3)]
				for i, p := range perm {
					id := fmt.Sprintf("s%d_%d", b, i)
					topics = append(topics, testutil.Topic(id, fmt.Sprintf("%d.%d", b, i), 1, spellings[p]+base, "root"))
				}
			}
			f.stage("R1", topics...)

			f.db.ResetTopicWrites()
			res, err = f.svc.Promote(ctx, request("R1"))
			require.NoError(t, err)
			assertWrittenOnce(t, f.db.TopicWrites())

			assert.Equal(t, len(topics), res.ProductionTopicCountAfter)
			assert.Equal(t, 0, res.Cleanup.DeletedRemoved, "every legacy row is claimed")
			assert.Equal(t, len(topics)-1, res.ParentLinksUpdated)

			ids := make(map[string]bool)
			for _, pt := range f.db.ProductionTopics(subjectID) {
				assert.False(t, ids[pt.ID])
				ids[pt.ID] = true
			}
		})
	}
}

func TestService_Promote_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  curriculum.PromoteRequest
		want func(t *testing.T, err error)
	}{
		{
			name: "missing subject code",
			req:  curriculum.PromoteRequest{ExamBoardCode: board, QualificationCode: qualification},
			want: func(t *testing.T, err error) {
				var vErrs validator.ValidationErrors
				require.ErrorAs(t, err, &vErrs)
				assert.Equal(t, map[string]string{"subject_code": "this field is required"}, core.TranslateValidationErrors(vErrs))
			},
		},
		{
			name: "malformed code",
			req:  curriculum.PromoteRequest{ExamBoardCode: board, QualificationCode: qualification, SubjectCode: "9PE1; drop"},
			want: func(t *testing.T, err error) {
				var vErrs validator.ValidationErrors
				require.ErrorAs(t, err, &vErrs)
			},
		},
		{
			name: "board outside the catalog",
			req:  curriculum.PromoteRequest{ExamBoardCode: "WJEC", QualificationCode: "A-LEVEL", SubjectCode: "9PE1"},
			want: func(t *testing.T, err error) {
				var vErr *core.ValidationError
				require.ErrorAs(t, err, &vErr)
				require.Len(t, vErr.Fields, 2)
				assert.Equal(t, "exam_board_code", vErr.Fields[0].Field)
				assert.Equal(t, "qualification_code", vErr.Fields[1].Field)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.db.FailOn("OpenRun", errors.New("store must not be touched"))

			_, err := f.svc.Promote(context.Background(), tt.req)
			require.Error(t, err)
			tt.want(t, err)
			assert.Empty(t, f.notifier.runs)
		})
	}
}

func TestService_Promote_Failures(t *testing.T) {
	boom := errors.New("connection reset by peer")

	tests := []struct {
		name    string
		prepare func(f *fixture)
		check   func(t *testing.T, err error)
	}{
		{
			name:    "staging subject missing",
			prepare: func(f *fixture) {},
			check: func(t *testing.T, err error) {
				var nfErr *curriculum.NotFoundError
				require.ErrorAs(t, err, &nfErr)
				assert.Equal(t, "staging subject", nfErr.Entity)
			},
		},
		{
			name: "upsert fails",
			prepare: func(f *fixture) {
				f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
				f.db.FailOn("UpsertTopics", boom)
			},
			check: func(t *testing.T, err error) {
				var pErr *curriculum.PersistenceError
				require.ErrorAs(t, err, &pErr)
				assert.ErrorIs(t, err, boom)
				assert.Contains(t, pErr.Op, "upsert topics")
			},
		},
		{
			name: "close run failure does not mask the cause",
			prepare: func(f *fixture) {
				f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
				f.db.FailOn("SetTopicParents", boom)
				f.db.FailOn("CloseRun", errors.New("audit table locked"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, boom)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.prepare(f)

			res, err := f.svc.Promote(context.Background(), request("9PE1"))
			require.Error(t, err)
			tt.check(t, err)
			assert.NotEmpty(t, res.RunID)

			require.Len(t, f.notifier.runs, 1)
			assert.Equal(t, curriculum.RunError, f.notifier.runs[0].Status)
			assert.NotEmpty(t, f.notifier.runs[0].ErrorText)
			assert.GreaterOrEqual(t, f.log.Count("error"), 1)
		})
	}
}

func TestService_Promote_InProgress(t *testing.T) {
	f := newFixture(t)
	f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
	ctx := context.Background()

	release, err := f.leaser.Acquire(ctx, "curriculum:promote:AQA:GCSE:9PE1", time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Promote(ctx, request("9PE1"))
	assert.ErrorIs(t, err, curriculum.ErrPromotionInProgress)
	assert.Empty(t, f.runs(t), "no run is opened while another promotion holds the lease")

	require.NoError(t, release(ctx))
	_, err = f.svc.Promote(ctx, request("9PE1"))
	assert.NoError(t, err)

	// the lease is released after each run
	_, err = f.svc.Promote(ctx, request("9PE1"))
	assert.NoError(t, err)
}

func TestService_GetRun(t *testing.T) {
	f := newFixture(t)
	f.stage("9PE1", testutil.Topic("s1", "1.1", 0, "Fitness", ""))
	ctx := context.Background()

	res, err := f.svc.Promote(ctx, request("9PE1"))
	require.NoError(t, err)

	run, err := f.svc.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, curriculum.RunSuccess, run.Status)

	_, err = f.svc.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, curriculum.ErrRunNotFound)
}
