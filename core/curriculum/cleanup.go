package curriculum

import (
	"context"
	"fmt"
	"sort"

	"github.com/studyboard/studyboard/core"
)

type cleanupPlanner struct {
	prod ProductionRepository
	refs FlashcardReferences
	log  core.Logger
}

// removedTopics returns the production topics not in live, deepest first.
func removedTopics(topics []ProductionTopic, live map[string]struct{}) []ProductionTopic {
	var removed []ProductionTopic
	for _, t := range topics {
		if _, ok := live[t.ID]; ok {
			continue
		}
		removed = append(removed, t)
	}
	sort.SliceStable(removed, func(i, j int) bool {
		if removed[i].TopicLevel != removed[j].TopicLevel {
			return removed[i].TopicLevel > removed[j].TopicLevel
		}
		return removed[i].ID < removed[j].ID
	})
	return removed
}

// run deletes removed topics no flashcard references. A failed check or delete keeps the
// topic and adds a warning; the run carries on.
func (cp *cleanupPlanner) run(ctx context.Context, topics []ProductionTopic, live map[string]struct{}) CleanupResult {
	var res CleanupResult
	keep := func(t ProductionTopic, reason string) {
		res.KeptRemoved++
		if reason == "" {
			return
		}
		res.Warnings = append(res.Warnings, CleanupWarning{TopicID: t.ID, TopicCode: t.Code(), Reason: reason})
		cp.log.Warn("curriculum cleanup kept topic", map[string]interface{}{
			"topic_id":   t.ID,
			"topic_code": t.Code(),
			"reason":     reason,
		})
	}

	for _, t := range removedTopics(topics, live) {
		n, err := cp.refs.CountByTopic(ctx, t.ID)
		if err != nil {
			keep(t, fmt.Sprintf("flashcard reference check failed: %v", err))
			continue
		}
		if n > 0 {
			keep(t, "")
			continue
		}
		if err := cp.prod.DeleteTopic(ctx, t.ID); err != nil {
			keep(t, fmt.Sprintf("delete failed: %v", err))
			continue
		}
		res.DeletedRemoved++
	}

	recordCleanup(res)
	return res
}
