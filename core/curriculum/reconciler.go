package curriculum

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/studyboard/studyboard/core"
)

// ConflictKey selects the uniqueness target an upsert writes through.
type ConflictKey int

const (
	// ConflictOnID updates the row with the same id.
	ConflictOnID ConflictKey = iota
	// ConflictOnNaturalKey updates the row sharing (subject_id, topic_name, topic_level).
	ConflictOnNaturalKey
)

func (k ConflictKey) String() string {
	if k == ConflictOnNaturalKey {
		return "natural_key"
	}
	return "id"
}

type reconcileResult struct {
	codeToID map[string]string
	live     map[string]struct{} // ids of the rows now carrying a staging topic
	topics   []ProductionTopic   // production topics of the subject after the writes
	inserted int
	updated  int
	cleared  int // unreferenced rows deleted because they held a name an update moves onto
}

type rowReconciler struct {
	prod      ProductionRepository
	refs      FlashcardReferences
	batchSize int
	// deleteBlockers allows removing unreferenced rows that block a planned rename.
	deleteBlockers bool
	log            core.Logger
}

// orderTopics returns topics sorted by (level, code, id). A topic's index is its sort_order.
func orderTopics(topics []StagingTopic) []StagingTopic {
	ordered := make([]StagingTopic, len(topics))
	copy(ordered, topics)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.TopicLevel != b.TopicLevel {
			return a.TopicLevel < b.TopicLevel
		}
		if a.TopicCode != b.TopicCode {
			return a.TopicCode < b.TopicCode
		}
		return a.ID < b.ID
	})
	return ordered
}

// plan resolves every staging topic and splits the rows into updates and inserts.
// Parents are left nil; the parent rebuilder sets them once every row has a production id.
func (rc *rowReconciler) plan(ctx context.Context, subjectID string, staging []StagingTopic, res *identityResolver) (updates, inserts []ProductionTopic, err error) {
	ordered := orderTopics(staging)
	ids := res.resolveAll(ordered)
	for i, t := range ordered {
		code := t.TopicCode
		row := ProductionTopic{
			SubjectID:  subjectID,
			TopicCode:  &code,
			TopicName:  strings.TrimSpace(t.TopicName),
			TopicLevel: t.TopicLevel,
			SortOrder:  i,
		}

		id, ok := ids[i], ids[i] != ""
		if !ok {
			hits, err := rc.prod.FindTopicsByNaturalKey(ctx, subjectID, t.TopicLevel, nameVariants(t.TopicName))
			if err != nil {
				return nil, nil, persistenceErr("find topics by natural key", err)
			}
			id, ok = res.claimFirst(hits)
			if ok {
				rc.log.Debug("legacy topic matched by name", map[string]interface{}{
					"topic_code": code,
					"topic_id":   id,
				})
			}
		}

		if ok {
			row.ID = id
			updates = append(updates, row)
		} else {
			row.ID = uuid.NewString()
			inserts = append(inserts, row)
		}
	}
	return updates, inserts, nil
}

// parkedName is the temporary name a row holds while another row takes over its name.
func parkedName(id string) string {
	return "~parked~" + id
}

// clearBlockers frees the names planned updates move onto. A holder another staging topic keeps
// is parked under a temporary name. An unclaimed holder is deleted when no flashcard references
// it; otherwise the run stops with a BlockedTopicError.
func (rc *rowReconciler) clearBlockers(ctx context.Context, existing, updates []ProductionTopic, res *identityResolver) (int, error) {
	holders := make(map[levelName]ProductionTopic, len(existing))
	for _, t := range existing {
		holders[levelName{level: t.TopicLevel, name: t.TopicName}] = t
	}

	var parked []ProductionTopic
	cleared := 0
	for _, row := range updates {
		h, ok := holders[levelName{level: row.TopicLevel, name: row.TopicName}]
		if !ok || h.ID == row.ID {
			continue
		}
		if res.isClaimed(h.ID) {
			h.TopicName = parkedName(h.ID)
			parked = append(parked, h)
			continue
		}
		if err := rc.removeBlocker(ctx, h, row); err != nil {
			return cleared, err
		}
		cleared++
	}

	if len(parked) > 0 {
		rc.log.Debug("parking renamed topics", map[string]interface{}{"count": len(parked)})
		if err := rc.write(ctx, parked, ConflictOnID); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

func (rc *rowReconciler) removeBlocker(ctx context.Context, holder, wanted ProductionTopic) error {
	blocked := &BlockedTopicError{
		TopicID:    holder.ID,
		TopicCode:  holder.Code(),
		TopicLevel: holder.TopicLevel,
		TopicName:  holder.TopicName,
		WantedBy:   wanted.Code(),
	}
	if !rc.deleteBlockers {
		blocked.Reason = "cleanup of removed topics is disabled"
		return blocked
	}

	n, err := rc.refs.CountByTopic(ctx, holder.ID)
	if err != nil {
		return persistenceErr("count flashcards of blocking topic", err)
	}
	if n > 0 {
		blocked.Flashcards = n
		blocked.Reason = fmt.Sprintf("referenced by %d flashcards", n)
		return blocked
	}
	if err := rc.prod.DeleteTopic(ctx, holder.ID); err != nil {
		return persistenceErr("delete blocking topic", err)
	}
	rc.log.Info("curriculum: deleted topic blocking a rename", map[string]interface{}{
		"topic_id":   holder.ID,
		"topic_code": holder.Code(),
		"wanted_by":  wanted.Code(),
	})
	return nil
}

func (rc *rowReconciler) write(ctx context.Context, rows []ProductionTopic, key ConflictKey) error {
	for start := 0; start < len(rows); start += rc.batchSize {
		end := start + rc.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if _, err := rc.prod.UpsertTopics(ctx, rows[start:end], key); err != nil {
			return persistenceErr("upsert topics ("+key.String()+")", err)
		}
	}
	return nil
}

// reconcile writes staging topics into the production subject and returns the refreshed state.
func (rc *rowReconciler) reconcile(ctx context.Context, subjectID string, staging []StagingTopic) (reconcileResult, error) {
	existing, err := rc.prod.ListTopics(ctx, subjectID)
	if err != nil {
		return reconcileResult{}, persistenceErr("list production topics", err)
	}

	res := newIdentityResolver(existing)
	updates, inserts, err := rc.plan(ctx, subjectID, staging, res)
	if err != nil {
		return reconcileResult{}, err
	}
	cleared, err := rc.clearBlockers(ctx, existing, updates, res)
	if err != nil {
		return reconcileResult{}, err
	}
	if err := rc.write(ctx, updates, ConflictOnID); err != nil {
		return reconcileResult{}, err
	}
	recordTopicWrites("updated", len(updates))
	if err := rc.write(ctx, inserts, ConflictOnNaturalKey); err != nil {
		return reconcileResult{}, err
	}
	recordTopicWrites("inserted", len(inserts))

	refreshed, err := rc.prod.ListTopics(ctx, subjectID)
	if err != nil {
		return reconcileResult{}, persistenceErr("refresh production topics", err)
	}

	codeToID := codeIndex(refreshed, staging)
	return reconcileResult{
		codeToID: codeToID,
		live:     liveIDs(codeToID, staging),
		topics:   refreshed,
		inserted: len(inserts),
		updated:  len(updates),
		cleared:  cleared,
	}, nil
}

// liveIDs returns the ids of the rows carrying a staging code. Every other row of the subject
// is a removal candidate, including legacy rows sharing a staging code.
func liveIDs(codeToID map[string]string, staging []StagingTopic) map[string]struct{} {
	live := make(map[string]struct{}, len(staging))
	for _, t := range staging {
		if id, ok := codeToID[t.TopicCode]; ok {
			live[id] = struct{}{}
		}
	}
	return live
}

// codeIndex maps each staging code to the production row now carrying it.
// Legacy rows can share a code; the one matching the staging level and name wins.
func codeIndex(refreshed []ProductionTopic, staging []StagingTopic) map[string]string {
	want := make(map[string]levelName, len(staging))
	for _, t := range staging {
		want[t.TopicCode] = levelName{level: t.TopicLevel, name: strings.TrimSpace(t.TopicName)}
	}

	index := make(map[string]string, len(refreshed))
	for _, t := range refreshed {
		code := t.Code()
		if code == "" {
			continue
		}
		if _, ok := index[code]; !ok {
			index[code] = t.ID
			continue
		}
		if w, ok := want[code]; ok && w.level == t.TopicLevel && w.name == t.TopicName {
			index[code] = t.ID
		}
	}
	return index
}
