package curriculum

// identityLookup holds the production ids a staging topic hits in each index.
// Empty strings mean no hit.
type identityLookup struct {
	codeID string
	nameID string
}

// resolveIdentity picks the production id for one staging topic.
// A code hit wins over a name hit; an id claimed earlier in the run is never returned again
// and the caller inserts instead.
func resolveIdentity(lookup identityLookup, claimed map[string]struct{}) (string, bool) {
	id := lookup.codeID
	if id == "" {
		id = lookup.nameID
	}
	if id == "" {
		return "", false
	}
	if _, ok := claimed[id]; ok {
		return "", false
	}
	return id, true
}

// identityResolver matches staging topics to existing production topics for a single run.
// It owns the run's claimed-id set and must not be shared between runs.
type identityResolver struct {
	byCode      map[string]string
	byLevelName map[levelName]string
	claimed     map[string]struct{}
}

func newIdentityResolver(existing []ProductionTopic) *identityResolver {
	r := &identityResolver{
		byCode:      make(map[string]string, len(existing)),
		byLevelName: make(map[levelName]string, len(existing)),
		claimed:     make(map[string]struct{}, len(existing)),
	}
	for _, t := range existing {
		if code := t.Code(); code != "" {
			if _, ok := r.byCode[code]; !ok {
				r.byCode[code] = t.ID
			}
		}
		key := levelNameKey(t.TopicLevel, t.TopicName)
		if _, ok := r.byLevelName[key]; !ok {
			r.byLevelName[key] = t.ID
		}
	}
	return r
}

func (r *identityResolver) claim(lookup identityLookup) (string, bool) {
	id, ok := resolveIdentity(lookup, r.claimed)
	if ok {
		r.claimed[id] = struct{}{}
	}
	return id, ok
}

// resolveAll claims production ids for topics in two passes: every code hit first, then name
// hits for the topics left. A name match never takes a row another topic holds by code.
// Unresolved topics get "".
func (r *identityResolver) resolveAll(topics []StagingTopic) []string {
	ids := make([]string, len(topics))
	for i, t := range topics {
		ids[i], _ = r.claim(identityLookup{codeID: r.byCode[t.TopicCode]})
	}
	for i, t := range topics {
		if ids[i] != "" {
			continue
		}
		ids[i], _ = r.claim(identityLookup{nameID: r.byLevelName[levelNameKey(t.TopicLevel, t.TopicName)]})
	}
	return ids
}

func (r *identityResolver) isClaimed(id string) bool {
	_, ok := r.claimed[id]
	return ok
}

// claimFirst claims the first candidate not yet claimed this run.
func (r *identityResolver) claimFirst(candidates []ProductionTopic) (string, bool) {
	for _, c := range candidates {
		if _, ok := r.claimed[c.ID]; ok {
			continue
		}
		r.claimed[c.ID] = struct{}{}
		return c.ID, true
	}
	return "", false
}
