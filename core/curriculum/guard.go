package curriculum

import "strings"

// checkStagingIntegrity runs the duplicate guard over one subject's staging topics.
// Checks run in order and stop at the first one that fails:
// topic_code uniqueness, (topic_level, trimmed topic_name) uniqueness, acyclic parent graph.
func checkStagingIntegrity(topics []StagingTopic) error {
	if groups := duplicateCodes(topics); len(groups) > 0 {
		return &DuplicateDataError{Groups: groups}
	}
	if groups := duplicateLevelNames(topics); len(groups) > 0 {
		return &DuplicateDataError{Groups: groups}
	}
	if groups := parentCycles(topics); len(groups) > 0 {
		return &DuplicateDataError{Groups: groups}
	}
	return nil
}

func duplicateCodes(topics []StagingTopic) []DuplicateGroup {
	var order []string
	seen := make(map[string][]StagingTopic, len(topics))
	for _, t := range topics {
		if _, ok := seen[t.TopicCode]; !ok {
			order = append(order, t.TopicCode)
		}
		seen[t.TopicCode] = append(seen[t.TopicCode], t)
	}

	var groups []DuplicateGroup
	for _, code := range order {
		dups := seen[code]
		if len(dups) < 2 {
			continue
		}
		g := DuplicateGroup{
			Key:        KeyTopicCode,
			TopicLevel: dups[0].TopicLevel,
			TopicName:  strings.TrimSpace(dups[0].TopicName),
			Codes:      []string{code},
		}
		for _, t := range dups {
			g.IDs = append(g.IDs, t.ID)
		}
		groups = append(groups, g)
	}
	return groups
}

func duplicateLevelNames(topics []StagingTopic) []DuplicateGroup {
	var order []levelName
	seen := make(map[levelName][]StagingTopic, len(topics))
	for _, t := range topics {
		key := levelName{level: t.TopicLevel, name: strings.TrimSpace(t.TopicName)}
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		seen[key] = append(seen[key], t)
	}

	var groups []DuplicateGroup
	for _, key := range order {
		dups := seen[key]
		if len(dups) < 2 {
			continue
		}
		g := DuplicateGroup{Key: KeyLevelName, TopicLevel: key.level, TopicName: key.name}
		for _, t := range dups {
			g.Codes = append(g.Codes, t.TopicCode)
			g.IDs = append(g.IDs, t.ID)
		}
		groups = append(groups, g)
	}
	return groups
}

// parentCycles reports every cycle in the staging parent graph, self-parenting included.
// Parent ids that point outside the topic set end a chain; the rebuilder skips those edges.
func parentCycles(topics []StagingTopic) []DuplicateGroup {
	const (
		unvisited = iota
		visiting
		done
	)

	byID := make(map[string]StagingTopic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}
	state := make(map[string]int, len(topics))

	var groups []DuplicateGroup
	for _, t := range topics {
		if state[t.ID] != unvisited {
			continue
		}

		var path []string
		pos := make(map[string]int)
		id := t.ID
		for state[id] != done {
			if state[id] == visiting {
				cycle := path[pos[id]:]
				first := byID[cycle[0]]
				g := DuplicateGroup{Key: KeyParentCycle, TopicLevel: first.TopicLevel, TopicName: strings.TrimSpace(first.TopicName)}
				for _, cid := range cycle {
					g.Codes = append(g.Codes, byID[cid].TopicCode)
					g.IDs = append(g.IDs, cid)
				}
				groups = append(groups, g)
				break
			}
			state[id] = visiting
			pos[id] = len(path)
			path = append(path, id)

			parent := byID[id].ParentTopicID
			if parent == nil {
				break
			}
			if _, ok := byID[*parent]; !ok {
				break
			}
			id = *parent
		}
		for _, pid := range path {
			state[pid] = done
		}
	}
	return groups
}
