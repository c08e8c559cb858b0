package curriculum

import "context"

// parentLinks maps each staging parent edge onto production ids.
// Edges whose child or parent code has no production row are skipped.
func parentLinks(staging []StagingTopic, codeToID map[string]string) []ParentLink {
	idToCode := make(map[string]string, len(staging))
	for _, t := range staging {
		idToCode[t.ID] = t.TopicCode
	}

	var links []ParentLink
	for _, t := range orderTopics(staging) {
		if t.ParentTopicID == nil {
			continue
		}
		childID, ok := codeToID[t.TopicCode]
		if !ok {
			continue
		}
		parentCode, ok := idToCode[*t.ParentTopicID]
		if !ok {
			continue
		}
		parentID, ok := codeToID[parentCode]
		if !ok || parentID == childID {
			continue
		}
		links = append(links, ParentLink{TopicID: childID, ParentID: parentID})
	}
	return links
}

type parentLinkRebuilder struct {
	prod      ProductionRepository
	batchSize int
}

// rebuild writes the staging hierarchy onto production rows and returns the number of edges set.
func (pb *parentLinkRebuilder) rebuild(ctx context.Context, staging []StagingTopic, codeToID map[string]string) (int, error) {
	links := parentLinks(staging, codeToID)

	updated := 0
	for start := 0; start < len(links); start += pb.batchSize {
		end := start + pb.batchSize
		if end > len(links) {
			end = len(links)
		}
		n, err := pb.prod.SetTopicParents(ctx, links[start:end])
		if err != nil {
			return updated, persistenceErr("set topic parents", err)
		}
		updated += n
	}
	recordTopicWrites("parent_link", updated)
	return updated, nil
}
