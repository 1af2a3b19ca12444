package service

import (
	"context"
	"strings"
)

// blendLexical merges full-text ranked candidates into the vector candidate
// set. The blended vector term of each candidate becomes
// TextRankWeight×text_rank + VectorWeight×vector_term, so a unit strong on
// either signal can clear the threshold.
func (s *RetrievalService) blendLexical(ctx context.Context, input RetrieveInput, vector []*Candidate, limit int) ([]*Candidate, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return vector, nil
	}

	lexical, err := s.repo.SearchCandidatesLexical(ctx, query, input.Scope, input.Hints, limit)
	if err != nil {
		return nil, err
	}
	if len(lexical) == 0 {
		return vector, nil
	}

	byID := make(map[string]*Candidate, len(vector))
	order := make([]string, 0, len(vector)+len(lexical))
	for _, c := range vector {
		byID[c.Unit.ID] = c
		order = append(order, c.Unit.ID)
	}
	for _, l := range lexical {
		if existing, ok := byID[l.Unit.ID]; ok {
			existing.TextRank = l.TextRank
			continue
		}
		// Lexical-only hit: it carries no vector similarity, but full-text
		// rank alone can still lift it over the threshold in hybrid mode.
		byID[l.Unit.ID] = l
		order = append(order, l.Unit.ID)
	}

	blended := make([]*Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.ContentSimilarity = s.cfg.TextRankWeight*c.TextRank + s.cfg.VectorWeight*c.ContentSimilarity
		c.QuestionsSimilarity = s.cfg.VectorWeight * c.QuestionsSimilarity
		blended = append(blended, c)
	}
	return blended, nil
}
