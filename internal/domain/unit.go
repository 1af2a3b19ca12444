package domain

import (
	"fmt"
	"time"
)

// QueryType classifies the kind of question a content unit answers.
type QueryType string

const (
	QueryTypeHowTo        QueryType = "how_to"
	QueryTypePolicy       QueryType = "policy"
	QueryTypeLookup       QueryType = "lookup"
	QueryTypeTroubleshoot QueryType = "troubleshoot"
)

// RelationTag marks how a unit entered a retrieval result set.
type RelationTag string

const (
	RelationPrimary      RelationTag = "primary"
	RelationPrerequisite RelationTag = "prerequisite"
	RelationSeeAlso      RelationTag = "see_also"
)

// QualityScores holds the generative quality assessment for a unit.
// All values are in [0, 1]. A nil field means the scoring pass has not
// produced a value for it, which is distinct from a score of zero.
type QualityScores struct {
	Importance    *float32
	Specificity   *float32
	Complexity    *float32
	Completeness  *float32
	Actionability *float32
	Confidence    *float32
}

// ImportanceOrZero returns the importance score, treating unset as zero
// so that unscored units sort after scored ones.
func (s QualityScores) ImportanceOrZero() float32 {
	if s.Importance == nil {
		return 0
	}
	return *s.Importance
}

// ContentUnit is the corpus atom: a document excerpt or a memorized
// conversation exchange, independently retrievable.
type ContentUnit struct {
	ID           string
	Source       string
	SectionTitle string
	SectionOrder int32

	Content            string
	SyntheticQuestions []string

	ContentEmbedding   []float32
	QuestionsEmbedding []float32

	Entities   []string
	Verbs      []string
	Actors     []string
	Conditions []string
	QueryTypes []string

	IsProcedure bool
	IsPolicy    bool
	IsForm      bool

	Scores QualityScores

	ProcessName string
	ProcessStep *int32

	PrerequisiteIDs  []string
	SeeAlsoIDs       []string
	FollowsIDs       []string
	ContradictionIDs []string

	AccessScope []string

	IsActive     bool
	NeedsReview  bool
	ReviewReason string
	ClusterID    *string

	ContentHash  string
	AccessCount  int64
	LastAccessed *time.Time
	LinksBuiltAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LinkSets bundles the four relationship id sets of a unit.
type LinkSets struct {
	PrerequisiteIDs  []string
	SeeAlsoIDs       []string
	FollowsIDs       []string
	ContradictionIDs []string
}

// Links returns the unit's current relationship sets.
func (u *ContentUnit) Links() LinkSets {
	return LinkSets{
		PrerequisiteIDs:  u.PrerequisiteIDs,
		SeeAlsoIDs:       u.SeeAlsoIDs,
		FollowsIDs:       u.FollowsIDs,
		ContradictionIDs: u.ContradictionIDs,
	}
}

// IsPublished reports whether the unit may appear in any query path.
// A unit without an access scope is stored but not yet published.
func (u *ContentUnit) IsPublished() bool {
	return u.IsActive && len(u.AccessScope) > 0
}

// InScope reports whether the given department scope may retrieve this unit.
func (u *ContentUnit) InScope(scope string) bool {
	for _, s := range u.AccessScope {
		if s == scope {
			return true
		}
	}
	return false
}

// HasQueryType reports whether the unit carries the given classification.
func (u *ContentUnit) HasQueryType(qt QueryType) bool {
	for _, t := range u.QueryTypes {
		if t == string(qt) {
			return true
		}
	}
	return false
}

// ValidateContentUnit validates a ContentUnit instance before persistence.
func ValidateContentUnit(u *ContentUnit) error {
	if u == nil {
		return fmt.Errorf("content unit cannot be nil")
	}

	if u.ID == "" {
		return fmt.Errorf("content unit ID is required")
	}

	if u.Content == "" {
		return fmt.Errorf("content unit content is required")
	}

	if u.Source == "" {
		return fmt.Errorf("content unit source is required")
	}

	if u.ProcessStep != nil && u.ProcessName == "" {
		return fmt.Errorf("content unit process step requires a process name")
	}

	if u.ProcessStep != nil && *u.ProcessStep < 0 {
		return fmt.Errorf("content unit process step cannot be negative")
	}

	for name, score := range map[string]*float32{
		"importance":    u.Scores.Importance,
		"specificity":   u.Scores.Specificity,
		"complexity":    u.Scores.Complexity,
		"completeness":  u.Scores.Completeness,
		"actionability": u.Scores.Actionability,
		"confidence":    u.Scores.Confidence,
	} {
		if score != nil && (*score < 0 || *score > 1) {
			return fmt.Errorf("content unit score %s must be in [0,1], got %f", name, *score)
		}
	}

	if !isValidQueryTypes(u.QueryTypes) {
		return fmt.Errorf("content unit has an invalid query type: %v", u.QueryTypes)
	}

	return nil
}

func isValidQueryTypes(types []string) bool {
	for _, t := range types {
		switch QueryType(t) {
		case QueryTypeHowTo, QueryTypePolicy, QueryTypeLookup, QueryTypeTroubleshoot:
		default:
			return false
		}
	}
	return true
}
