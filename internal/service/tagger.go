package service

import (
	"regexp"
	"sort"
	"strings"
)

// DeterministicTags is the output of the pattern-based tagging stage. It is
// produced without any external call and is therefore always available, even
// when the generative stages fail.
type DeterministicTags struct {
	Verbs      []string
	Entities   []string
	Actors     []string
	Conditions []string
}

// actionVerbs are the operational verbs worth indexing. Inflected forms map
// to the base verb so hints match regardless of tense.
var actionVerbs = map[string]string{
	"approve": "approve", "approves": "approve", "approved": "approve", "approving": "approve",
	"reject": "reject", "rejects": "reject", "rejected": "reject", "rejecting": "reject",
	"submit": "submit", "submits": "submit", "submitted": "submit", "submitting": "submit",
	"review": "review", "reviews": "review", "reviewed": "review", "reviewing": "review",
	"create": "create", "creates": "create", "created": "create", "creating": "create",
	"cancel": "cancel", "cancels": "cancel", "cancelled": "cancel", "canceled": "cancel",
	"issue": "issue", "issues": "issue", "issued": "issue", "issuing": "issue",
	"refund": "refund", "refunds": "refund", "refunded": "refund", "refunding": "refund",
	"escalate": "escalate", "escalates": "escalate", "escalated": "escalate",
	"verify": "verify", "verifies": "verify", "verified": "verify", "verifying": "verify",
	"sign": "sign", "signs": "sign", "signed": "sign", "signing": "sign",
	"file": "file", "files": "file", "filed": "file", "filing": "file",
	"update": "update", "updates": "update", "updated": "update", "updating": "update",
	"request": "request", "requests": "request", "requested": "request", "requesting": "request",
	"process": "process", "processes": "process", "processed": "process", "processing": "process",
	"notify": "notify", "notifies": "notify", "notified": "notify", "notifying": "notify",
}

// knownActors are role words that identify who performs or owns a step.
var knownActors = []string{
	"manager", "supervisor", "accountant", "controller", "clerk",
	"employee", "customer", "client", "vendor", "supplier", "agent",
	"administrator", "admin", "approver", "requester", "auditor",
	"sales", "support", "finance", "hr", "legal",
}

// domainEntities are multi-word first so longer matches win.
var domainEntities = []string{
	"credit memo", "credit note", "purchase order", "sales order",
	"invoice", "receipt", "refund", "payment", "contract", "quote",
	"account", "ledger", "budget", "expense", "report", "form",
	"policy", "procedure", "deadline", "approval", "signature",
	"department", "warehouse", "inventory", "shipment", "delivery",
}

var conditionPattern = regexp.MustCompile(`(?i)\b(?:if|when|unless|provided that|in case|only if|as long as)\b([^.;\n]{3,80})`)

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]*`)

// ExtractTags derives verbs, entities, actors and conditions from raw text.
// Worst case it returns empty sets; it never fails.
func ExtractTags(text string) DeterministicTags {
	lower := strings.ToLower(text)

	verbs := map[string]bool{}
	actors := map[string]bool{}
	for _, word := range wordPattern.FindAllString(lower, -1) {
		if base, ok := actionVerbs[word]; ok {
			verbs[base] = true
		}
		for _, actor := range knownActors {
			if word == actor {
				actors[actor] = true
			}
		}
	}

	entities := map[string]bool{}
	for _, entity := range domainEntities {
		if strings.Contains(lower, entity) {
			entities[normalizeTag(entity)] = true
		}
	}

	conditions := map[string]bool{}
	for _, match := range conditionPattern.FindAllStringSubmatch(text, -1) {
		cond := normalizeCondition(match[1])
		if cond != "" {
			conditions[cond] = true
		}
	}

	return DeterministicTags{
		Verbs:      sortedKeys(verbs),
		Entities:   sortedKeys(entities),
		Actors:     sortedKeys(actors),
		Conditions: sortedKeys(conditions),
	}
}

// normalizeTag converts a surface form into a stable tag token.
func normalizeTag(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), " ", "_")
}

func normalizeCondition(s string) string {
	clean := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if len(clean) < 3 {
		return ""
	}
	// A condition clause is a phrase, not a tag; keep it readable but bounded.
	if len(clean) > 60 {
		clean = clean[:60]
		if idx := strings.LastIndex(clean, " "); idx > 0 {
			clean = clean[:idx]
		}
	}
	return clean
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TagContext flattens the deterministic tags into context strings for the
// generative passes.
func (t DeterministicTags) TagContext() []string {
	var out []string
	out = append(out, t.Entities...)
	out = append(out, t.Verbs...)
	out = append(out, t.Actors...)
	return out
}
