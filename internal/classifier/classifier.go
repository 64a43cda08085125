// Package classifier pattern-matches error and status text into a blocker
// category, deciding whether the ReAct loop must stop and ask a human or
// can keep self-correcting. It is the smallest of the core components but
// sits directly on the escalation path.
package classifier

import "strings"

// Category is the result of classifying a piece of text.
type Category string

const (
	// CategoryNone means the agent should handle the situation autonomously.
	CategoryNone Category = ""
	// CategoryRequirements means a requirements-ambiguity blocker is warranted.
	CategoryRequirements Category = "requirements"
	// CategoryAccess means an access/credentials blocker is warranted.
	CategoryAccess Category = "access"
	// CategoryExternalService means an external-service blocker may be
	// warranted once retries are exhausted.
	CategoryExternalService Category = "external_service"
)

// Pattern lists are authoritative constants, checked in the order below.
// Tactical patterns short-circuit before any blocker category is considered,
// and external-service patterns are checked before technical patterns so
// that text mentioning both (e.g. "service unavailable: file not found")
// still routes to external-service.
var (
	// tacticalPatterns indicate the model is asking an implementation or
	// preference question it must resolve itself; they must never create a
	// blocker.
	tacticalPatterns = []string{
		"which approach",
		"should i use",
		"multiple options",
		"design decision",
		"please clarify",
		"need clarification",
		"file already exists",
		"overwrite",
		"should i create",
		"should i delete",
		"which version",
		"which package",
		"which framework",
		"install method",
		"package manager",
		"which configuration",
		"which setting",
		"default value",
		"fixture scope",
		"loop scope",
		"what do you",
		"do you want",
		"would you like",
		"prefer",
	}

	requirementsPatterns = []string{
		"conflicting requirements",
		"spec unclear",
		"specification unclear",
		"requirements conflict",
		"contradictory requirements",
		"business decision",
		"business logic unclear",
		"domain knowledge required",
		"stakeholder decision",
		"security policy unclear",
		"compliance requirement unclear",
		"regulatory requirement",
	}

	accessPatterns = []string{
		"permission denied",
		"access denied",
		"authentication required",
		"api key",
		"credentials",
		"secret required",
		"token required",
		"unauthorized",
		"forbidden",
	}

	externalServicePatterns = []string{
		"service unavailable",
		"rate limited",
		"quota exceeded",
		"connection refused",
		"timeout exceeded",
	}

	// technicalPatterns are errors the agent can self-correct by trying a
	// different approach. They never create a blocker; the list exists so
	// callers that want to label the error type can do so (see Classify).
	technicalPatterns = []string{
		"file not found",
		"no such file",
		"directory not found",
		"path does not exist",
		"module not found",
		"import error",
		"no module named",
		"cannot find module",
		"syntax error",
		"indentation error",
		"name error",
		"not defined",
		"undefined",
		"command not found",
	}
)

// Classify returns the blocker category for a piece of error or status
// text, or CategoryNone if the agent should handle it autonomously.
//
// Order is authoritative: tactical before requirements before access before
// external-service before technical. In particular, "please clarify the
// design decision" is tactical (returns CategoryNone) even though it also
// smells like a requirements question.
func Classify(text string) Category {
	lower := strings.ToLower(text)

	for _, p := range tacticalPatterns {
		if strings.Contains(lower, p) {
			return CategoryNone
		}
	}

	for _, p := range requirementsPatterns {
		if strings.Contains(lower, p) {
			return CategoryRequirements
		}
	}

	for _, p := range accessPatterns {
		if strings.Contains(lower, p) {
			return CategoryAccess
		}
	}

	for _, p := range externalServicePatterns {
		if strings.Contains(lower, p) {
			return CategoryExternalService
		}
	}

	for _, p := range technicalPatterns {
		if strings.Contains(lower, p) {
			return CategoryNone
		}
	}

	return CategoryNone
}

// ShouldCreateBlocker decides whether a blocker should be created for the
// given text, given how many prior attempts have already been made to
// resolve the underlying issue. Requirements and access categories blocker
// immediately; external-service only blockers once attemptCount > 1.
func ShouldCreateBlocker(text string, attemptCount int) (bool, string) {
	switch Classify(text) {
	case CategoryRequirements:
		return true, "Requirements ambiguity detected — human clarification needed"
	case CategoryAccess:
		return true, "Access or credentials issue — human intervention needed"
	case CategoryExternalService:
		if attemptCount > 1 {
			return true, "External service issue persists after retries — human intervention needed"
		}
		return false, ""
	default:
		return false, ""
	}
}
