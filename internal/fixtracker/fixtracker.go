// Package fixtracker records which fixes have been tried for which errors
// during a run, so the ReAct loop never repeats a failed fix and can decide
// when to escalate to a human blocker instead of continuing to self-correct
// across a single run.
package fixtracker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Escalation thresholds, checked in order by ShouldEscalate.
const (
	MaxSameErrorAttempts = 3
	MaxSameFileAttempts  = 3
	MaxTotalFailures     = 5
)

// Outcome is the result of a fix attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is a single recorded fix attempt.
type Attempt struct {
	ErrorSignature string
	FixDescription string
	Outcome        Outcome
	CreatedAt      time.Time
	FilePath       string
	ErrorType      string
}

// EscalationDecision is the outcome of a ShouldEscalate check.
type EscalationDecision struct {
	ShouldEscalate bool
	Reason         string
	AttemptedFixes []string
	ErrorSummary   string
}

// BlockerContext is the structured context handed to whatever creates the
// human-facing blocker once ShouldEscalate returns true.
type BlockerContext struct {
	ErrorType        string
	ErrorSignature   string
	AttemptCount     int
	AttemptedFixes   []string
	AffectedFiles    []string
	TotalRunFailures int
	NormalizedError  string
}

var (
	lineNumberRe      = regexp.MustCompile(`\bline\s+\d+\b`)
	colonLineRe       = regexp.MustCompile(`:\d+:`)
	filePathRe        = regexp.MustCompile(`(/[^"':\s]+/)?([^"':\s/]+\.(?:py|js|ts|go|rs))`)
	memAddrRe         = regexp.MustCompile(`0x[0-9a-f]+`)
	timestampRe       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}`)
	longDoubleQRe     = regexp.MustCompile(`"[^"]{20,}"`)
	longSingleQRe     = regexp.MustCompile(`'[^']{20,}'`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
	errorTypePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\w+Error):`),
		regexp.MustCompile(`(\w+Exception):`),
		regexp.MustCompile(`(\w+Warning):`),
		regexp.MustCompile(`(?m)^(E\d+)`),
	}
)

// NormalizeError strips the volatile parts of an error message (line
// numbers, file paths, memory addresses, timestamps, long quoted strings) so
// that repeated occurrences of the same underlying error hash identically.
func NormalizeError(errText string) string {
	if errText == "" {
		return ""
	}
	n := strings.ToLower(errText)
	n = lineNumberRe.ReplaceAllString(n, "line n")
	n = colonLineRe.ReplaceAllString(n, ":n:")
	n = filePathRe.ReplaceAllString(n, "$2")
	n = memAddrRe.ReplaceAllString(n, "0xaddr")
	n = timestampRe.ReplaceAllString(n, "timestamp")
	n = longDoubleQRe.ReplaceAllString(n, `"..."`)
	n = longSingleQRe.ReplaceAllString(n, `'...'`)
	n = strings.TrimSpace(whitespaceRe.ReplaceAllString(n, " "))
	return n
}

// HashError returns a 12-character hex signature for an error message after
// normalization.
func HashError(errText string) string {
	normalized := NormalizeError(errText)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12]
}

// ExtractErrorType pulls a Python-style error class name (or a ruff/flake8
// style code) out of a raw error message, if present.
func ExtractErrorType(errText string) string {
	for _, re := range errorTypePatterns {
		if m := re.FindStringSubmatch(errText); m != nil {
			return m[1]
		}
	}
	return ""
}

// Tracker accumulates fix attempts for a single run. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	attempts    []Attempt
	errorCounts map[string]int
	fileCounts  map[string]int
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		errorCounts: make(map[string]int),
		fileCounts:  make(map[string]int),
	}
}

// RecordAttempt records that fixDescription is about to be tried for
// errText, optionally scoped to filePath, and returns the recorded Attempt
// with outcome Pending.
func (t *Tracker) RecordAttempt(errText, fixDescription, filePath string) Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := Attempt{
		ErrorSignature: HashError(errText),
		FixDescription: fixDescription,
		Outcome:        OutcomePending,
		CreatedAt:      time.Now().UTC(),
		FilePath:       filePath,
		ErrorType:      ExtractErrorType(errText),
	}
	t.attempts = append(t.attempts, a)
	return a
}

// RecordOutcome updates the most recent pending attempt matching errText and
// fixDescription with the given outcome. On a failed outcome, it increments
// the error-signature failure counter and the failure counter of the file
// named by the most recent attempt at that signature that has a file path.
func (t *Tracker) RecordOutcome(errText, fixDescription string, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig := HashError(errText)

	for i := len(t.attempts) - 1; i >= 0; i-- {
		a := &t.attempts[i]
		if a.ErrorSignature == sig && a.FixDescription == fixDescription && a.Outcome == OutcomePending {
			a.Outcome = outcome
			break
		}
	}

	if outcome != OutcomeFailed {
		return
	}

	t.errorCounts[sig]++

	for i := len(t.attempts) - 1; i >= 0; i-- {
		a := t.attempts[i]
		if a.ErrorSignature == sig && a.FilePath != "" {
			t.fileCounts[a.FilePath]++
			break
		}
	}
}

// WasAttempted reports whether fixDescription (case-insensitive) has
// already been tried for errText.
func (t *Tracker) WasAttempted(errText, fixDescription string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig := HashError(errText)
	lowerFix := strings.ToLower(fixDescription)
	for _, a := range t.attempts {
		if a.ErrorSignature == sig && strings.ToLower(a.FixDescription) == lowerFix {
			return true
		}
	}
	return false
}

// GetAttemptedFixes returns every fix description tried for errText, in the
// order they were attempted.
func (t *Tracker) GetAttemptedFixes(errText string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attemptedFixesLocked(errText)
}

func (t *Tracker) attemptedFixesLocked(errText string) []string {
	sig := HashError(errText)
	var out []string
	for _, a := range t.attempts {
		if a.ErrorSignature == sig {
			out = append(out, a.FixDescription)
		}
	}
	return out
}

// GetFailureCount returns the number of failed attempts recorded for errText.
func (t *Tracker) GetFailureCount(errText string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCounts[HashError(errText)]
}

// GetFileFailureCount returns the number of failed attempts recorded against
// filePath, regardless of which error caused them.
func (t *Tracker) GetFileFailureCount(filePath string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileCounts[filePath]
}

// GetTotalFailures returns the sum of failed attempts across every error
// signature seen this run.
func (t *Tracker) GetTotalFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalFailuresLocked()
}

func (t *Tracker) totalFailuresLocked() int {
	total := 0
	for _, c := range t.errorCounts {
		total += c
	}
	return total
}

// ShouldEscalate applies the three escalation rules in order: the same
// error failing MaxSameErrorAttempts+ times, the same file failing
// MaxSameFileAttempts+ times, or total run failures reaching
// MaxTotalFailures.
func (t *Tracker) ShouldEscalate(errText, filePath string) EscalationDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig := HashError(errText)
	errorCount := t.errorCounts[sig]
	totalFailures := t.totalFailuresLocked()
	attempted := t.attemptedFixesLocked(errText)

	if errorCount >= MaxSameErrorAttempts {
		errType := ExtractErrorType(errText)
		if errType == "" {
			errType = "error"
		}
		summary := NormalizeError(errText)
		if len(summary) > 200 {
			summary = summary[:200]
		}
		return EscalationDecision{
			ShouldEscalate: true,
			Reason:         "Same " + errType + " has failed repeatedly despite fixes",
			AttemptedFixes: attempted,
			ErrorSummary:   summary,
		}
	}

	if filePath != "" {
		if fileCount := t.fileCounts[filePath]; fileCount >= MaxSameFileAttempts {
			return EscalationDecision{
				ShouldEscalate: true,
				Reason:         "File '" + filePath + "' has failed repeatedly with various errors",
				AttemptedFixes: attempted,
				ErrorSummary:   "Multiple errors in " + filePath,
			}
		}
	}

	if totalFailures >= MaxTotalFailures {
		return EscalationDecision{
			ShouldEscalate: true,
			Reason:         "Total failures in this run exceed the threshold",
			AttemptedFixes: attempted,
			ErrorSummary:   "Multiple errors across the task",
		}
	}

	return EscalationDecision{
		ShouldEscalate: false,
		Reason:         "Within acceptable failure limits",
		AttemptedFixes: attempted,
	}
}

// GetBlockerContext assembles the structured context to attach to a blocker
// created because of errText.
func (t *Tracker) GetBlockerContext(errText string) BlockerContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig := HashError(errText)
	affectedSet := make(map[string]struct{})
	for _, a := range t.attempts {
		if a.ErrorSignature == sig && a.FilePath != "" {
			affectedSet[a.FilePath] = struct{}{}
		}
	}
	affected := make([]string, 0, len(affectedSet))
	for f := range affectedSet {
		affected = append(affected, f)
	}

	return BlockerContext{
		ErrorType:        ExtractErrorType(errText),
		ErrorSignature:   sig,
		AttemptCount:     t.errorCounts[sig],
		AttemptedFixes:   t.attemptedFixesLocked(errText),
		AffectedFiles:    affected,
		TotalRunFailures: t.totalFailuresLocked(),
		NormalizedError:  NormalizeError(errText),
	}
}

// Reset clears all tracking state, as when starting a fresh run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = nil
	t.errorCounts = make(map[string]int)
	t.fileCounts = make(map[string]int)
}
