package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// CompactionTier names which cascade stage produced a reduction.
type CompactionTier string

const (
	TierToolResult       CompactionTier = "tool_result"
	TierRedundantStep    CompactionTier = "redundant_step"
	TierSyntheticSummary CompactionTier = "synthetic_summary"
)

const (
	defaultCompactThreshold = 0.85
	minCompactThreshold     = 0.5
	maxCompactThreshold     = 0.95

	// defaultKeepPairs is how many of the most recent assistant/user message
	// pairs are left untouched by every tier.
	defaultKeepPairs = 5

	// charsPerToken approximates tokens from character counts. It is a rough
	// estimate, not a tokenizer; good enough to decide when to compact.
	charsPerToken = 4

	// compactedExcerptChars bounds how much of a tool result's first line
	// survives into its tier 1 replacement marker.
	compactedExcerptChars = 200
)

// CompactThresholdEnvVar overrides the default fraction of the context
// window that triggers compaction. Clamped to [0.5, 0.95].
const CompactThresholdEnvVar = "CODEFRAME_REACT_COMPACT_THRESHOLD"

// CompactionStats describes what a single CompactConversation call did.
type CompactionStats struct {
	Compacted        bool
	TokensBefore     int
	TokensAfter      int
	TokensSaved      int
	TiersUsed        []CompactionTier
	CompactionNumber int
}

// TokenStats summarizes the current pressure on the context window.
type TokenStats struct {
	TotalTokens       int
	PercentageUsed    float64
	CompactionCount   int
	ContextWindowSize int
}

// compactionThreshold reads CompactThresholdEnvVar, falling back to the
// default and clamping to the allowed range.
func compactionThreshold() float64 {
	raw := os.Getenv(CompactThresholdEnvVar)
	if raw == "" {
		return defaultCompactThreshold
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultCompactThreshold
	}
	if v < minCompactThreshold {
		return minCompactThreshold
	}
	if v > maxCompactThreshold {
		return maxCompactThreshold
	}
	return v
}

// EstimateTokens approximates the token cost of the message history by
// summing character counts (content plus serialized tool calls/results)
// and dividing by charsPerToken.
func EstimateTokens(messages []*models.Message) int {
	return estimateChars(messages) / charsPerToken
}

func estimateChars(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	return total
}

// GetTokenStats reports the current token pressure for a message history
// against a context window size, along with how many times this run has
// already compacted.
func GetTokenStats(messages []*models.Message, contextWindowSize, compactionCount int) TokenStats {
	total := EstimateTokens(messages)
	var pct float64
	if contextWindowSize > 0 {
		pct = float64(total) / float64(contextWindowSize)
	}
	return TokenStats{
		TotalTokens:       total,
		PercentageUsed:    pct,
		CompactionCount:   compactionCount,
		ContextWindowSize: contextWindowSize,
	}
}

// NeedsCompaction reports whether the history has crossed the compaction
// threshold for the given context window size.
func NeedsCompaction(messages []*models.Message, contextWindowSize int) bool {
	if contextWindowSize <= 0 {
		return false
	}
	return float64(EstimateTokens(messages))/float64(contextWindowSize) > compactionThreshold()
}

// pairBoundaries returns the index of the first message after the initial
// pair, and the index at which the preserved tail of keepPairs pairs begins.
// The first pair (the first two messages) and the last keepPairs pairs are
// never touched by any tier.
func pairBoundaries(messages []*models.Message, keepPairs int) (editableStart, editableEnd int) {
	if len(messages) == 0 {
		return 0, 0
	}
	editableStart = 2
	if editableStart > len(messages) {
		editableStart = len(messages)
	}

	tailMessages := keepPairs * 2
	editableEnd = len(messages) - tailMessages
	if editableEnd < editableStart {
		editableEnd = editableStart
	}
	return editableStart, editableEnd
}

// CompactConversation runs the 3-tier compaction cascade against messages
// and returns a new slice (the input is never mutated) plus stats describing
// what happened. The first pair of messages and the most recent keepPairs
// assistant/user pairs are always preserved untouched. compactionNumber is
// the number of compactions already performed this run (0 before the first);
// it is echoed back incremented in the stats when this call performs a
// compaction.
func CompactConversation(messages []*models.Message, contextWindowSize, compactionNumber int, keepPairs int) ([]*models.Message, CompactionStats) {
	if keepPairs <= 0 {
		keepPairs = defaultKeepPairs
	}

	before := EstimateTokens(messages)
	stats := CompactionStats{TokensBefore: before, CompactionNumber: compactionNumber}

	if !NeedsCompaction(messages, contextWindowSize) {
		stats.TokensAfter = before
		return messages, stats
	}

	working := cloneMessages(messages)
	start, end := pairBoundaries(working, keepPairs)

	threshold := compactionThreshold()
	budget := int(float64(contextWindowSize) * threshold)

	working, changed := compactToolResults(working, start, end, budget)
	if changed {
		stats.TiersUsed = append(stats.TiersUsed, TierToolResult)
	}

	if tokensOver(working, budget) {
		working, changed = removeRedundantSteps(working, start, end)
		if changed {
			stats.TiersUsed = append(stats.TiersUsed, TierRedundantStep)
		}
	}

	if tokensOver(working, budget) {
		working, changed = synthesizeSummary(working, start, end)
		if changed {
			stats.TiersUsed = append(stats.TiersUsed, TierSyntheticSummary)
		}
	}

	after := EstimateTokens(working)
	stats.TokensAfter = after
	stats.TokensSaved = before - after
	stats.Compacted = len(stats.TiersUsed) > 0
	if stats.Compacted {
		stats.CompactionNumber = compactionNumber + 1
	}

	return working, stats
}

func tokensOver(messages []*models.Message, budgetTokens int) bool {
	return EstimateTokens(messages) > budgetTokens
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	for i, m := range messages {
		if m == nil {
			continue
		}
		clone := *m
		if len(m.ToolCalls) > 0 {
			clone.ToolCalls = append([]models.ToolCall(nil), m.ToolCalls...)
		}
		if len(m.ToolResults) > 0 {
			clone.ToolResults = append([]models.ToolResult(nil), m.ToolResults...)
		}
		out[i] = &clone
	}
	return out
}

// compactToolResults is tier 1: replace the content of every non-error tool
// result in the editable window with a short marker that still names which
// tool produced it, stopping as soon as the budget check passes.
func compactToolResults(messages []*models.Message, start, end, budgetTokens int) ([]*models.Message, bool) {
	changed := false
	toolInfo := toolCallInfo(messages)
	for i := start; i < end && i < len(messages); i++ {
		msg := messages[i]
		if msg == nil || len(msg.ToolResults) == 0 {
			continue
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			if tr.IsError || strings.HasPrefix(tr.Content, "[Compacted] ") {
				continue
			}
			name := toolInfo[tr.ToolCallID].Name
			if name == "" {
				name = "tool"
			}
			tr.Content = fmt.Sprintf("[Compacted] %s — %s", name, compactedExcerpt(tr.Content))
			changed = true
			if !tokensOver(messages, budgetTokens) {
				return messages, changed
			}
		}
	}
	return messages, changed
}

// compactedExcerpt returns the first line of content, truncated to
// compactedExcerptChars, so a compacted marker still hints at what the
// original result said.
func compactedExcerpt(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	if len(content) > compactedExcerptChars {
		content = content[:compactedExcerptChars]
	}
	return content
}

// redundantToolNames are read-only exploration tools whose earlier, since-
// superseded output is safe to drop once a later call against the same
// target has already been kept.
var redundantToolNames = map[string]bool{
	"read_file":       true,
	"list_files":      true,
	"search_codebase": true,
}

// editToolNames are the tools that can invalidate a cached read of a path.
var editToolNames = map[string]bool{
	"edit_file":   true,
	"create_file": true,
}

// removeRedundantSteps is tier 2: collapse older, now-stale results from
// read-only exploration tools and already-passing verification runs. A
// read-only result is dropped only when a later call against the exact same
// target was kept with no intervening edit_file/create_file on that target
// in between, so a path re-read after being edited is never treated as
// redundant. A run_tests/run_command result is dropped once a later call
// reports every test passing, since the only thing worth keeping from a
// clean run is that it was clean. The originating assistant message's tool
// call is left intact so the history stays structurally valid.
func removeRedundantSteps(messages []*models.Message, start, end int) ([]*models.Message, bool) {
	changed := false
	toolInfo := toolCallInfo(messages)

	// lastKeptTarget maps a tool-plus-target key to the index of the most
	// recently kept (not yet compacted) result for it, scanning backward so
	// the newest occurrence is always the one that survives.
	lastKeptTarget := make(map[string]int)
	testsPassedSeen := false

	for i := end - 1; i >= start; i-- {
		msg := messages[i]
		if msg == nil {
			continue
		}

		// An edit to a path invalidates any cached read kept from after it
		// (chronologically later, already visited by this backward scan);
		// clear it so an earlier read of the same path starts its own
		// redundancy group instead of being compared across the edit.
		for _, tc := range msg.ToolCalls {
			if !editToolNames[tc.Name] {
				continue
			}
			if path := toolInputTarget(tc.Name, tc.Input); path != "" {
				delete(lastKeptTarget, "read:"+path)
			}
		}

		if len(msg.ToolResults) == 0 {
			continue
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			if tr.IsError || strings.HasPrefix(tr.Content, "[redundant step removed") {
				continue
			}
			info := toolInfo[tr.ToolCallID]

			if redundantToolNames[info.Name] && info.Target != "" {
				key := "read:" + info.Target
				if _, kept := lastKeptTarget[key]; kept {
					tr.Content = fmt.Sprintf("[redundant step removed: earlier %s output on %s superseded]", info.Name, info.Target)
					changed = true
					continue
				}
				lastKeptTarget[key] = i
				continue
			}

			if info.Name == "run_tests" || info.Name == "run_command" {
				if isCleanTestRun(tr.Content) {
					if testsPassedSeen {
						tr.Content = fmt.Sprintf("[redundant step removed: earlier %s output superseded]", info.Name)
						changed = true
						continue
					}
					testsPassedSeen = true
				}
			}
		}
	}
	return messages, changed
}

// isCleanTestRun reports whether a run_tests/run_command result looks like
// a fully passing run: it mentions "passed" and neither "failed" nor
// "error".
func isCleanTestRun(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "passed") &&
		!strings.Contains(lower, "failed") &&
		!strings.Contains(lower, "error")
}

// toolCallMeta is what tier 2 needs to know about the call behind a result:
// which tool ran and, when applicable, the file path or search target it
// ran against.
type toolCallMeta struct {
	Name   string
	Target string
}

func toolCallInfo(messages []*models.Message) map[string]toolCallMeta {
	out := make(map[string]toolCallMeta)
	for _, m := range messages {
		if m == nil {
			continue
		}
		for _, tc := range m.ToolCalls {
			out[tc.ID] = toolCallMeta{Name: tc.Name, Target: toolInputTarget(tc.Name, tc.Input)}
		}
	}
	return out
}

// toolInputTarget extracts the identity a tool call operated against, so
// two calls can be compared for redundancy: a file path for the file tools,
// or the search pattern/glob pair for search_codebase. Returns "" for tools
// with no stable notion of target.
func toolInputTarget(name string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	switch name {
	case "read_file", "list_files", "edit_file", "create_file":
		var params struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &params); err == nil {
			return params.Path
		}
	case "search_codebase":
		var params struct {
			Pattern  string `json:"pattern"`
			FileGlob string `json:"file_glob"`
		}
		if err := json.Unmarshal(input, &params); err == nil && params.Pattern != "" {
			return params.Pattern + "|" + params.FileGlob
		}
	}
	return ""
}

// summaryTag marks a synthesized tier 3 message so a later compaction pass
// can recognize and fold it into the next summary instead of discarding it.
const summaryTag = "[Summary]"

// synthesizeSummary is tier 3: collapse the editable window into a single
// synthetic user message summarizing what happened, deterministically
// (no model call), when tiers 1 and 2 were not enough. Any prior summary
// message already inside the window is folded into the new one rather than
// dropped.
func synthesizeSummary(messages []*models.Message, start, end int) ([]*models.Message, bool) {
	if end <= start || end > len(messages) {
		return messages, false
	}

	var priorSummary string
	toolCounts := make(map[string]int)
	filesTouched := make(map[string]bool)
	var errorMentions []string
	var blockerMentions []string

	for i := start; i < end; i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}
		if priorSummary == "" && strings.HasPrefix(msg.Content, summaryTag) {
			priorSummary = strings.TrimSpace(strings.TrimPrefix(msg.Content, summaryTag))
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), "blocker") {
			blockerMentions = append(blockerMentions, strings.TrimSpace(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			toolCounts[tc.Name]++
			if path := toolInputTarget(tc.Name, tc.Input); path != "" {
				filesTouched[path] = true
			}
		}
		for _, tr := range msg.ToolResults {
			if tr.IsError {
				errorMentions = append(errorMentions, compactedExcerpt(tr.Content))
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(summaryTag)
	sb.WriteString("\n")

	if priorSummary != "" {
		sb.WriteString("Previously: ")
		sb.WriteString(priorSummary)
		sb.WriteString("\n")
	}

	if len(toolCounts) > 0 {
		sb.WriteString("Tool calls made: ")
		first := true
		for name, count := range toolCounts {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(fmt.Sprintf("%s x%d", name, count))
		}
		sb.WriteString("\n")
	}
	if len(filesTouched) > 0 {
		sb.WriteString("Files touched: ")
		first := true
		for f := range filesTouched {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(f)
		}
		sb.WriteString("\n")
	}
	if len(errorMentions) > 0 {
		sb.WriteString("Errors encountered: ")
		sb.WriteString(strings.Join(errorMentions, "; "))
		sb.WriteString("\n")
	}
	if len(blockerMentions) > 0 {
		sb.WriteString("Blocker mentions: ")
		sb.WriteString(strings.Join(blockerMentions, "; "))
		sb.WriteString("\n")
	}

	summary := &models.Message{
		Role:    models.RoleUser,
		Content: sb.String(),
	}

	out := make([]*models.Message, 0, len(messages)-(end-start)+1)
	out = append(out, messages[:start]...)
	out = append(out, summary)
	out = append(out, messages[end:]...)
	return out, true
}
