package classifier

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"tactical which approach", "Which approach should I take for the cache?", CategoryNone},
		{"tactical overrides requirements", "please clarify the design decision on auth", CategoryNone},
		{"requirements ambiguity", "Conflicting requirements between PRD sections", CategoryRequirements},
		{"access permission denied", "Error: permission denied writing to /etc", CategoryAccess},
		{"access api key", "api key not configured for provider", CategoryAccess},
		{"external service", "upstream service unavailable, try again later", CategoryExternalService},
		{"external before technical", "service unavailable: file not found", CategoryExternalService},
		{"technical file not found", "FileNotFoundError: no such file 'a.py'", CategoryNone},
		{"no match", "all tests passed", CategoryNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestShouldCreateBlocker(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		attemptCount int
		wantBlock    bool
	}{
		{"requirements always blocks", "business decision needed on pricing", 0, true},
		{"access always blocks", "unauthorized access to repo", 0, true},
		{"external service first attempt does not block", "connection refused", 0, false},
		{"external service first attempt does not block", "connection refused", 1, false},
		{"external service after retries blocks", "connection refused", 2, true},
		{"tactical never blocks", "which framework should I use", 5, false},
		{"technical never blocks", "syntax error on line 3", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := ShouldCreateBlocker(tt.text, tt.attemptCount)
			if got != tt.wantBlock {
				t.Errorf("ShouldCreateBlocker(%q, %d) = %v, want %v", tt.text, tt.attemptCount, got, tt.wantBlock)
			}
			if got && reason == "" {
				t.Errorf("expected non-empty reason when blocking")
			}
		})
	}
}

func TestClassifyOrderingTieBreak(t *testing.T) {
	// "which configuration" is tactical and must win over the access
	// pattern "credentials" even when both appear in the same string.
	text := "which configuration stores the credentials?"
	if got := Classify(text); got != CategoryNone {
		t.Errorf("expected tactical pattern to win tie-break, got %q", got)
	}
}
