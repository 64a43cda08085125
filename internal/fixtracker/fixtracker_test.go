package fixtracker

import "testing"

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line number", "Error at line 42 in script", "error at line n in script"},
		{"file path keeps basename", `File "/home/user/project/main.py" failed`, `file "main.py" failed`},
		{"memory address", "object at 0xdeadbeef", "object at 0xaddr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeError(tt.in); got != tt.want {
				t.Errorf("NormalizeError(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashErrorStableAcrossVolatileDetails(t *testing.T) {
	a := "ModuleNotFoundError: No module named 'requests' at line 10"
	b := "ModuleNotFoundError: No module named 'requests' at line 99"
	if HashError(a) != HashError(b) {
		t.Errorf("expected identical signatures, got %q and %q", HashError(a), HashError(b))
	}

	c := "ImportError: cannot import name 'foo'"
	if HashError(a) == HashError(c) {
		t.Error("expected different signatures for different errors")
	}
}

func TestExtractErrorType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ModuleNotFoundError: No module named 'x'", "ModuleNotFoundError"},
		{"SomeException: bad thing happened", "SomeException"},
		{"E501 line too long", "E501"},
		{"all good", ""},
	}
	for _, tt := range tests {
		if got := ExtractErrorType(tt.in); got != tt.want {
			t.Errorf("ExtractErrorType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordAttemptAndWasAttempted(t *testing.T) {
	tr := New()
	err := "SyntaxError: invalid syntax at line 5"
	if tr.WasAttempted(err, "add missing colon") {
		t.Fatal("expected fix to not be attempted yet")
	}
	tr.RecordAttempt(err, "add missing colon", "main.py")
	if !tr.WasAttempted(err, "Add Missing Colon") {
		t.Error("expected case-insensitive match")
	}
}

func TestRecordOutcomeTracksFailures(t *testing.T) {
	tr := New()
	err := "SyntaxError: invalid syntax at line 5"
	tr.RecordAttempt(err, "add missing colon", "main.py")
	tr.RecordOutcome(err, "add missing colon", OutcomeFailed)

	if got := tr.GetFailureCount(err); got != 1 {
		t.Errorf("GetFailureCount = %d, want 1", got)
	}
	if got := tr.GetFileFailureCount("main.py"); got != 1 {
		t.Errorf("GetFileFailureCount = %d, want 1", got)
	}
	if got := tr.GetTotalFailures(); got != 1 {
		t.Errorf("GetTotalFailures = %d, want 1", got)
	}
}

func TestShouldEscalateSameErrorThreshold(t *testing.T) {
	tr := New()
	err := "SyntaxError: invalid syntax at line 5"

	for i := 0; i < MaxSameErrorAttempts-1; i++ {
		tr.RecordAttempt(err, "fix attempt", "main.py")
		tr.RecordOutcome(err, "fix attempt", OutcomeFailed)
		if d := tr.ShouldEscalate(err, "main.py"); d.ShouldEscalate {
			t.Fatalf("escalated too early at attempt %d", i+1)
		}
	}

	tr.RecordAttempt(err, "fix attempt", "main.py")
	tr.RecordOutcome(err, "fix attempt", OutcomeFailed)
	d := tr.ShouldEscalate(err, "main.py")
	if !d.ShouldEscalate {
		t.Fatal("expected escalation after reaching same-error threshold")
	}
	if d.Reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestShouldEscalateSameFileDifferentErrors(t *testing.T) {
	tr := New()
	for i := 0; i < MaxSameFileAttempts; i++ {
		err := stringRepeat("x", i+1) + " distinct error"
		tr.RecordAttempt(err, "fix", "app.py")
		tr.RecordOutcome(err, "fix", OutcomeFailed)
	}
	d := tr.ShouldEscalate("yet another distinct error", "app.py")
	if !d.ShouldEscalate {
		t.Fatal("expected escalation from repeated same-file failures")
	}
}

func TestShouldEscalateTotalFailures(t *testing.T) {
	tr := New()
	for i := 0; i < MaxTotalFailures; i++ {
		err := stringRepeat("z", i+1) + " unique error"
		tr.RecordAttempt(err, "fix", "")
		tr.RecordOutcome(err, "fix", OutcomeFailed)
	}
	d := tr.ShouldEscalate("one more completely unrelated error", "")
	if !d.ShouldEscalate {
		t.Fatal("expected escalation once total failures reach threshold")
	}
}

func TestResetClearsState(t *testing.T) {
	tr := New()
	err := "SomeError: boom"
	tr.RecordAttempt(err, "fix", "a.py")
	tr.RecordOutcome(err, "fix", OutcomeFailed)
	tr.Reset()

	if tr.GetTotalFailures() != 0 {
		t.Error("expected total failures to reset to 0")
	}
	if tr.WasAttempted(err, "fix") {
		t.Error("expected attempts to be cleared")
	}
}

func stringRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
