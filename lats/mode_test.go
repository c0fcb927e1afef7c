package lats

import "testing"

func TestParseModeRoundTrip(t *testing.T) {
	modes := []Mode{ModeTrain, ModeTest, ModeTraverse, ModeDeploy, ModeCompare}
	for _, m := range modes {
		parsed, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%q) failed: %v", m.String(), err)
		}
		if parsed != m {
			t.Errorf("round trip for %q: got %v, want %v", m.String(), parsed, m)
		}
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("dream"); err == nil {
		t.Error("expected an error for an unknown mode name")
	}
}

func TestIsInference(t *testing.T) {
	if ModeTrain.IsInference() {
		t.Error("train mode should not report as inference")
	}
	for _, m := range []Mode{ModeTest, ModeTraverse, ModeDeploy, ModeCompare} {
		if !m.IsInference() {
			t.Errorf("%v should report as inference", m)
		}
	}
}
