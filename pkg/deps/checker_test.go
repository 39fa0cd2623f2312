package deps

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCheckAllReportsMissingDeps(t *testing.T) {
	c := NewChecker("definitely-not-a-real-binary-xyz")
	err := c.CheckAll()
	var missing *MissingDepsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingDepsError, got %v", err)
	}
	if len(missing.Dependencies) != 1 {
		t.Fatalf("Dependencies = %v, want 1 entry", missing.Dependencies)
	}
}

func TestCheckAllPassesForAvailableBinary(t *testing.T) {
	c := NewChecker("sh")
	if err := c.CheckAll(); err != nil {
		t.Fatalf("unexpected error for a binary that should be on PATH: %v", err)
	}
}

func TestCheckAndLogMatchesCheckAll(t *testing.T) {
	c := NewChecker("definitely-not-a-real-binary-xyz")
	err := c.CheckAndLog(zerolog.Nop())
	var missing *MissingDepsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingDepsError, got %v", err)
	}
}
