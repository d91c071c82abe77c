package phase

import (
	"testing"
	"time"
)

func TestNewSetRefactorLevel(t *testing.T) {
	s := NewSet(2, true)
	if !s.Mandatory(RefactorL1) || !s.Mandatory(RefactorL2) {
		t.Fatal("expected REFACTOR_L1 and L2 mandatory at level 2")
	}
	if s.Mandatory(RefactorL3) || s.Mandatory(RefactorL4) {
		t.Fatal("expected REFACTOR_L3 and L4 not mandatory at level 2")
	}
}

func TestNextMandatoryWalksOrder(t *testing.T) {
	s := NewSet(0, true)
	now := time.Now()

	next, err := s.NextMandatory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name != Prepare {
		t.Fatalf("expected PREPARE first, got %s", next.Name)
	}

	if err := next.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}

	// While PREPARE is IN_PROGRESS, NextMandatory must return it again.
	again, err := s.NextMandatory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Name != Prepare {
		t.Fatalf("expected active phase PREPARE returned, got %s", again.Name)
	}

	if err := next.Finish(Pass, now.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	afterPrepare, err := s.NextMandatory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if afterPrepare.Name != RedAcceptance {
		t.Fatalf("expected RED_ACCEPTANCE next, got %s", afterPrepare.Name)
	}
}

func TestNextMandatorySkipsNonMandatoryRefactorLevels(t *testing.T) {
	s := NewSet(1, true)
	now := time.Now()

	// Drive everything up through REFACTOR_L1.
	order := []Name{Prepare, RedAcceptance, RedUnit, GreenUnit, Review, RefactorL1}
	for _, n := range order {
		p := s.Get(n)
		if err := p.Start(now); err != nil {
			t.Fatalf("start %s: %v", n, err)
		}
		if err := p.Finish(Pass, now); err != nil {
			t.Fatalf("finish %s: %v", n, err)
		}
	}

	next, err := s.NextMandatory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Name != Validate {
		t.Fatalf("expected VALIDATE (skipping L2-L4), got %s", next.Name)
	}
}

func TestAllPassedRequiresEveryMandatoryPhase(t *testing.T) {
	s := NewSet(0, true)
	now := time.Now()

	if s.AllPassed() {
		t.Fatal("expected AllPassed false before any phase runs")
	}

	for _, n := range Order {
		p := s.Get(n)
		if err := p.Start(now); err != nil {
			t.Fatalf("start %s: %v", n, err)
		}
		if err := p.Finish(Pass, now); err != nil {
			t.Fatalf("finish %s: %v", n, err)
		}
	}

	if !s.AllPassed() {
		t.Fatal("expected AllPassed true once every phase reaches PASS")
	}
}

func TestActivePhaseDetectsConcurrency(t *testing.T) {
	s := NewSet(0, true)
	now := time.Now()

	p1 := s.Get(Prepare)
	p2 := s.Get(RedAcceptance)
	if err := p1.Start(now); err != nil {
		t.Fatalf("start p1: %v", err)
	}
	// Force an illegal second concurrent phase directly for the test, since
	// the Orchestrator itself should never produce this state.
	if err := p2.Start(now); err != nil {
		t.Fatalf("start p2: %v", err)
	}

	if _, err := s.ActivePhase(); err != ErrConcurrentPhase {
		t.Fatalf("expected ErrConcurrentPhase, got %v", err)
	}
}

func TestPhaseAbandonResetsToNotExecuted(t *testing.T) {
	p := NewPhase(GreenUnit)
	now := time.Now()
	if err := p.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}

	p.Abandon(now.Add(10 * time.Minute))

	if p.Status != NotExecuted {
		t.Fatalf("expected NOT_EXECUTED after abandon, got %s", p.Status)
	}
	if len(p.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(p.History))
	}
	if p.History[0].Status != InProgress {
		t.Fatalf("expected history entry to record IN_PROGRESS, got %s", p.History[0].Status)
	}
}
