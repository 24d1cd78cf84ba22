package workflow_test

import (
	"errors"
	"testing"
	"time"

	"rota/internal/domain"
	"rota/internal/workflow"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testEngine() workflow.Engine {
	e := workflow.New()
	e.Now = func() time.Time { return testNow }
	e.IssuanceCode = func(id string) string { return "LIC-" + id + "-TEST" }
	return e
}

func newProcess(e workflow.Engine) domain.Process {
	p := domain.Process{
		ID:            "PROC-2026-001",
		ApplicantName: "Laticínios Vale do Sol",
		ActivityID:    "laticinio",
		ActivityName:  "Laticínio",
	}
	return e.CreationDefaults(p, "Laticínios Vale do Sol")
}

func TestCreationDefaults(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	if p.Status != domain.StatusAberto {
		t.Fatalf("status = %s, want aberto", p.Status)
	}
	if p.AgencyDeadline == nil || *p.AgencyDeadline != "2026-04-09" {
		t.Fatalf("agency deadline = %v, want 2026-04-09", p.AgencyDeadline)
	}
	if p.ApplicantDeadline != nil {
		t.Fatalf("applicant deadline should start nil")
	}
	if len(p.History) != 1 || p.History[0].Action != "Protocolo Gerado" {
		t.Fatalf("unexpected history %+v", p.History)
	}
	if err := workflow.CheckInvariants(p); err != nil {
		t.Fatal(err)
	}
}

func TestPendenciaStartsApplicantClock(t *testing.T) {
	e := testEngine()
	// regardless of prior state
	for _, from := range []domain.Status{domain.StatusAberto, domain.StatusEmAnalise, domain.StatusVistoriaAgendada} {
		p := newProcess(e)
		p.Status = from
		next, err := e.Transition(p, domain.StatusPendencia, "Henrique M.", "faltou CSAO", workflow.Extras{})
		if err != nil {
			t.Fatalf("from %s: %v", from, err)
		}
		if next.ApplicantDeadline == nil || *next.ApplicantDeadline != "2026-03-25" {
			t.Fatalf("from %s: applicant deadline = %v, want 2026-03-25", from, next.ApplicantDeadline)
		}
		if next.AgencyDeadline == nil || *next.AgencyDeadline != *p.AgencyDeadline {
			t.Fatalf("agency deadline must not move on transition")
		}
		if err := workflow.CheckInvariants(next); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEmAnaliseClearsApplicantClock(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	p, err := e.Transition(p, domain.StatusPendencia, "Henrique M.", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	p, err = e.Transition(p, domain.StatusEmAnalise, "Henrique M.", "resposta recebida", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if p.ApplicantDeadline != nil {
		t.Fatalf("applicant deadline = %v, want nil after resume", p.ApplicantDeadline)
	}
	if err := workflow.CheckInvariants(p); err != nil {
		t.Fatal(err)
	}
}

// Only em_analise clears the applicant deadline on the way out of pendencia.
// Other exits keep the stale value around; the traffic light no longer reads
// it then, but the asymmetry is intentional and pinned down here.
func TestPendenciaExitAsymmetry(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	p, err := e.Transition(p, domain.StatusPendencia, "Henrique M.", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	next, err := e.Transition(p, domain.StatusVistoriaAgendada, "Henrique M.", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if next.ApplicantDeadline == nil {
		t.Fatalf("vistoria_agendada exit should retain the applicant deadline")
	}
	if got := workflow.TrafficLight(next, testNow); got != domain.LightGreen {
		t.Fatalf("light = %s, want green (agency clock far out)", got)
	}
}

func TestEmAnaliseWithoutPendenciaLeavesDeadlineAlone(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	next, err := e.Transition(p, domain.StatusEmAnalise, "Henrique M.", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if next.ApplicantDeadline != nil {
		t.Fatalf("applicant deadline should stay nil")
	}
}

func TestHistoryPrependsExactlyOneEntry(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	steps := []domain.Status{
		domain.StatusEmAnalise,
		domain.StatusPendencia,
		domain.StatusEmAnalise,
		domain.StatusVistoriaAgendada,
		domain.StatusEmitido,
	}
	for i, s := range steps {
		var err error
		p, err = e.Transition(p, s, "Gestor", "", workflow.Extras{})
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, s, err)
		}
		if len(p.History) != i+2 {
			t.Fatalf("after %d transitions history has %d entries, want %d", i+1, len(p.History), i+2)
		}
		if p.History[0].Action != "Mudança para "+s.Label() {
			t.Fatalf("newest entry %q", p.History[0].Action)
		}
	}
	if p.History[len(p.History)-1].Action != "Protocolo Gerado" {
		t.Fatalf("oldest entry must remain the protocol entry")
	}
}

func TestIssuanceCodeSetOnceNeverCleared(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	p, err := e.Transition(p, domain.StatusEmitido, "Gestor", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if p.IssuanceCode != "LIC-PROC-2026-001-TEST" {
		t.Fatalf("issuance code = %q", p.IssuanceCode)
	}
	// Striking down an issued license keeps the code on record.
	p, err = e.Transition(p, domain.StatusIndeferido, "Gestor", "licença cassada", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if p.IssuanceCode != "LIC-PROC-2026-001-TEST" {
		t.Fatalf("issuance code cleared: %q", p.IssuanceCode)
	}
	// Re-entering emitido must not mint a second code.
	p, err = e.Transition(p, domain.StatusEmitido, "Gestor", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	if p.IssuanceCode != "LIC-PROC-2026-001-TEST" {
		t.Fatalf("issuance code regenerated: %q", p.IssuanceCode)
	}
}

func TestRejectsReopening(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	p, err := e.Transition(p, domain.StatusEmAnalise, "Gestor", "", workflow.Extras{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Transition(p, domain.StatusAberto, "Gestor", "", workflow.Extras{})
	if !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestRejectsUnknownStatus(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	if _, err := e.Transition(p, domain.Status("arquivado"), "Gestor", "", workflow.Extras{}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	e := testEngine()
	p := newProcess(e)
	before := len(p.History)
	if _, err := e.Transition(p, domain.StatusPendencia, "Gestor", "", workflow.Extras{}); err != nil {
		t.Fatal(err)
	}
	if len(p.History) != before || p.Status != domain.StatusAberto || p.ApplicantDeadline != nil {
		t.Fatal("input process was mutated")
	}
}
