// Package workflow holds the SLA/status engine for licensing processes.
//
// Transition is a pure function over (process, target status): it never touches
// storage, so the store can run it inside whatever transaction it likes. The
// two deadline clocks work like this: the agency deadline is fixed at intake
// and only ever ignored (while the process waits on the applicant), and the
// applicant deadline exists exactly while the process is in pendencia.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rota/internal/domain"
)

// ErrIllegalTransition is returned for status changes the transition table
// forbids.
var ErrIllegalTransition = errors.New("illegal status transition")

// DateFormat is how deadline dates are stored and exchanged.
const DateFormat = "2006-01-02"

// Engine computes process state changes. The zero value is not usable; use New
// or fill the fields. Now and IssuanceCode are injectable for tests.
type Engine struct {
	Now           func() time.Time
	IssuanceCode  func(processID string) string
	AgencyDays    int
	ApplicantDays int
}

func New() Engine {
	return Engine{
		Now:           time.Now,
		IssuanceCode:  DefaultIssuanceCode,
		AgencyDays:    30,
		ApplicantDays: 15,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// DefaultIssuanceCode derives a license code from the process id plus a random
// suffix, so codes are tied to the protocol but not guessable.
func DefaultIssuanceCode(processID string) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("LIC-%s-%s", processID, suffix)
}

// Extras carries auxiliary field overrides applied during a transition, such
// as issuance metadata. Unknown concerns do not belong here; answers and
// documents have their own store operations.
type Extras struct {
	IssuanceCode string
}

// allowed implements the transition table. The historical behavior accepted
// any edge; the one edge we now forbid is re-entering aberto, which would
// reset a protocol that already started its review. emitido -> indeferido
// stays permitted: issuance can be struck down afterwards, and the issuance
// code survives per the never-cleared rule.
func allowed(from, to domain.Status) bool {
	if to == domain.StatusAberto {
		return from == domain.StatusAberto
	}
	return true
}

// Transition returns a copy of p moved to target. Exactly one history entry is
// prepended. Deadline policy, in precedence order:
//
//  1. entering pendencia starts the applicant clock (now + ApplicantDays)
//  2. pendencia -> em_analise clears it (applicant answered, agency clock
//     becomes the active one again)
//  3. anything else leaves the applicant deadline untouched
//
// The agency deadline is never rewritten here. Entering emitido attaches an
// issuance code once; later transitions never clear it.
func (e Engine) Transition(p domain.Process, target domain.Status, actor, note string, extra Extras) (domain.Process, error) {
	if !target.Valid() {
		return p, fmt.Errorf("unknown status %q", target)
	}
	if !allowed(p.Status, target) {
		return p, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.Status, target)
	}
	now := e.now().UTC()

	next := p
	next.Status = target
	next.UpdatedAt = now.Format(time.RFC3339)

	switch {
	case target == domain.StatusPendencia:
		d := now.AddDate(0, 0, e.ApplicantDays).Format(DateFormat)
		next.ApplicantDeadline = &d
	case target == domain.StatusEmAnalise && p.Status == domain.StatusPendencia:
		next.ApplicantDeadline = nil
	}

	if target == domain.StatusEmitido && next.IssuanceCode == "" {
		code := extra.IssuanceCode
		if code == "" {
			if e.IssuanceCode != nil {
				code = e.IssuanceCode(p.ID)
			} else {
				code = DefaultIssuanceCode(p.ID)
			}
		}
		next.IssuanceCode = code
	}

	entry := domain.HistoryEntry{
		ID:     uuid.New().String(),
		Date:   now.Format(time.RFC3339),
		Action: "Mudança para " + target.Label(),
		Actor:  actor,
		Note:   note,
	}
	next.History = prepend(p.History, entry)
	return next, nil
}

// CreationDefaults fills the fields every new process starts with: status
// aberto, the agency clock at now + AgencyDays, no applicant clock, and the
// protocol history entry.
func (e Engine) CreationDefaults(p domain.Process, actor string) domain.Process {
	now := e.now().UTC()
	agency := now.AddDate(0, 0, e.AgencyDays).Format(DateFormat)
	p.Status = domain.StatusAberto
	p.CreatedAt = now.Format(time.RFC3339)
	p.UpdatedAt = p.CreatedAt
	p.AgencyDeadline = &agency
	p.ApplicantDeadline = nil
	p.History = []domain.HistoryEntry{{
		ID:     uuid.New().String(),
		Date:   now.Format(time.RFC3339),
		Action: "Protocolo Gerado",
		Actor:  actor,
	}}
	return p
}

// CheckInvariants verifies the record-level rules that must hold after every
// transition. A process in pendencia always carries an applicant deadline.
// The converse is asymmetric on purpose: only em_analise clears the deadline
// on the way out of pendencia, so other exits retain a stale one (the traffic
// light ignores it then, since it only reads the applicant clock while the
// status is pendencia).
func CheckInvariants(p domain.Process) error {
	if p.Status == domain.StatusPendencia && p.ApplicantDeadline == nil {
		return errors.New("pendencia without applicant deadline")
	}
	if p.Status == domain.StatusAberto && p.ApplicantDeadline != nil {
		return errors.New("applicant deadline on a fresh protocol")
	}
	return nil
}

func prepend(history []domain.HistoryEntry, entry domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, 0, len(history)+1)
	out = append(out, entry)
	return append(out, history...)
}
