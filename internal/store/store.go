// Package store is the aggregate root over licensing processes: intake,
// status transitions, the document checklist and submission for review.
//
// Every mutation runs in its own transaction over the single sqlite workspace,
// so concurrent writes to the same protocol serialize on the row and a failed
// step leaves nothing half-applied.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"rota/internal/catalog"
	"rota/internal/config"
	"rota/internal/domain"
	"rota/internal/events"
	"rota/internal/repo"
	"rota/internal/workflow"
)

// ErrIncompleteDocuments is returned by SubmitForReview while required
// documents are still missing.
var ErrIncompleteDocuments = errors.New("required documents incomplete")

// ValidationError marks intake payloads the caller can fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type Store struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Catalog  *catalog.Catalog
	Engine   workflow.Engine
	WarnDays int
	Now      func() time.Time

	validate *validator.Validate
}

func New(db *sql.DB, cfg *config.Config, cat *catalog.Catalog) Store {
	eng := workflow.New()
	eng.AgencyDays = cfg.SLA.AgencyDays
	eng.ApplicantDays = cfg.SLA.ApplicantDays
	return Store{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Catalog:  cat,
		Engine:   eng,
		WarnDays: cfg.SLA.WarnDays,
		Now:      time.Now,
		validate: validator.New(),
	}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Intake is the payload for opening a new process.
type Intake struct {
	ApplicantID   string            `json:"applicant_id" validate:"required"`
	ApplicantName string            `json:"applicant_name" validate:"required"`
	ActivityID    string            `json:"activity_id" validate:"required"`
	Answers       map[string]string `json:"answers"`
}

// Create opens a new process: validates the intake against the activity
// catalog, assigns the next sequential protocol number for the year and
// writes the row, its document checklist and the first history entry in one
// transaction.
func (s Store) Create(ctx context.Context, in Intake, actorID string) (domain.Process, error) {
	if err := s.validate.Struct(in); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return domain.Process{}, ValidationError{Field: invalid[0].Field(), Reason: "is required"}
		}
		return domain.Process{}, err
	}
	activity, ok := s.Catalog.Get(in.ActivityID)
	if !ok {
		return domain.Process{}, ValidationError{Field: "activity_id", Reason: fmt.Sprintf("unknown activity %q", in.ActivityID)}
	}
	if !activity.Active {
		return domain.Process{}, ValidationError{Field: "activity_id", Reason: fmt.Sprintf("activity %q no longer accepts new processes", in.ActivityID)}
	}
	if err := validateAnswers(activity, in.Answers); err != nil {
		return domain.Process{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	year := s.now().UTC().Year()
	n, err := s.Repo.NextProtocolTx(ctx, tx, year)
	if err != nil {
		return domain.Process{}, fmt.Errorf("next protocol: %w", err)
	}

	p := domain.Process{
		ID:            fmt.Sprintf("PROC-%d-%03d", year, n),
		ApplicantID:   in.ApplicantID,
		ApplicantName: in.ApplicantName,
		ActivityID:    activity.ID,
		ActivityName:  activity.Name,
		Answers:       in.Answers,
		Documents:     make(map[string]bool, len(activity.RequiredDocuments)),
	}
	for _, d := range activity.RequiredDocuments {
		p.Documents[d.ID] = false
	}
	p = s.Engine.CreationDefaults(p, actorOrApplicant(actorID, in.ApplicantName))

	if err := s.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, fmt.Errorf("insert process: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.TypeProcessCreated, p.ID, actorID, events.EventPayload{
		"activity_id": p.ActivityID,
		"applicant":   p.ApplicantID,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return p, nil
}

func actorOrApplicant(actorID, applicantName string) string {
	if actorID != "" {
		return actorID
	}
	return applicantName
}

// validateAnswers rejects answers for questions the activity does not ask,
// select answers outside the listed options, and non-numeric answers to
// number questions.
func validateAnswers(activity domain.Activity, answers map[string]string) error {
	for id, value := range answers {
		q, ok := activity.Question(id)
		if !ok {
			return ValidationError{Field: "answers." + id, Reason: fmt.Sprintf("activity %q has no such question", activity.ID)}
		}
		switch q.Type {
		case "number":
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return ValidationError{Field: "answers." + id, Reason: fmt.Sprintf("%q is not a number", value)}
			}
		case "select":
			if !contains(q.Options, value) {
				return ValidationError{Field: "answers." + id, Reason: fmt.Sprintf("%q is not one of the options", value)}
			}
		}
	}
	return nil
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// TransitionStatus moves one process through the workflow. Read, pure
// transition, write and audit all happen in the same transaction.
func (s Store) TransitionStatus(ctx context.Context, id string, target domain.Status, actorID, note string, extra workflow.Extras) (domain.Process, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := s.Repo.GetProcessTx(ctx, tx, id)
	if err != nil {
		return domain.Process{}, err
	}
	from := p.Status
	next, err := s.Engine.Transition(p, target, actorID, note, extra)
	if err != nil {
		return domain.Process{}, err
	}
	if err := s.Repo.UpdateProcessTx(ctx, tx, next); err != nil {
		return domain.Process{}, err
	}
	if err := s.Repo.InsertHistoryTx(ctx, tx, next.ID, next.History[0]); err != nil {
		return domain.Process{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeStatusChanged, next.ID, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(target),
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return next, nil
}

func (s Store) Get(ctx context.Context, id string) (domain.Process, error) {
	return s.Repo.GetProcess(ctx, id)
}

func (s Store) List(ctx context.Context, f repo.ProcessFilters) ([]domain.Process, error) {
	return s.Repo.ListProcesses(ctx, f)
}

func (s Store) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	if _, err := s.Repo.GetProcess(ctx, id); err != nil {
		return nil, err
	}
	return s.Repo.ListHistory(ctx, id)
}

// Urgency classifies the process against the wall clock. Never cached.
func (s Store) Urgency(ctx context.Context, id string) (domain.Light, error) {
	p, err := s.Repo.GetProcess(ctx, id)
	if err != nil {
		return "", err
	}
	return workflow.TrafficLightWarn(p, s.now(), s.WarnDays), nil
}

// MarkDocumentReceived flips one checklist entry. Marking the same document
// twice is a no-op, and independent documents can be marked in any order.
func (s Store) MarkDocumentReceived(ctx context.Context, id, docID, actorID string) (domain.Process, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := s.Repo.GetProcessTx(ctx, tx, id)
	if err != nil {
		return domain.Process{}, err
	}
	if err := s.Repo.SetDocumentTx(ctx, tx, id, docID, true); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Process{}, ValidationError{Field: "doc_id", Reason: fmt.Sprintf("process %s has no document %q", id, docID)}
		}
		return domain.Process{}, err
	}
	p.Documents[docID] = true
	p.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.UpdateProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeDocumentReceived, id, actorID, events.EventPayload{
		"doc_id": docID,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return p, nil
}

// SetAnswers merges new answers into the process, validated against the
// activity's questions.
func (s Store) SetAnswers(ctx context.Context, id string, answers map[string]string, actorID string) (domain.Process, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := s.Repo.GetProcessTx(ctx, tx, id)
	if err != nil {
		return domain.Process{}, err
	}
	if activity, ok := s.Catalog.Get(p.ActivityID); ok {
		if err := validateAnswers(activity, answers); err != nil {
			return domain.Process{}, err
		}
	}
	if p.Answers == nil {
		p.Answers = make(map[string]string, len(answers))
	}
	for k, v := range answers {
		p.Answers[k] = v
	}
	p.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.UpdateProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeAnswersUpdated, id, actorID, nil); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return p, nil
}

// Completeness is the percentage of required documents received, rounded
// down. Optional documents never count against the applicant.
func (s Store) Completeness(p domain.Process) int {
	required, received := 0, 0
	activity, ok := s.Catalog.Get(p.ActivityID)
	if !ok {
		// activity gone from the catalog; treat every checklist entry as required
		for _, got := range p.Documents {
			required++
			if got {
				received++
			}
		}
	} else {
		for _, d := range activity.RequiredDocuments {
			if !d.Required {
				continue
			}
			required++
			if p.Documents[d.ID] {
				received++
			}
		}
	}
	if required == 0 {
		return 100
	}
	return received * 100 / required
}

// SubmitForReview moves a fresh protocol into analysis, but only once every
// required document has been received. Only aberto protocols can be
// submitted: submit is open to the applicant while arbitrary transitions are
// not, so it must not double as a way to reopen a case already in review or
// decided. The gate, the transition and both audit rows commit together.
func (s Store) SubmitForReview(ctx context.Context, id, actorID string) (domain.Process, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := s.Repo.GetProcessTx(ctx, tx, id)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Status != domain.StatusAberto {
		return domain.Process{}, fmt.Errorf("%w: %s -> %s (only aberto protocols can be submitted)", workflow.ErrIllegalTransition, p.Status, domain.StatusEmAnalise)
	}
	if got := s.Completeness(p); got < 100 {
		return domain.Process{}, fmt.Errorf("%w: %d%% of required documents received", ErrIncompleteDocuments, got)
	}
	next, err := s.Engine.Transition(p, domain.StatusEmAnalise, actorID, "Protocolo enviado para análise", workflow.Extras{})
	if err != nil {
		return domain.Process{}, err
	}
	if err := s.Repo.UpdateProcessTx(ctx, tx, next); err != nil {
		return domain.Process{}, err
	}
	if err := s.Repo.InsertHistoryTx(ctx, tx, next.ID, next.History[0]); err != nil {
		return domain.Process{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeStatusChanged, next.ID, actorID, events.EventPayload{
		"from": string(domain.StatusAberto),
		"to":   string(domain.StatusEmAnalise),
	}); err != nil {
		return domain.Process{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeSubmitted, next.ID, actorID, nil); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return next, nil
}
