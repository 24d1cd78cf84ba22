package server

import (
	"rota/internal/domain"
)

// Request payloads

type CreateProcessRequest struct {
	ApplicantID   string            `json:"applicant_id,omitempty"`
	ApplicantName string            `json:"applicant_name"`
	ActivityID    string            `json:"activity_id"`
	Answers       map[string]string `json:"answers,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"em_analise,pendencia,vistoria_agendada,emitido,indeferido"`
	Note   string `json:"note,omitempty"`
}

type SetAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"empreendedor,licenciador,admin"`
}

// Response payloads

type ProcessResponse struct {
	ID                string               `json:"id"`
	ApplicantID       string               `json:"applicant_id"`
	ApplicantName     string               `json:"applicant_name"`
	ActivityID        string               `json:"activity_id"`
	ActivityName      string               `json:"activity_name"`
	Status            string               `json:"status"`
	StatusLabel       string               `json:"status_label"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
	AgencyDeadline    *string              `json:"agency_deadline,omitempty"`
	ApplicantDeadline *string              `json:"applicant_deadline,omitempty"`
	Documents         map[string]bool      `json:"documents"`
	Answers           map[string]string    `json:"answers,omitempty"`
	History           []domain.HistoryEntry `json:"history"`
	IssuanceCode      string               `json:"issuance_code,omitempty"`
	Completeness      int                  `json:"completeness"`
	Light             string               `json:"light"`
}

type UrgencyResponse struct {
	ProcessID     string `json:"process_id"`
	Light         string `json:"light"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	ProcessID string `json:"process_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ProcessID: e.ProcessID,
		ActorID:   e.ActorID,
		Payload:   e.Payload,
	}
}
