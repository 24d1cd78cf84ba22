package domain

// Status of a licensing process. Stored as lowercase codes; Label gives the
// display form used in history entries and the UI.
type Status string

const (
	StatusAberto           Status = "aberto"
	StatusEmAnalise        Status = "em_analise"
	StatusPendencia        Status = "pendencia"
	StatusVistoriaAgendada Status = "vistoria_agendada"
	StatusEmitido          Status = "emitido"
	StatusIndeferido       Status = "indeferido"
)

var statusLabels = map[Status]string{
	StatusAberto:           "Aberto",
	StatusEmAnalise:        "Em Análise",
	StatusPendencia:        "Pendência",
	StatusVistoriaAgendada: "Vistoria Agendada",
	StatusEmitido:          "Emitido",
	StatusIndeferido:       "Indeferido",
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Terminal reports whether the process has no active clock.
func (s Status) Terminal() bool {
	return s == StatusEmitido || s == StatusIndeferido
}

type DocumentRequirement struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type Question struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Type    string   `json:"type" enum:"number,select,text"`
	Options []string `json:"options,omitempty"`
}

// Activity is immutable reference data describing one licensable activity type:
// which documents the applicant must present and which technical questions the
// intake form asks.
type Activity struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Group             string                `json:"group"`
	Category          string                `json:"category"`
	RiskLevel         string                `json:"risk_level"`
	SortOrder         int                   `json:"sort_order"`
	Active            bool                  `json:"is_active"`
	RequiredDocuments []DocumentRequirement `json:"required_documents"`
	Questions         []Question            `json:"questions"`
}

// Question returns the question with the given id, if any.
func (a Activity) Question(id string) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type HistoryEntry struct {
	ID     string `json:"id"`
	Date   string `json:"date" format:"date-time"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Note   string `json:"note,omitempty"`
}

// Process is one licensing request tracked through the workflow.
//
// AgencyDeadline is set once at creation and never rewritten by a transition;
// while the process sits in pendencia the applicant deadline is the active
// clock and the agency one is conceptually frozen. ApplicantDeadline is set
// whenever the process enters pendencia and cleared only by the pendencia ->
// em_analise resume. History is newest-first and
// append-only: every transition prepends exactly one entry.
type Process struct {
	ID                string            `json:"id"`
	ApplicantID       string            `json:"applicant_id"`
	ApplicantName     string            `json:"applicant_name"`
	ActivityID        string            `json:"activity_id"`
	ActivityName      string            `json:"activity_name"`
	Status            Status            `json:"status" enum:"aberto,em_analise,pendencia,vistoria_agendada,emitido,indeferido"`
	CreatedAt         string            `json:"created_at" format:"date-time"`
	UpdatedAt         string            `json:"updated_at" format:"date-time"`
	AgencyDeadline    *string           `json:"agency_deadline,omitempty" format:"date"`
	ApplicantDeadline *string           `json:"applicant_deadline,omitempty" format:"date"`
	Documents         map[string]bool   `json:"documents"`
	Answers           map[string]string `json:"answers,omitempty"`
	History           []HistoryEntry    `json:"history"`
	IssuanceCode      string            `json:"issuance_code,omitempty"`
}

// Light is the urgency classification derived from the active deadline.
type Light string

const (
	LightGreen  Light = "green"
	LightYellow Light = "yellow"
	LightRed    Light = "red"
	LightGray   Light = "gray"
)

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProcessID string `json:"process_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}
