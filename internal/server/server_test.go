package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"rota/internal/catalog"
	"rota/internal/config"
	"rota/internal/db"
	"rota/internal/migrate"
	"rota/internal/store"
	"rota/internal/uploads"
)

var (
	staffHeaders     = map[string]string{"X-Actor-Id": "gestor-01"}
	applicantHeaders = map[string]string{"X-Actor-Id": "emp-01"}
	otherHeaders     = map[string]string{"X-Actor-Id": "emp-02"}
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Users = map[string]config.User{
		"gestor-01": {Name: "Henrique Meireles", Role: config.RoleLicenciador},
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Static()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	s := store.New(conn, cfg, cat)
	tracker := uploads.NewTracker(s)
	handler, err := New(Config{
		Store:    s,
		Catalog:  cat,
		Tracker:  tracker,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              cfg.Auth.JWTSecret,
			Roles:                  cfg.Role,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			tracker.Wait()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createProcess(t *testing.T, srv *testServer, headers map[string]string) ProcessResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"applicant_name": "Laticínios Vale do Sol",
		"activity_id":    "laticinio",
		"answers":        map[string]string{"water_source": "Poço Tubular"},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var p ProcessResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	return p
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestActivitiesArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var activities []map[string]any
	if err := json.Unmarshal(data, &activities); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(activities) != 22 {
		t.Fatalf("got %d activities, want 22", len(activities))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities/posto-combustivel", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get activity status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities/mineracao", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown activity status %d, want 404", res.StatusCode)
	}
}

func TestProcessesRequireAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/processes", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestProcessLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)
	if !strings.HasPrefix(p.ID, "PROC-") {
		t.Fatalf("protocol id %q", p.ID)
	}
	if p.Status != "aberto" || p.StatusLabel != "Aberto" {
		t.Fatalf("status %s/%s", p.Status, p.StatusLabel)
	}
	if p.Light != "green" {
		t.Fatalf("light %s", p.Light)
	}

	// applicants cannot transition
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/processes/"+p.ID+"/status", map[string]any{
		"status": "em_analise",
	}, applicantHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("applicant transition status %d: %s", res.StatusCode, string(data))
	}

	// staff can
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/processes/"+p.ID+"/status", map[string]any{
		"status": "pendencia",
		"note":   "faltou CSAO",
	}, staffHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var updated ProcessResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Status != "pendencia" || updated.ApplicantDeadline == nil {
		t.Fatalf("pendencia without applicant deadline: %+v", updated)
	}
	if len(updated.History) != 2 || updated.History[0].Action != "Mudança para Pendência" {
		t.Fatalf("history %+v", updated.History)
	}

	// reopening is rejected with a conflict
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/processes/"+p.ID+"/status", map[string]any{
		"status": "aberto",
	}, staffHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("reopen status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	// history endpoint, newest first
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+p.ID+"/history", nil, applicantHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []map[string]any
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 2 || history[0]["action"] != "Mudança para Pendência" {
		t.Fatalf("history %+v", history)
	}

	// urgency reflects the applicant clock during pendencia
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+p.ID+"/urgency", nil, applicantHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("urgency status %d: %s", res.StatusCode, string(data))
	}
	var urgency UrgencyResponse
	if err := json.Unmarshal(data, &urgency); err != nil {
		t.Fatalf("unmarshal urgency: %v", err)
	}
	if urgency.Light != "green" || urgency.DaysRemaining == nil || *urgency.DaysRemaining != 15 {
		t.Fatalf("urgency %+v", urgency)
	}
}

func TestSubmitGatedOnDocuments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/submit", nil, applicantHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("premature submit status %d: %s", res.StatusCode, string(data))
	}

	for _, doc := range []string{"pgrs", "effluents", "water", "manual"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/documents/"+doc+"/received", nil, staffHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("mark %s status %d: %s", doc, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/submit", nil, applicantHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted ProcessResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if submitted.Status != "em_analise" || submitted.Completeness != 100 {
		t.Fatalf("submitted %+v", submitted)
	}
}

// An applicant must not be able to use submit to pull a decided case back
// into analysis; that edge is reserved for fresh protocols.
func TestSubmitCannotReopenDecidedProcess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)

	for _, doc := range []string{"pgrs", "effluents", "water", "manual"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/documents/"+doc+"/received", nil, staffHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("mark %s status %d: %s", doc, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/processes/"+p.ID+"/status", map[string]any{
		"status": "indeferido",
		"note":   "atividade incompatível com a zona",
	}, staffHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/submit", nil, applicantHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("submit on indeferido status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+p.ID, nil, staffHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var got ProcessResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "indeferido" {
		t.Fatalf("status %s, decided case reopened", got.Status)
	}
}

func TestApplicantScoping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)

	// another applicant cannot see it
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+p.ID, nil, otherHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-applicant get status %d, want 404", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes", nil, otherHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list []ProcessResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("foreign applicant sees %d processes", len(list))
	}

	// staff see everything
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes", nil, staffHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("staff list status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("staff list has %d processes", len(list))
	}
}

func TestCreateRejectsUnknownActivity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/processes", map[string]any{
		"applicant_name": "X",
		"activity_id":    "mineracao",
	}, applicantHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTLoginFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "gestor-01",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "gestor-01" || who.Role != config.RoleLicenciador || who.Source != "jwt" {
		t.Fatalf("me %+v", who)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401", res.StatusCode)
	}
}

func TestUploadFlipsChecklist(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/documents/pgrs/upload", nil, applicantHeaders)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/processes/"+p.ID, nil, applicantHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("get status %d: %s", res.StatusCode, string(data))
		}
		var got ProcessResponse
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Documents["pgrs"] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("document never marked received: %+v", got.Documents)
		}
		time.Sleep(20 * time.Millisecond)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/processes/"+p.ID+"/documents/nao-existe/upload", nil, applicantHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown doc upload status %d, want 404", res.StatusCode)
	}
}

func TestEventsAreStaffOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProcess(t, srv, applicantHeaders)

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, applicantHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("applicant events status %d, want 403", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?process_id="+p.ID, nil, staffHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events paginatedEvents
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) == 0 || events.Items[0].Type != "process.created" {
		t.Fatalf("events %+v", events.Items)
	}
}
