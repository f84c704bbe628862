package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"

	"snapaid/internal/apperr"
	"snapaid/internal/auth"
	"snapaid/internal/config"
	"snapaid/internal/models"
	"snapaid/internal/service/cases"
	"snapaid/internal/service/classifier"
	"snapaid/internal/service/notify"
	"snapaid/internal/service/profiles"
	"snapaid/internal/service/triage"
	"snapaid/internal/storage"
)

var webhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("snapaid-test-signing-secret-0001"))

type stubClassifier struct {
	mu     sync.Mutex
	result *classifier.Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, in classifier.Input) (*classifier.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubClassifier) set(res *classifier.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result, s.err = res, err
}

type captureMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (m *captureMailer) Send(ctx context.Context, e notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type stubQuiz struct {
	status int
	body   string
	got    classifier.QuizSubmission
}

func (s *stubQuiz) SubmitQuiz(ctx context.Context, q classifier.QuizSubmission) (int, json.RawMessage, error) {
	s.got = q
	return s.status, json.RawMessage(s.body), nil
}

type testServer struct {
	router     *gin.Engine
	db         *storage.DB
	classifier *stubClassifier
	mailer     *captureMailer
	quiz       *stubQuiz
	fileDir    string
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithAuth(t, false)
}

func newTestServerWithAuth(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open("sqlite3", &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cls := &stubClassifier{result: &classifier.Result{Labels: []string{"Minor"}, Summary: "mild", RecommendedAction: "rest"}}
	mailer := &captureMailer{}
	profileSvc := profiles.NewService(db)
	store := cases.NewStore(db, nil)
	notifier := notify.NewNotifier(store, profileSvc, mailer, "http://app.test")
	recorder := triage.NewRecorder(db, notifier)
	verifier, err := auth.NewWebhookVerifier(webhookSecret)
	if err != nil {
		t.Fatalf("webhook verifier: %v", err)
	}
	quiz := &stubQuiz{status: http.StatusOK, body: `{"score":4,"severity":"minimal"}`}
	fileDir := t.TempDir()

	deps := Deps{
		Cases:         cases.NewService(store, cls, recorder, cases.Options{}),
		Triage:        recorder,
		Profiles:      profileSvc,
		Webhook:       verifier,
		Quiz:          quiz,
		FileBaseDir:   fileDir,
		FilePublicURL: "http://files.test/files/",
	}
	if withAuth {
		deps.Auth = auth.NewService(db, nil, time.Hour)
	}
	router := gin.New()
	NewHandler(deps).RegisterRoutes(router)
	return &testServer{router: router, db: db, classifier: cls, mailer: mailer, quiz: quiz, fileDir: fileDir}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countRows(t *testing.T, db *storage.DB, table string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func sendIdentityEvent(t *testing.T, router *gin.Engine, event any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	wh, err := svix.NewWebhook(webhookSecret)
	if err != nil {
		t.Fatalf("svix webhook: %v", err)
	}
	now := time.Now()
	msgID := "msg_" + strconv.FormatInt(now.UnixNano(), 10)
	sig, err := wh.Sign(msgID, now, payload)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func addDoctor(t *testing.T, router *gin.Engine, id, first, email string) {
	t.Helper()
	rec := sendIdentityEvent(t, router, map[string]any{
		"type": "user.updated",
		"data": map[string]any{
			"id":              id,
			"first_name":      first,
			"last_name":       "MD",
			"email_addresses": []map[string]string{{"email_address": email}},
			"public_metadata": map[string]string{"role": "doctor"},
		},
	})
	assertStatus(t, rec, http.StatusOK)
}

type caseEnvelope struct {
	Message string      `json:"message"`
	Data    models.Case `json:"data"`
}

func createCase(t *testing.T, router *gin.Engine, userID, text string) models.Case {
	t.Helper()
	rec := doJSONRequest(t, router, http.MethodPost, "/api/cases", map[string]string{
		"user_id":    userID,
		"input_text": text,
	}, nil)
	assertStatus(t, rec, http.StatusCreated)
	var body caseEnvelope
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Data.ID == "" {
		t.Fatalf("expected case id in response: %s", rec.Body.String())
	}
	return body.Data
}

func TestEmergencyCaseNotifiesEveryDoctor(t *testing.T) {
	srv := newTestServer(t)
	addDoctor(t, srv.router, "doc_1", "Gregory", "house@example.com")
	addDoctor(t, srv.router, "doc_2", "Meredith", "grey@example.com")
	risk := 9.0
	srv.classifier.set(&classifier.Result{
		Labels:            []string{"Emergency"},
		Summary:           "possible cardiac event",
		RecommendedAction: "call emergency services",
		RiskScore:         &risk,
	}, nil)

	created := createCase(t, srv.router, "u1", "chest pain")

	if got := countRows(t, srv.db, "triage_results"); got != 1 {
		t.Fatalf("expected 1 triage row, got %d", got)
	}
	if got := srv.mailer.count(); got != 2 {
		t.Fatalf("expected 2 alert emails, got %d", got)
	}
	for _, e := range srv.mailer.sent {
		if !strings.Contains(e.HTML, "http://app.test/case?caseid="+created.ID) {
			t.Fatalf("alert missing case link: %s", e.HTML)
		}
	}
}

func TestCreateCaseWithoutEmergencySendsNothing(t *testing.T) {
	srv := newTestServer(t)
	addDoctor(t, srv.router, "doc_1", "Gregory", "house@example.com")

	created := createCase(t, srv.router, "u1", "runny nose")
	if created.Status != models.StatusOpened {
		t.Fatalf("expected Opened, got %s", created.Status)
	}
	if len(created.ConversationHistory) != 0 {
		t.Fatalf("expected empty conversation")
	}
	if srv.mailer.count() != 0 {
		t.Fatalf("expected no alerts")
	}

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/case?caseid="+created.ID+"&include=triage", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Data   models.Case          `json:"data"`
		Triage *models.TriageResult `json:"triage"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Triage == nil || body.Triage.Labels[0] != "Minor" {
		t.Fatalf("expected Minor triage, got %+v", body.Triage)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/cases", map[string]string{"user_id": "u1", "input_text": "  "}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	if countRows(t, srv.db, "cases") != 0 {
		t.Fatalf("blank input must not write a case")
	}
	if srv.classifier.calls != 0 {
		t.Fatalf("blank input must not reach the classifier")
	}
}

func TestCreateCaseClassifierDown(t *testing.T) {
	srv := newTestServer(t)
	srv.classifier.set(nil, &apperr.ClassificationError{StatusCode: 500, Err: errors.New("boom")})

	created := createCase(t, srv.router, "u1", "back pain")
	if countRows(t, srv.db, "cases") != 1 || countRows(t, srv.db, "triage_results") != 0 {
		t.Fatalf("expected case without triage")
	}

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/triage?caseid="+created.ID, nil, nil)
	assertStatus(t, rec, http.StatusNotFound)

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/case/reclassify", map[string]string{"case_id": created.ID}, nil)
	assertStatus(t, rec, http.StatusBadGateway)

	srv.classifier.set(&classifier.Result{Labels: []string{"Delayed"}, Summary: "strain"}, nil)
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/case/reclassify", map[string]string{"case_id": created.ID}, nil)
	assertStatus(t, rec, http.StatusOK)
	if countRows(t, srv.db, "triage_results") != 1 {
		t.Fatalf("reclassify should create the missing triage")
	}
}

func TestListCases(t *testing.T) {
	srv := newTestServer(t)
	createCase(t, srv.router, "u1", "a")
	createCase(t, srv.router, "u2", "b")

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/cases?userid=u2", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Data []models.Case `json:"data"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Data) != 1 || body.Data[0].UserID != "u2" {
		t.Fatalf("unexpected filtered list %+v", body.Data)
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/cases", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(body.Data))
	}
}

func TestGetCaseErrors(t *testing.T) {
	srv := newTestServer(t)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/case", nil, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/case?caseid=nope", nil, nil), http.StatusNotFound)
}

func TestStatusUpdatesAreLiteral(t *testing.T) {
	srv := newTestServer(t)
	created := createCase(t, srv.router, "u1", "sprained ankle")

	for _, status := range []string{"Resolved", "Opened", "Triaged"} {
		rec := doJSONRequest(t, srv.router, http.MethodPut, "/api/case/status", map[string]string{
			"case_id": created.ID,
			"status":  status,
		}, nil)
		assertStatus(t, rec, http.StatusOK)
		var body caseEnvelope
		decodeJSON(t, rec.Body.Bytes(), &body)
		if string(body.Data.Status) != status {
			t.Fatalf("expected status %s, got %s", status, body.Data.Status)
		}
	}

	rec := doJSONRequest(t, srv.router, http.MethodPut, "/api/case/status", map[string]string{"case_id": created.ID}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	rec = doJSONRequest(t, srv.router, http.MethodPut, "/api/case/status", map[string]string{"case_id": "missing", "status": "Opened"}, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestConversationEndpoints(t *testing.T) {
	srv := newTestServer(t)
	created := createCase(t, srv.router, "u1", "headache")

	rec := doJSONRequest(t, srv.router, http.MethodPut, "/api/case/conversation", map[string]any{
		"case_id":  created.ID,
		"messages": []map[string]string{{"role": "assistant", "content": "Since when?"}},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	rec = doJSONRequest(t, srv.router, http.MethodPut, "/api/case/conversation", map[string]any{
		"case_id":  created.ID,
		"messages": []map[string]string{{"role": "user", "content": "Yesterday"}},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	var body caseEnvelope
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Data.ConversationHistory) != 2 || body.Data.ConversationHistory[1].Content != "Yesterday" {
		t.Fatalf("unexpected conversation %+v", body.Data.ConversationHistory)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/case/conversation", map[string]any{
		"case_id":              created.ID,
		"conversation_history": []map[string]string{{"role": "user", "content": "only this"}},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Data.ConversationHistory) != 1 {
		t.Fatalf("replace should overwrite, got %+v", body.Data.ConversationHistory)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/case/conversation", map[string]any{"case_id": created.ID}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestTriageEndpoints(t *testing.T) {
	srv := newTestServer(t)
	addDoctor(t, srv.router, "doc_1", "Gregory", "house@example.com")
	srv.classifier.set(nil, &apperr.ClassificationError{Err: errors.New("offline")})
	created := createCase(t, srv.router, "u1", "fell off bike")

	rec := doJSONRequest(t, srv.router, http.MethodPut, "/api/triage", map[string]any{
		"case_id": created.ID,
		"labels":  []string{"Emergency"},
	}, nil)
	assertStatus(t, rec, http.StatusNotFound)
	if srv.mailer.count() != 1 {
		t.Fatalf("emergency update without a row should still alert, got %d", srv.mailer.count())
	}
	if countRows(t, srv.db, "triage_results") != 0 {
		t.Fatalf("update without a row must not insert one")
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/triage", map[string]any{
		"case_id":            created.ID,
		"labels":             []string{"Minor"},
		"summary":            "scrapes",
		"recommended_action": "clean wounds",
	}, nil)
	assertStatus(t, rec, http.StatusCreated)

	rec = doJSONRequest(t, srv.router, http.MethodPut, "/api/triage", map[string]any{
		"case_id":            created.ID,
		"labels":             []string{"Head injury", "emergency"},
		"summary":            "lost consciousness",
		"recommended_action": "go to ER",
		"risk_score":         10,
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	if srv.mailer.count() != 2 {
		t.Fatalf("expected a second alert, got %d", srv.mailer.count())
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/triage?caseid="+created.ID, nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Data models.TriageResult `json:"data"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Data.Summary != "lost consciousness" || body.Data.RiskScore == nil || *body.Data.RiskScore != 10 {
		t.Fatalf("unexpected triage %+v", body.Data)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/triage", map[string]any{"labels": []string{"x"}}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestIdentityWebhookAndProfile(t *testing.T) {
	srv := newTestServer(t)
	rec := sendIdentityEvent(t, srv.router, map[string]any{
		"type": "user.created",
		"data": map[string]any{
			"id":              "user_42",
			"first_name":      "Ada",
			"last_name":       "Lovelace",
			"username":        "ada",
			"has_image":       true,
			"image_url":       "http://img.test/ada.png",
			"email_addresses": []map[string]string{{"email_address": "ada@example.com"}},
		},
	})
	assertStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "OK" {
		t.Fatalf("unexpected webhook response %q", rec.Body.String())
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/profile?userid=user_42", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Data models.Profile `json:"data"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Data.Role != models.RolePatient || body.Data.DisplayName("") != "Ada Lovelace" {
		t.Fatalf("unexpected profile %+v", body.Data)
	}
	if body.Data.Email == nil || *body.Data.Email != "ada@example.com" {
		t.Fatalf("email not mirrored: %+v", body.Data.Email)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPut, "/api/profile", map[string]any{
		"user_id": "user_42",
		"name":    "Ada King",
		"age":     36,
		"gender":  "female",
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Data.Age == nil || *body.Data.Age != 36 || body.Data.DisplayName("") != "Ada King" {
		t.Fatalf("profile not updated: %+v", body.Data)
	}

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPut, "/api/profile", map[string]any{"name": "x"}, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/profile?userid=ghost", nil, nil), http.StatusNotFound)
}

func TestIdentityWebhookRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(`{"type":"user.created","data":{"id":"x"}}`))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("svix-signature", "v1,bm90IGEgc2lnbmF0dXJl")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
	if countRows(t, srv.db, "profiles") != 0 {
		t.Fatalf("unsigned event must not create a profile")
	}
}

func TestVoiceFunction(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/voice/function", map[string]any{
		"function_call": map[string]any{
			"name":      "raiseCase",
			"arguments": map[string]string{"symptom": "sharp stomach pain", "duration": "2 hours"},
		},
	}, map[string]string{"Origin": "https://voice.example"})
	assertStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard CORS header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	var body struct {
		Result struct {
			Message string `json:"message"`
		} `json:"result"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if !strings.HasPrefix(body.Result.Message, "Case raised successfully with ID: ") {
		t.Fatalf("unexpected message %q", body.Result.Message)
	}
	var text string
	if err := srv.db.QueryRow(`SELECT input_text FROM cases WHERE user_id = ?`, voiceUserID).Scan(&text); err != nil {
		t.Fatalf("voice case not stored: %v", err)
	}
	if text != "sharp stomach pain (duration: 2 hours)" {
		t.Fatalf("unexpected case text %q", text)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/voice/function", map[string]any{
		"function_call": map[string]any{"name": "bookTaxi"},
	}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	var errBody map[string]string
	decodeJSON(t, rec.Body.Bytes(), &errBody)
	if errBody["error"] != "Unknown function" {
		t.Fatalf("unexpected error body %v", errBody)
	}
}

func TestVoiceFunctionWithoutOrigin(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/voice/function", map[string]any{
		"function_call": map[string]any{
			"name":      "raiseCase",
			"arguments": map[string]string{"symptom": "dizzy"},
		},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS header without Origin, got %q", got)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/voice/function", map[string]any{
		"function_call": map[string]any{"name": "bookTaxi"},
	}, nil)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS header on errors, got %q", got)
	}
}

func TestVoiceFunctionPreflight(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/voice/function", nil)
	req.Header.Set("Origin", "https://voice.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header on preflight")
	}
}

func TestUploadFile(t *testing.T) {
	srv := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("folder", "images"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", "my rash (1).png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("\x89PNG\r\n\x1a\n0000IHDR"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)

	var body struct {
		URL string `json:"url"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	prefix := "http://files.test/files/images/"
	if !strings.HasPrefix(body.URL, prefix) || !strings.HasSuffix(body.URL, "-my_rash__1_.png") {
		t.Fatalf("unexpected url %q", body.URL)
	}
	name := strings.TrimPrefix(body.URL, prefix)
	if _, err := os.Stat(filepath.Join(srv.fileDir, "images", name)); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	get := httptest.NewRequest(http.MethodGet, "/files/images/"+name, nil)
	getRec := httptest.NewRecorder()
	srv.router.ServeHTTP(getRec, get)
	assertStatus(t, getRec, http.StatusOK)
}

func TestUploadRequiresFile(t *testing.T) {
	srv := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("folder", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSafeNames(t *testing.T) {
	if got := safeName("../etc/pass wd"); got != ".._etc_pass_wd" {
		t.Fatalf("unexpected safe name %q", got)
	}
	for in, want := range map[string]string{"": "general", "..": "general", "a/b": "a_b", "voice": "voice"} {
		if got := safeFolder(in); got != want {
			t.Errorf("safeFolder(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuizProxy(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/quiz", map[string]any{
		"quizType":  "phq9",
		"responses": []int{0, 1, 2},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	if rec.Body.String() != `{"score":4,"severity":"minimal"}` {
		t.Fatalf("unexpected proxied body %s", rec.Body.String())
	}
	if srv.quiz.got.QuizType != "phq9" || string(srv.quiz.got.Metadata) != "{}" {
		t.Fatalf("unexpected forwarded quiz %+v", srv.quiz.got)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/quiz", map[string]any{"quizType": "phq9", "responses": "nope"}, nil)
	assertStatus(t, rec, http.StatusBadRequest)

	srv.quiz.status, srv.quiz.body = http.StatusUnprocessableEntity, `{"detail":"bad answers"}`
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/quiz", map[string]any{"quizType": "gad7", "responses": []int{1}}, nil)
	assertStatus(t, rec, http.StatusUnprocessableEntity)
	var errBody struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	decodeJSON(t, rec.Body.Bytes(), &errBody)
	if errBody.Error != "Failed to process quiz results" || errBody.Details["detail"] != "bad answers" {
		t.Fatalf("unexpected error body %s", rec.Body.String())
	}
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	srv := newTestServerWithAuth(t, true)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/cases", nil, nil), http.StatusUnauthorized)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil), http.StatusOK)

	now := time.Now().UTC()
	if _, err := srv.db.Exec(`INSERT INTO profiles (user_id, role, created_at, updated_at) VALUES (?, 'patient', ?, ?)`, "user_7", now, now); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	token, err := auth.NewService(srv.db, nil, time.Hour).IssueToken(context.Background(), "user_7")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	headers := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", token)}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/cases", map[string]string{"input_text": "tired"}, headers)
	assertStatus(t, rec, http.StatusCreated)
	var body caseEnvelope
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Data.UserID != "user_7" {
		t.Fatalf("expected case owned by token user, got %q", body.Data.UserID)
	}
}
