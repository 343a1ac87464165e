package validation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/platform/auth"
	"github.com/ehr/medforms/internal/platform/backend"
	"github.com/ehr/medforms/internal/platform/telemetry"
	"github.com/ehr/medforms/internal/platform/websocket"
)

// -- Mock Submitter --

type submission struct {
	path, token, key string
	payload          any
}

type mockSubmitter struct {
	calls []submission
	err   error
}

func (m *mockSubmitter) Submit(_ context.Context, path, token, key string, payload any) (*backend.Receipt, error) {
	m.calls = append(m.calls, submission{path: path, token: token, key: key, payload: payload})
	if m.err != nil {
		return nil, m.err
	}
	return &backend.Receipt{StatusCode: http.StatusCreated, ID: "remote-1", IdempotencyKey: key, Attempts: 1}, nil
}

func newTestService(sub Submitter, cfg Config) *Service {
	cdsSvc := cds.NewService(nil, nil, cds.CoherenceOptions{}, zerolog.Nop())
	return NewService(cdsSvc, NewRegistry(time.Minute, zerolog.Nop()), sub, cfg, zerolog.Nop())
}

func rawForm(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal form: %v", err)
	}
	return b
}

// -- Service Tests --

func TestService_ValidateMedical(t *testing.T) {
	svc := newTestService(nil, Config{})
	res := svc.ValidateMedical(validMedicalForm(), adultContext())
	if !res.State.IsValid {
		t.Fatalf("expected valid form, got %+v", res.State)
	}
	if res.Progress != 100 {
		t.Errorf("expected progress 100, got %d", res.Progress)
	}
	if res.FormStatus != FormCompleteValid {
		t.Errorf("expected complete_valid, got %s", res.FormStatus)
	}
	if svc.Registry().Len() != 0 {
		t.Error("stateless validation should not register a session")
	}
}

func TestService_ValidateField(t *testing.T) {
	svc := newTestService(nil, Config{})
	res, err := svc.ValidateField(KindMedical, "consultationReason", "corto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Error("expected short reason to be invalid")
	}
	res, err = svc.ValidateField(KindNursing, "nanda_codigo", "00032")
	if err != nil || !res.IsValid {
		t.Errorf("expected valid NANDA code, got %+v, %v", res, err)
	}
	if _, err := svc.ValidateField("dental", "x", 1); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestService_CreateSession_OverlaysForm(t *testing.T) {
	svc := newTestService(nil, Config{Realtime: true})
	h, err := svc.CreateSession(KindMedical, "pat-1", "doc-1", rawForm(t, map[string]any{"currentIllness": "Disnea progresiva"}), adultContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	form := h.Form().(medform.Form)
	if form.CurrentIllness != "Disnea progresiva" {
		t.Errorf("expected overlay, got %q", form.CurrentIllness)
	}
	if form.VitalSigns.Temperature == nil || *form.VitalSigns.Temperature != medform.DefaultTemperature {
		t.Error("expected default temperature to survive the overlay")
	}
	if _, err := svc.Session(h.ID()); err != nil {
		t.Errorf("expected session registered: %v", err)
	}
}

func TestService_CreateSession_Errors(t *testing.T) {
	svc := newTestService(nil, Config{})
	if _, err := svc.CreateSession("dental", "p", "u", nil, cds.ProtocolContext{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := svc.CreateSession(KindNursing, "p", "u", json.RawMessage(`{"noc_indicador": 3}`), cds.ProtocolContext{}); err == nil {
		t.Error("expected decode error")
	}
}

func TestService_Submit(t *testing.T) {
	sub := &mockSubmitter{}
	svc := newTestService(sub, Config{})
	h, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())

	res, err := svc.Submit(context.Background(), h.ID(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Receipt == nil || res.Receipt.ID != "remote-1" {
		t.Errorf("expected receipt, got %+v", res.Receipt)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(sub.calls))
	}
	call := sub.calls[0]
	if call.path != MedicalSubmitPath || call.token != "tok" || call.key == "" {
		t.Errorf("unexpected submission: %+v", call)
	}
	if _, err := svc.Session(h.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("expected session to end after submission")
	}
}

func TestService_Submit_Invalid(t *testing.T) {
	sub := &mockSubmitter{}
	svc := newTestService(sub, Config{})
	h, _ := svc.CreateSession(KindMedical, "pat-1", "doc-1", nil, adultContext())

	res, err := svc.Submit(context.Background(), h.ID(), "tok")
	if !errors.Is(err, ErrNotSubmittable) {
		t.Fatalf("expected ErrNotSubmittable, got %v", err)
	}
	if res == nil || res.State.IsValid || len(res.State.FieldErrors) == 0 {
		t.Errorf("expected failing state, got %+v", res)
	}
	if len(sub.calls) != 0 {
		t.Error("invalid form must not reach the backend")
	}
	if _, err := svc.Session(h.ID()); err != nil {
		t.Error("session should stay open after a rejected submission")
	}
}

func TestService_Submit_ScoreThreshold(t *testing.T) {
	sub := &mockSubmitter{}
	svc := newTestService(sub, Config{ScoreThreshold: 101})
	h, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())

	_, err := svc.Submit(context.Background(), h.ID(), "tok")
	if !errors.Is(err, ErrNotSubmittable) {
		t.Fatalf("expected ErrNotSubmittable, got %v", err)
	}
	if len(sub.calls) != 0 {
		t.Error("form below threshold must not reach the backend")
	}
}

func TestService_Submit_BackendErrors(t *testing.T) {
	svc := newTestService(nil, Config{})
	h, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())
	if _, err := svc.Submit(context.Background(), h.ID(), ""); !errors.Is(err, ErrNoBackend) {
		t.Errorf("expected ErrNoBackend, got %v", err)
	}

	sub := &mockSubmitter{err: backend.ErrUnavailable}
	svc = newTestService(sub, Config{})
	h, _ = svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())
	if _, err := svc.Submit(context.Background(), h.ID(), ""); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := svc.Session(h.ID()); err != nil {
		t.Error("session should stay open after a failed delivery")
	}
}

func TestService_Submit_NursingPath(t *testing.T) {
	sub := &mockSubmitter{}
	svc := newTestService(sub, Config{})
	h, _ := svc.CreateSession(KindNursing, "", "", rawForm(t, validNursingForm()), cds.ProtocolContext{})
	if _, err := svc.Submit(context.Background(), h.ID(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.calls[0].path != NursingSubmitPath {
		t.Errorf("expected nursing path, got %s", sub.calls[0].path)
	}
}

// -- Registry Tests --

func TestRegistry_Sweep(t *testing.T) {
	svc := newTestService(nil, Config{Realtime: true})
	reg := svc.Registry()
	h, _ := svc.CreateSession(KindMedical, "p", "u", nil, cds.ProtocolContext{})

	if n := reg.Sweep(); n != 0 {
		t.Errorf("expected nothing swept, got %d", n)
	}
	reg.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := reg.Sweep(); n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if reg.Len() != 0 {
		t.Error("expected registry to be empty")
	}
	if err := h.Set("currentIllness", "x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected expired session to be closed, got %v", err)
	}
}

func TestRegistry_RunClosesSessionsOnShutdown(t *testing.T) {
	svc := newTestService(nil, Config{})
	reg := svc.Registry()
	h, _ := svc.CreateSession(KindNursing, "p", "u", nil, cds.ProtocolContext{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	if reg.Len() != 0 {
		t.Error("expected registry to be empty after shutdown")
	}
	if err := h.Set("valoracion", "x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected closed session, got %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	if err := reg.Remove("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if n := reg.Sweep(); n != 0 {
		t.Errorf("zero ttl should never expire, got %d", n)
	}
}

// -- Handler Tests --

func newTestHandler(sub Submitter) (*Handler, *echo.Echo) {
	e := echo.New()
	return NewHandler(newTestService(sub, Config{Realtime: true}), nil), e
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_ValidateMedical(t *testing.T) {
	h, e := newTestHandler(nil)
	body, _ := json.Marshal(MedicalRequest{Form: validMedicalForm(), Context: adultContext()})
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", string(body)), rec)

	if err := h.ValidateMedical(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.State.IsValid {
		t.Errorf("expected valid state, got %s", rec.Body.String())
	}
}

func TestHandler_ValidateField_MissingField(t *testing.T) {
	h, e := newTestHandler(nil)
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"value":"x"}`), httptest.NewRecorder())
	err := h.ValidateMedicalField(c)
	if err == nil {
		t.Fatal("expected error")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CheckVitalSigns(t *testing.T) {
	h, e := newTestHandler(nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"vitalSigns":{"temperature":34.9,"bloodPressure":"190/130"},"patientAge":40}`), rec)
	if err := h.CheckVitalSigns(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res AlertsResponse
	json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.Alerts) != 2 || !res.Blocking {
		t.Errorf("expected 2 blocking alerts, got %s", rec.Body.String())
	}
}

func TestHandler_SessionLifecycle(t *testing.T) {
	sub := &mockSubmitter{}
	h, e := newTestHandler(sub)

	// create
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"kind":"medical","patientId":"pat-1","context":{"consultationType":"first_visit","patientAge":45}}`), rec)
	c.SetRequest(c.Request().WithContext(context.WithValue(c.Request().Context(), auth.UserIDKey, "doc-1")))
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var view SessionView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.ID == "" || view.FormStatus != FormIncomplete {
		t.Fatalf("unexpected view: %s", rec.Body.String())
	}

	// submitting an incomplete form is rejected with the state
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(view.ID)
	if err := h.Submit(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}

	// patch the missing fields
	patch := `{"changes":[
		{"path":"consultationReason","value":"Dolor torácico opresivo"},
		{"path":"currentIllness","value":"Paciente refiere dolor torácico de dos horas de evolución"},
		{"path":"treatmentPlan","value":"Reposo y control en 24 horas"},
		{"path":"diagnoses.0","value":{"description":"Angina inestable","cie10":"I20.0","presumptive":true}}
	]}`
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, "/", patch), rec)
	c.SetParamNames("id")
	c.SetParamValues(view.ID)
	if err := h.PatchFields(c); err != nil {
		t.Fatalf("patch: %v", err)
	}
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Progress != 100 {
		t.Errorf("expected progress 100, got %d", view.Progress)
	}

	// submit
	rec = httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/", "")
	req = req.WithContext(context.WithValue(req.Context(), auth.TokenKey, "tok"))
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(view.ID)
	if err := h.Submit(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sub.calls) != 1 || sub.calls[0].token != "tok" {
		t.Errorf("unexpected submissions: %+v", sub.calls)
	}
	if form, ok := sub.calls[0].payload.(medform.Form); !ok || form.UserID != "doc-1" {
		t.Errorf("expected author from auth context, got %+v", sub.calls[0].payload)
	}

	// the session is gone
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(view.ID)
	err := h.GetSession(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_PatchFields_BadPath(t *testing.T) {
	h, e := newTestHandler(nil)
	sess, _ := h.svc.CreateSession(KindMedical, "p", "u", nil, cds.ProtocolContext{})

	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"changes":[{"path":"nope","value":1}]}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())
	err := h.PatchFields(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CompleteClearDelete(t *testing.T) {
	h, e := newTestHandler(nil)
	sess, _ := h.svc.CreateSession(KindNursing, "p", "u", nil, cds.ProtocolContext{})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())
	if err := h.Complete(c); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.State.IsValid || len(res.State.FieldErrors) == 0 {
		t.Errorf("expected empty nursing plan to fail, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())
	if err := h.Clear(c); err != nil {
		t.Fatalf("clear: %v", err)
	}
	var view SessionView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.State.FieldErrors) != 0 {
		t.Error("expected errors cleared")
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())
	if err := h.DeleteSession(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

// -- State publishing --

type mockPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
	closed []string
}

func (m *mockPublisher) Publish(_ context.Context, ev websocket.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) CloseTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, topic)
}

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

func TestService_PublishesSessionState(t *testing.T) {
	pub := &mockPublisher{}
	sched := &manualScheduler{}
	svc := newTestService(nil, Config{Realtime: true, AfterFunc: sched.after, Publisher: pub})

	h, err := svc.CreateSession(KindMedical, "pat-1", "doc-1", nil, adultContext())
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if len(pub.types()) != 0 {
		t.Fatalf("expected no events before the first change, got %v", pub.types())
	}

	if err := h.Set("currentIllness", "corto"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	sched.fire()

	got := pub.types()
	if len(got) != 2 || got[0] != websocket.EventState || got[1] != websocket.EventState {
		t.Fatalf("expected field and heavy-pass state events, got %v", got)
	}

	pub.mu.Lock()
	last := pub.events[1]
	pub.mu.Unlock()
	if last.Topic != h.ID() {
		t.Errorf("expected topic %s, got %s", h.ID(), last.Topic)
	}
	var view SessionView
	if err := json.Unmarshal(last.Data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.ID != h.ID() {
		t.Errorf("expected view of %s, got %s", h.ID(), view.ID)
	}
	if _, ok := view.State.FieldErrors["currentIllness"]; !ok {
		t.Errorf("expected currentIllness error in published state, got %v", view.State.FieldErrors)
	}

	if err := svc.CloseSession(h.ID()); err != nil {
		t.Fatalf("CloseSession() error: %v", err)
	}
	got = pub.types()
	if got[len(got)-1] != websocket.EventClosed {
		t.Errorf("expected a closed event last, got %v", got)
	}
	if len(pub.closed) != 1 || pub.closed[0] != h.ID() {
		t.Errorf("expected topic %s closed, got %v", h.ID(), pub.closed)
	}
}

func TestService_StatelessValidationDoesNotPublish(t *testing.T) {
	pub := &mockPublisher{}
	svc := newTestService(nil, Config{Publisher: pub})

	svc.ValidateMedical(validMedicalForm(), adultContext())
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}
}

func TestRegistry_SweepNotifiesRemoval(t *testing.T) {
	pub := &mockPublisher{}
	svc := newTestService(nil, Config{Publisher: pub})
	h, err := svc.CreateSession(KindNursing, "pat-1", "nurse-1", nil, cds.ProtocolContext{})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	svc.Registry().now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n := svc.Registry().Sweep(); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if len(pub.closed) != 1 || pub.closed[0] != h.ID() {
		t.Errorf("expected topic %s closed, got %v", h.ID(), pub.closed)
	}
}

func TestService_RecordsMetrics(t *testing.T) {
	m := telemetry.NewProvider()
	svc := newTestService(&mockSubmitter{}, Config{Metrics: m})

	svc.ValidateMedical(validMedicalForm(), adultContext())
	svc.ValidateMedical(medform.NewForm("", ""), adultContext())
	if got := m.Counter(MetricValidations, "kind", "medical", "outcome", "valid"); got != 1 {
		t.Errorf("expected 1 valid validation, got %d", got)
	}
	if got := m.Counter(MetricValidations, "kind", "medical", "outcome", "invalid"); got != 1 {
		t.Errorf("expected 1 invalid validation, got %d", got)
	}
	if got := m.HistogramCount(MetricValidationSeconds, "kind", "medical"); got != 2 {
		t.Errorf("expected 2 duration samples, got %d", got)
	}

	h, err := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Gauge(MetricOpenSessions); got != 1 {
		t.Errorf("expected 1 open session, got %d", got)
	}
	if _, err := svc.Submit(context.Background(), h.ID(), "tok"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := m.Counter(MetricSubmissions, "kind", "medical", "outcome", "submitted"); got != 1 {
		t.Errorf("expected 1 submission, got %d", got)
	}
	if got := m.Gauge(MetricOpenSessions); got != 0 {
		t.Errorf("expected no open sessions after submit, got %d", got)
	}
}

func TestService_RecordsClinicalAlerts(t *testing.T) {
	m := telemetry.NewProvider()
	svc := newTestService(nil, Config{Metrics: m})

	form := validMedicalForm()
	temp := 34.0
	form.VitalSigns.Temperature = &temp
	res := svc.ValidateMedical(form, adultContext())
	if len(res.State.ClinicalAlerts) == 0 {
		t.Fatal("expected a hypothermia alert")
	}
	var total int64
	for _, a := range res.State.ClinicalAlerts {
		total += m.Counter(MetricAlerts, "category", string(a.Category), "severity", string(a.Severity))
	}
	if total < int64(len(res.State.ClinicalAlerts)) {
		t.Errorf("expected every alert counted, got %d of %d", total, len(res.State.ClinicalAlerts))
	}
}

type blockingSubmitter struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	keys    []string
}

func (b *blockingSubmitter) Submit(_ context.Context, _, _, key string, _ any) (*backend.Receipt, error) {
	b.mu.Lock()
	b.keys = append(b.keys, key)
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return &backend.Receipt{StatusCode: http.StatusCreated, ID: "remote-1", IdempotencyKey: key, Attempts: 1}, nil
}

func TestService_Submit_RejectsConcurrentSubmission(t *testing.T) {
	sub := &blockingSubmitter{started: make(chan struct{}, 2), release: make(chan struct{})}
	svc := newTestService(sub, Config{})
	h, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), h.ID(), "tok")
		done <- err
	}()
	<-sub.started

	if _, err := svc.Submit(context.Background(), h.ID(), "tok"); !errors.Is(err, ErrSubmitInProgress) {
		t.Errorf("expected ErrSubmitInProgress, got %v", err)
	}
	close(sub.release)
	if err := <-done; err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if len(sub.keys) != 1 || sub.keys[0] != SubmissionKey(h.ID()) {
		t.Errorf("expected one delivery keyed by session, got %v", sub.keys)
	}
}

func TestService_Submit_RetryReusesKey(t *testing.T) {
	sub := &mockSubmitter{err: backend.ErrUnavailable}
	svc := newTestService(sub, Config{})
	h, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())

	svc.Submit(context.Background(), h.ID(), "tok")
	sub.err = nil
	if _, err := svc.Submit(context.Background(), h.ID(), "tok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 2 || sub.calls[0].key != sub.calls[1].key {
		t.Errorf("expected both attempts to share a key, got %+v", sub.calls)
	}
	if SubmissionKey("a") == SubmissionKey("b") {
		t.Error("keys of different sessions must differ")
	}
}

func TestHandler_Submit_Conflict(t *testing.T) {
	sub := &blockingSubmitter{started: make(chan struct{}, 2), release: make(chan struct{})}
	svc := newTestService(sub, Config{})
	h := NewHandler(svc, nil)
	e := echo.New()
	sess, _ := svc.CreateSession(KindMedical, "", "", rawForm(t, validMedicalForm()), adultContext())

	go svc.Submit(context.Background(), sess.ID(), "tok")
	<-sub.started
	defer close(sub.release)

	c := e.NewContext(jsonRequest(http.MethodPost, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(sess.ID())
	err := h.Submit(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}
