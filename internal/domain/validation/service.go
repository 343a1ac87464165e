package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/domain/nursing"
	"github.com/ehr/medforms/internal/platform/backend"
	"github.com/ehr/medforms/internal/platform/debounce"
	"github.com/ehr/medforms/internal/platform/fieldrule"
	"github.com/ehr/medforms/internal/platform/websocket"
)

var (
	// ErrNotSubmittable is returned when a submission fails complete
	// validation or the protocol score threshold.
	ErrNotSubmittable = errors.New("form is not ready for submission")
	// ErrNoBackend is returned when submission is attempted without a
	// backend configured.
	ErrNoBackend = errors.New("no backend configured")
	// ErrUnknownKind is returned for an unsupported form family.
	ErrUnknownKind = errors.New("unknown form kind")
	// ErrSubmitInProgress is returned when the session is already being
	// submitted.
	ErrSubmitInProgress = errors.New("submission already in progress")
)

// Submission paths on the backend, per form family.
const (
	MedicalSubmitPath = "/consultations"
	NursingSubmitPath = "/nursing-care-plans"
)

// Publisher streams session events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
	CloseTopic(topic string)
}

// Metrics receives validation counters. *telemetry.Provider implements it.
type Metrics interface {
	Inc(name string, labels ...string)
	SetGauge(name string, v int64, labels ...string)
	Observe(name string, v float64, labels ...string)
}

// Metric names.
const (
	MetricValidations       = "medforms_validations_total"
	MetricValidationSeconds = "medforms_validation_duration_seconds"
	MetricAlerts            = "medforms_clinical_alerts_total"
	MetricSubmissions       = "medforms_submissions_total"
	MetricOpenSessions      = "medforms_open_sessions"
)

// Submitter delivers a validated form to the backend.
type Submitter interface {
	Submit(ctx context.Context, path, token, idempotencyKey string, payload any) (*backend.Receipt, error)
}

// Config holds the orchestration settings.
type Config struct {
	Realtime bool
	Debounce time.Duration
	// ScoreThreshold, when positive, is the minimum protocol score a
	// medical form needs to be submitted.
	ScoreThreshold int
	AfterFunc      debounce.AfterFunc
	// Publisher, when set, receives the view of a session after every
	// state change and a close event when the session ends.
	Publisher Publisher
	Metrics   Metrics
}

// Result is the outcome of a complete validation.
type Result struct {
	State      State            `json:"state"`
	Progress   int              `json:"progress"`
	FormStatus FormStatus       `json:"formStatus"`
	Alerts     []cds.AlertGroup `json:"alertGroups"`
}

// SessionView describes a session to API clients.
type SessionView struct {
	ID         string              `json:"id"`
	Kind       Kind                `json:"kind"`
	Context    cds.ProtocolContext `json:"context"`
	Form       any                 `json:"form"`
	State      State               `json:"state"`
	Progress   int                 `json:"progress"`
	FormStatus FormStatus          `json:"formStatus"`
	Alerts     []cds.AlertGroup    `json:"alertGroups"`
}

// SubmitResult is the outcome of a submission attempt.
type SubmitResult struct {
	Result
	Receipt *backend.Receipt `json:"receipt,omitempty"`
}

// Service runs validations and manages sessions.
type Service struct {
	cds       *cds.Service
	medical   Pipeline[medform.Form]
	nursing   Pipeline[nursing.Form]
	registry  *Registry
	submitter Submitter
	cfg       Config
	logger    zerolog.Logger
	// submitting holds the ids of sessions with a submission in flight.
	submitting sync.Map
}

// NewService creates a service. submitter may be nil, which disables
// submission.
func NewService(cdsSvc *cds.Service, registry *Registry, submitter Submitter, cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		cds:       cdsSvc,
		medical:   MedicalPipeline(cdsSvc),
		nursing:   NursingPipeline(),
		registry:  registry,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
	}
	registry.OnRemove(s.sessionRemoved)
	return s
}

func (s *Service) sessionRemoved(id string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetGauge(MetricOpenSessions, int64(s.registry.Len()))
	}
	if s.cfg.Publisher != nil {
		s.publishClosed(id)
	}
}

// record counts a complete validation and its clinical alerts.
func (s *Service) record(kind Kind, res Result, start time.Time) {
	s.logger.Debug().
		Str("kind", string(kind)).
		Bool("valid", res.State.IsValid).
		Int("field_errors", len(res.State.FieldErrors)).
		Int("alerts", len(res.State.ClinicalAlerts)).
		Msg("validation cycle")
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	outcome := "invalid"
	if res.State.IsValid {
		outcome = "valid"
	}
	m.Inc(MetricValidations, "kind", string(kind), "outcome", outcome)
	m.Observe(MetricValidationSeconds, time.Since(start).Seconds(), "kind", string(kind))
	for _, a := range res.State.ClinicalAlerts {
		m.Inc(MetricAlerts, "category", string(a.Category), "severity", string(a.Severity))
	}
}

func (s *Service) recordSubmission(kind Kind, outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Inc(MetricSubmissions, "kind", string(kind), "outcome", outcome)
	}
}

// CDS returns the clinical decision support service.
func (s *Service) CDS() *cds.Service { return s.cds }

// Registry returns the session registry.
func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) sessionConfig(realtime bool) SessionConfig {
	return SessionConfig{
		Realtime:  realtime,
		Debounce:  s.cfg.Debounce,
		AfterFunc: s.cfg.AfterFunc,
		Logger:    s.logger,
	}
}

// liveConfig is the configuration of registered sessions, which publish
// their state.
func (s *Service) liveConfig() SessionConfig {
	cfg := s.sessionConfig(s.cfg.Realtime)
	if s.cfg.Publisher != nil {
		cfg.OnUpdate = s.publishState
	}
	return cfg
}

func (s *Service) publishState(id string) {
	h, err := s.registry.Get(id)
	if err != nil {
		return
	}
	ev, err := s.StateEvent(h)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("encode session state")
		return
	}
	if err := s.cfg.Publisher.Publish(context.Background(), ev); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("publish session state")
	}
}

func (s *Service) publishClosed(id string) {
	ev := websocket.Event{Type: websocket.EventClosed, Topic: id, Timestamp: time.Now().UTC()}
	if err := s.cfg.Publisher.Publish(context.Background(), ev); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("publish session close")
	}
	s.cfg.Publisher.CloseTopic(id)
}

// StateEvent builds the stream event carrying the current view of h.
func (s *Service) StateEvent(h Handle) (websocket.Event, error) {
	data, err := json.Marshal(s.View(h))
	if err != nil {
		return websocket.Event{}, err
	}
	return websocket.Event{
		Type:      websocket.EventState,
		Topic:     h.ID(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ValidateMedical runs a complete validation over a medical form.
func (s *Service) ValidateMedical(form medform.Form, ctx cds.ProtocolContext) Result {
	start := time.Now()
	sess := NewSession("", s.medical, form, ctx, s.sessionConfig(false))
	defer sess.Close()
	sess.ValidateCompletely()
	res := resultOf(sess)
	s.record(KindMedical, res, start)
	return res
}

// ValidateNursing runs a complete validation over a nursing care plan.
func (s *Service) ValidateNursing(form nursing.Form) Result {
	start := time.Now()
	sess := NewSession("", s.nursing, form, cds.ProtocolContext{}, s.sessionConfig(false))
	defer sess.Close()
	sess.ValidateCompletely()
	res := resultOf(sess)
	s.record(KindNursing, res, start)
	return res
}

// ValidateField checks a single field value of the given family.
func (s *Service) ValidateField(kind Kind, path string, value any) (fieldrule.Result, error) {
	switch kind {
	case KindMedical:
		return medform.ValidateField(path, value), nil
	case KindNursing:
		return nursing.ValidateField(path, value), nil
	}
	return fieldrule.Result{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// CreateSession opens a session seeded with defaults for the patient and
// author, overlaid with the optional raw form document.
func (s *Service) CreateSession(kind Kind, patientID, userID string, raw json.RawMessage, ctx cds.ProtocolContext) (Handle, error) {
	id := uuid.New().String()
	var h Handle
	switch kind {
	case KindMedical:
		form := s.medical.New(patientID, userID)
		if err := decodeForm(raw, &form); err != nil {
			return nil, err
		}
		h = NewSession(id, s.medical, form, ctx, s.liveConfig())
	case KindNursing:
		form := s.nursing.New(patientID, userID)
		if err := decodeForm(raw, &form); err != nil {
			return nil, err
		}
		h = NewSession(id, s.nursing, form, ctx, s.liveConfig())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	s.registry.Add(h)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetGauge(MetricOpenSessions, int64(s.registry.Len()))
	}
	s.logger.Info().Str("session_id", id).Str("kind", string(kind)).Msg("validation session opened")
	return h, nil
}

func decodeForm(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode form: %w", err)
	}
	return nil
}

// Session returns an open session.
func (s *Service) Session(id string) (Handle, error) {
	return s.registry.Get(id)
}

// CloseSession closes and forgets a session.
func (s *Service) CloseSession(id string) error {
	return s.registry.Remove(id)
}

// View describes h.
func (s *Service) View(h Handle) SessionView {
	st := h.State()
	return SessionView{
		ID:         h.ID(),
		Kind:       h.Kind(),
		Context:    h.Context(),
		Form:       h.Form(),
		State:      st,
		Progress:   h.Progress(),
		FormStatus: h.FormStatus(),
		Alerts:     cds.GroupAlerts(st.ClinicalAlerts),
	}
}

// Submit validates the session completely and, when the form passes,
// delivers it to the backend with token and SubmissionKey(id). A
// successful submission ends the session.
func (s *Service) Submit(ctx context.Context, id, token string) (*SubmitResult, error) {
	h, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if _, busy := s.submitting.LoadOrStore(id, struct{}{}); busy {
		return nil, ErrSubmitInProgress
	}
	defer s.submitting.Delete(id)

	start := time.Now()
	ok := h.ValidateCompletely()
	res := &SubmitResult{Result: resultOf(h)}
	s.record(h.Kind(), res.Result, start)
	if !ok {
		s.recordSubmission(h.Kind(), "not_submittable")
		return res, ErrNotSubmittable
	}
	if p := res.State.Protocol; s.cfg.ScoreThreshold > 0 && p != nil && p.Score < s.cfg.ScoreThreshold {
		s.recordSubmission(h.Kind(), "below_threshold")
		return res, fmt.Errorf("%w: protocol score %d below %d", ErrNotSubmittable, p.Score, s.cfg.ScoreThreshold)
	}
	if s.submitter == nil {
		s.recordSubmission(h.Kind(), "no_backend")
		return res, ErrNoBackend
	}

	path := MedicalSubmitPath
	if h.Kind() == KindNursing {
		path = NursingSubmitPath
	}
	receipt, err := s.submitter.Submit(ctx, path, token, SubmissionKey(id), h.Form())
	if err != nil {
		s.recordSubmission(h.Kind(), "failed")
		s.logger.Error().Err(err).Str("session_id", id).Msg("form submission failed")
		return res, fmt.Errorf("submit form: %w", err)
	}
	s.recordSubmission(h.Kind(), "submitted")
	s.logger.Info().Str("session_id", id).Str("remote_id", receipt.ID).Int("attempts", receipt.Attempts).Msg("form submitted")
	res.Receipt = receipt
	_ = s.registry.Remove(id)
	return res, nil
}

// submissionNamespace scopes the idempotency keys derived from session ids.
var submissionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:medforms:submission"))

// SubmissionKey is the idempotency key of every submission of a session.
// A session is submitted at most once, so repeated attempts share it.
func SubmissionKey(sessionID string) string {
	return uuid.NewSHA1(submissionNamespace, []byte(sessionID)).String()
}

type resultSource interface {
	State() State
	Progress() int
	FormStatus() FormStatus
}

func resultOf(h resultSource) Result {
	st := h.State()
	return Result{
		State:      st,
		Progress:   h.Progress(),
		FormStatus: h.FormStatus(),
		Alerts:     cds.GroupAlerts(st.ClinicalAlerts),
	}
}
