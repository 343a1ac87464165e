package validation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/platform/debounce"
	"github.com/ehr/medforms/internal/platform/fieldrule"
	"github.com/ehr/medforms/internal/platform/formstate"
)

var (
	// ErrSessionClosed is returned by mutations on a closed session.
	ErrSessionClosed = errors.New("validation session closed")
	// ErrValidationFault wraps a panic recovered during a validation pass.
	ErrValidationFault = errors.New("unexpected validation failure")
)

// DefaultDebounce is the heavy-pass delay used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// SessionConfig configures a Session.
type SessionConfig struct {
	// Realtime enables per-change field validation and the debounced heavy
	// pass. Without it only ValidateCompletely updates the state.
	Realtime  bool
	Debounce  time.Duration
	AfterFunc debounce.AfterFunc
	Logger    zerolog.Logger
	// OnUpdate, when set, is called with the session id after every
	// state change, outside the session lock.
	OnUpdate func(id string)
}

// Session is the live validation context of one form.
type Session[F any] struct {
	id          string
	pipeline    Pipeline[F]
	store       *formstate.Store[F]
	debouncer   *debounce.Debouncer
	unsubscribe func()
	onUpdate    func(id string)
	logger      zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	pctx      cds.ProtocolContext
	state     State
	heavyRuns int
	lastUsed  time.Time
	closed    bool
}

// NewSession creates a session over initial. All known fields start
// untouched.
func NewSession[F any](id string, p Pipeline[F], initial F, pctx cds.ProtocolContext, cfg SessionConfig) *Session[F] {
	delay := cfg.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}
	var opts []debounce.Option
	if cfg.AfterFunc != nil {
		opts = append(opts, debounce.WithAfterFunc(cfg.AfterFunc))
	}
	s := &Session[F]{
		id:          id,
		pipeline:    p,
		store:       formstate.NewStore(p.Clone(initial), p.Apply, p.Clone),
		debouncer:   debounce.New(delay, opts...),
		unsubscribe: func() {},
		onUpdate:    cfg.OnUpdate,
		logger:      cfg.Logger.With().Str("session_id", id).Str("kind", string(p.Kind())).Logger(),
		now:         time.Now,
		pctx:        pctx,
		state:       newState(),
	}
	for path := range p.ValidateFields(initial, "") {
		s.state.FieldStatus[path] = FieldUntouched
	}
	s.lastUsed = s.now()
	if cfg.Realtime {
		s.unsubscribe = s.store.Subscribe(s.onChange)
	}
	return s
}

// ID returns the session id.
func (s *Session[F]) ID() string { return s.id }

// Kind returns the form family.
func (s *Session[F]) Kind() Kind { return s.pipeline.Kind() }

// Set writes value at path.
func (s *Session[F]) Set(path string, value any) error {
	if err := s.touch(); err != nil {
		return err
	}
	return s.store.Set(path, value)
}

// Replace swaps the whole form.
func (s *Session[F]) Replace(form F) error {
	if err := s.touch(); err != nil {
		return err
	}
	s.store.Replace(form)
	return nil
}

// Snapshot returns a copy of the current form.
func (s *Session[F]) Snapshot() F {
	return s.store.Snapshot()
}

// Form returns the current form as an untyped value.
func (s *Session[F]) Form() any {
	return s.store.Snapshot()
}

// SetContext updates the patient context used by the protocol and
// vital-sign checkers.
func (s *Session[F]) SetContext(ctx cds.ProtocolContext) error {
	if err := s.touch(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pctx = ctx
	s.mu.Unlock()
	return nil
}

// Context returns the patient context.
func (s *Session[F]) Context() cds.ProtocolContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pctx
}

func (s *Session[F]) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastUsed = s.now()
	return nil
}

func (s *Session[F]) onChange(e formstate.Event) {
	form := s.store.Snapshot()
	results := s.pipeline.ValidateFields(form, e.Path)
	heavy := s.pipeline.Critical(e.Root())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for path := range s.state.FieldErrors {
		if fieldrule.Under(path, e.Path) {
			delete(s.state.FieldErrors, path)
		}
	}
	for path := range s.state.FieldStatus {
		if _, ok := results[path]; !ok && fieldrule.Under(path, e.Path) {
			delete(s.state.FieldStatus, path)
		}
	}
	invalid := 0
	for path, r := range results {
		s.state.FieldStatus[path] = FieldValidating
		switch {
		case !r.IsValid:
			s.state.FieldErrors[path] = r.Error
			s.state.FieldStatus[path] = FieldInvalid
			invalid++
		case !heavy:
			s.state.FieldStatus[path] = FieldValid
		}
	}
	if !heavy {
		s.state.settle()
	}
	s.state.refresh()
	s.mu.Unlock()

	s.logger.Debug().Str("path", e.Path).Int("invalid", invalid).Bool("heavy", heavy).Msg("field change validated")
	s.notify()
	if heavy {
		s.debouncer.Trigger(s.runHeavy)
	}
}

// runHeavy is the debounced pass: coherence, protocol and clinical alerts
// over the latest snapshot.
func (s *Session[F]) runHeavy() {
	form := s.store.Snapshot()
	s.mu.Lock()
	pctx := s.pctx
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	coherence, report, alerts, err := s.heavy(form, pctx)

	s.mu.Lock()
	s.heavyRuns++
	if err != nil {
		s.fail(err)
	} else {
		s.state.CoherenceErrors = coherence
		s.state.setProtocol(report)
		s.state.ClinicalAlerts = alerts
		s.state.settle()
		s.state.refresh()
		s.logger.Debug().
			Int("coherence_errors", len(coherence)).
			Int("alerts", len(alerts)).
			Msg("heavy validation pass")
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session[F]) notify() {
	if s.onUpdate != nil {
		s.onUpdate(s.id)
	}
}

func (s *Session[F]) heavy(form F, pctx cds.ProtocolContext) (coherence []string, report *cds.ProtocolReport, alerts []cds.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrValidationFault, r)
		}
	}()
	coherence = s.pipeline.Coherence(form)
	report = s.pipeline.Protocol(form, pctx)
	alerts = s.pipeline.Alerts(form, pctx.PatientAge)
	if alerts == nil {
		alerts = []cds.Alert{}
	}
	return coherence, report, alerts, nil
}

// ValidateCompletely runs schema parse, coherence, protocol compliance and
// clinical alerts over the current snapshot, replaces the state and
// reports whether the form may be submitted. A pending heavy pass is
// superseded.
func (s *Session[F]) ValidateCompletely() bool {
	s.debouncer.Cancel()
	form := s.store.Snapshot()
	s.mu.Lock()
	pctx := s.pctx
	s.mu.Unlock()

	st, err := s.evaluate(form, pctx)

	s.mu.Lock()
	s.lastUsed = s.now()
	if err != nil {
		s.fail(err)
		st = s.state
	} else {
		s.state = st
		s.logger.Debug().
			Bool("valid", st.IsValid).
			Int("field_errors", len(st.FieldErrors)).
			Int("coherence_errors", len(st.CoherenceErrors)).
			Int("alerts", len(st.ClinicalAlerts)).
			Msg("complete validation")
	}
	s.mu.Unlock()
	s.notify()
	return err == nil && st.IsValid
}

func (s *Session[F]) evaluate(form F, pctx cds.ProtocolContext) (st State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrValidationFault, r)
		}
	}()
	st = newState()
	for path, r := range s.pipeline.ValidateFields(form, "") {
		if r.IsValid {
			st.FieldStatus[path] = FieldValid
		} else {
			st.FieldStatus[path] = FieldInvalid
		}
	}
	if perr := s.pipeline.Parse(form); perr != nil {
		var schemaErr *fieldrule.SchemaError
		if !errors.As(perr, &schemaErr) {
			return st, perr
		}
		for path, msg := range schemaErr.Fields {
			st.FieldErrors[path] = msg
			st.FieldStatus[path] = FieldInvalid
		}
	}
	st.CoherenceErrors = s.pipeline.Coherence(form)
	st.setProtocol(s.pipeline.Protocol(form, pctx))
	if alerts := s.pipeline.Alerts(form, pctx.PatientAge); alerts != nil {
		st.ClinicalAlerts = alerts
	}
	st.settle()
	st.verified = true
	st.refresh()
	return st, nil
}

// fail replaces the error collections with a single generic entry. The
// caller holds s.mu.
func (s *Session[F]) fail(err error) {
	s.logger.Error().Err(err).Msg("validation pass failed")
	status, verified := s.state.FieldStatus, s.state.verified
	s.state = newState()
	s.state.FieldStatus = status
	s.state.verified = verified
	s.state.CoherenceErrors = []string{GenericFailureMessage}
	s.state.refresh()
}

// State returns a copy of the aggregate state.
func (s *Session[F]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// ClinicalAlerts returns the alerts of the last heavy or complete pass.
func (s *Session[F]) ClinicalAlerts() []cds.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cds.Alert{}, s.state.ClinicalAlerts...)
}

// Progress returns the completion percentage of the current form.
func (s *Session[F]) Progress() int {
	return s.pipeline.Progress(s.store.Snapshot())
}

// FormStatus derives the overall form status.
func (s *Session[F]) FormStatus() FormStatus {
	progress := s.Progress()
	s.mu.Lock()
	defer s.mu.Unlock()
	return formStatus(progress, s.state)
}

// Clear drops every error and alert and resets field statuses, keeping the
// form values.
func (s *Session[F]) Clear() {
	s.debouncer.Cancel()
	s.mu.Lock()
	status := make(map[string]FieldStatus, len(s.state.FieldStatus))
	for path := range s.state.FieldStatus {
		status[path] = FieldUntouched
	}
	s.state = newState()
	s.state.FieldStatus = status
	s.lastUsed = s.now()
	s.mu.Unlock()
	s.notify()
}

// HeavyRuns returns how many debounced heavy passes have run.
func (s *Session[F]) HeavyRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heavyRuns
}

// LastUsed returns the time of the last mutation or validation.
func (s *Session[F]) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Closed reports whether Close was called.
func (s *Session[F]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels the pending heavy pass and removes the field subscription.
// It is safe to call more than once.
func (s *Session[F]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.debouncer.Stop()
	s.unsubscribe()
}

// Subscribers returns the number of field-change listeners on the form.
func (s *Session[F]) Subscribers() int {
	return s.store.Subscribers()
}
