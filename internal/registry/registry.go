// Package registry owns the set of registered triggers. Registration,
// removal and rescheduling are mutually exclusive with each other and with
// the runtime's fire bookkeeping; snapshots are taken under a read lock.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

var (
	ErrDuplicateTrigger = errors.New("trigger already registered")
	ErrTriggerNotFound  = errors.New("trigger not found")
	ErrTriggerFiring    = errors.New("trigger is firing")
	ErrTriggerDisabled  = errors.New("trigger is disabled")
	ErrInvalidTriggerID = errors.New("trigger id is required")
)

type CronParser interface {
	Schedule(expr cron.CronExpression, timezone string) (cron.Schedule, error)
}

type Config struct {
	// Timezone is the IANA zone schedules are evaluated in. Empty means UTC.
	Timezone string
}

type entry struct {
	trigger  domain.Trigger
	schedule cron.Schedule
	seq      uint64
	inFlight uuid.UUID // uuid.Nil when idle
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	config Config
	parser CronParser
	clock  func() time.Time
}

func New(config Config, parser CronParser) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		config:  config,
		parser:  parser,
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register adds a trigger for an external-dialect expression. The payload is
// checked before the expression is translated, and nothing is stored unless
// every step succeeds.
func (r *Registry) Register(id, expression string, payload domain.JobPayload) (domain.Trigger, error) {
	id = normalizeID(id)
	if id == "" {
		return domain.Trigger{}, ErrInvalidTriggerID
	}
	if err := payload.Validate(); err != nil {
		return domain.Trigger{}, err
	}
	expr, sched, err := r.compile(expression)
	if err != nil {
		return domain.Trigger{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrDuplicateTrigger, id)
	}

	now := r.clock()
	r.seq++
	e := &entry{
		trigger: domain.Trigger{
			ID:           id,
			Expression:   expr,
			Source:       strings.Join(strings.Fields(expression), " "),
			Payload:      payload,
			Enabled:      true,
			State:        domain.TriggerStateScheduled,
			NextFireAt:   sched.Next(now),
			RegisteredAt: now,
			UpdatedAt:    now,
		},
		schedule: sched,
		seq:      r.seq,
	}
	r.entries[id] = e
	return r.snapshot(e, now), nil
}

// Unregister removes a trigger. A fire already in flight runs to completion
// but its result is not written back.
func (r *Registry) Unregister(id string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}
	delete(r.entries, id)
	return nil
}

// Reschedule replaces a trigger's expression, keeping its payload and its
// position in registration order.
func (r *Registry) Reschedule(id, expression string) (domain.Trigger, error) {
	id = normalizeID(id)
	expr, sched, err := r.compile(expression)
	if err != nil {
		return domain.Trigger{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}

	now := r.clock()
	e.trigger.Expression = expr
	e.trigger.Source = strings.Join(strings.Fields(expression), " ")
	e.trigger.UpdatedAt = now
	e.schedule = sched
	// A firing trigger gets its next fire time on completion.
	if e.inFlight == uuid.Nil {
		e.trigger.NextFireAt = sched.Next(now)
	}
	return r.snapshot(e, now), nil
}

// Pause disables a trigger. Pausing a firing trigger lets the current fire
// finish and then parks it.
func (r *Registry) Pause(id string) (domain.Trigger, error) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}

	now := r.clock()
	e.trigger.Enabled = false
	e.trigger.UpdatedAt = now
	if e.inFlight == uuid.Nil {
		e.trigger.State = domain.TriggerStateDisabled
	}
	return r.snapshot(e, now), nil
}

// Resume re-enables a paused trigger with a next fire time strictly after
// now. Missed occurrences while paused are not replayed.
func (r *Registry) Resume(id string) (domain.Trigger, error) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}

	now := r.clock()
	if !e.trigger.Enabled {
		e.trigger.Enabled = true
		e.trigger.UpdatedAt = now
		if e.inFlight == uuid.Nil {
			e.trigger.State = domain.TriggerStateScheduled
			e.trigger.NextFireAt = e.schedule.Next(now)
		}
	}
	return r.snapshot(e, now), nil
}

func (r *Registry) Get(id string) (domain.Trigger, error) {
	id = normalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}
	return r.snapshot(e, r.clock()), nil
}

// ListActive returns copies of every registered trigger, paused ones
// included, in registration order.
func (r *Registry) ListActive() []domain.Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	ordered := r.ordered()
	out := make([]domain.Trigger, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, r.snapshot(e, now))
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ClaimDue moves every enabled, idle trigger whose next fire time is at or
// before now into the firing state and returns one event per trigger,
// earliest first.
func (r *Registry) ClaimDue(now time.Time) []domain.FireEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []domain.FireEvent
	for _, e := range r.ordered() {
		t := &e.trigger
		if !t.Enabled || e.inFlight != uuid.Nil || t.NextFireAt.IsZero() || t.NextFireAt.After(now) {
			continue
		}
		events = append(events, r.begin(e, t.NextFireAt, now, false))
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ScheduledAt.Before(events[j].ScheduledAt)
	})
	return events
}

// BeginFire claims a trigger for an immediate, out-of-schedule fire.
func (r *Registry) BeginFire(id string, now time.Time) (domain.FireEvent, error) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.FireEvent{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, id)
	}
	if e.inFlight != uuid.Nil {
		return domain.FireEvent{}, fmt.Errorf("%w: %s", ErrTriggerFiring, id)
	}
	if !e.trigger.Enabled {
		return domain.FireEvent{}, fmt.Errorf("%w: %s", ErrTriggerDisabled, id)
	}
	return r.begin(e, now, now, true), nil
}

func (r *Registry) begin(e *entry, scheduledAt, now time.Time, manual bool) domain.FireEvent {
	ev := domain.FireEvent{
		ID:          uuid.New(),
		TriggerID:   e.trigger.ID,
		Payload:     e.trigger.Payload,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
		Manual:      manual,
	}
	e.inFlight = ev.ID
	e.trigger.State = domain.TriggerStateFiring
	e.trigger.LastFiredAt = now
	return ev
}

// CompleteFire records the outcome of a fire and returns the trigger to its
// resting state with a next fire time strictly after now. It reports false
// when the trigger was removed or re-registered while the fire was in
// flight, in which case nothing is changed.
func (r *Registry) CompleteFire(id string, eventID uuid.UUID, now time.Time, runErr error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.inFlight != eventID {
		return false
	}

	e.inFlight = uuid.Nil
	e.trigger.NextFireAt = e.schedule.Next(now)
	e.trigger.LastError = ""
	if runErr != nil {
		e.trigger.LastError = runErr.Error()
	}
	e.trigger.State = domain.TriggerStateScheduled
	if !e.trigger.Enabled {
		e.trigger.State = domain.TriggerStateDisabled
	}
	return true
}

// AbortFire releases a claim that never reached the executor. The next fire
// time is left untouched so the trigger is claimed again on the next pass.
func (r *Registry) AbortFire(id string, eventID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.inFlight != eventID {
		return
	}
	e.inFlight = uuid.Nil
	e.trigger.State = domain.TriggerStateScheduled
	if !e.trigger.Enabled {
		e.trigger.State = domain.TriggerStateDisabled
	}
}

// normalizeID strips surrounding whitespace so every operation addresses a
// trigger by the same key.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

func (r *Registry) compile(expression string) (cron.CronExpression, cron.Schedule, error) {
	expr, err := cron.ToInternalDialect(expression)
	if err != nil {
		return cron.CronExpression{}, nil, err
	}
	sched, err := r.parser.Schedule(expr, r.config.Timezone)
	if err != nil {
		return cron.CronExpression{}, nil, err
	}
	return expr, sched, nil
}

func (r *Registry) ordered() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// snapshot copies a trigger. A scheduled trigger whose fire time has passed
// but has not been claimed yet is reported as due.
func (r *Registry) snapshot(e *entry, now time.Time) domain.Trigger {
	t := e.trigger
	if t.State == domain.TriggerStateScheduled && !t.NextFireAt.IsZero() && !t.NextFireAt.After(now) {
		t.State = domain.TriggerStateDue
	}
	return t
}
