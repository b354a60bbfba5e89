// Package session holds one active intake state machine per initiating
// actor. Sessions are purely in-memory with a bounded lifetime: they end by
// cancellation, lazy expiry, completion or actor disconnection.
package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"reportline/internal/domain"
)

// Resolver checks that a display name belongs to a known actor.
type Resolver interface {
	Resolve(ctx context.Context, name string) (domain.Identity, error)
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// EffectKind classifies the outcome of feeding one input to a session.
type EffectKind string

const (
	// EffectCancelled means the input matched a cancel keyword and the
	// session was discarded.
	EffectCancelled EffectKind = "cancelled"
	// EffectExpired means the session outlived the timeout and was
	// discarded instead of advanced.
	EffectExpired EffectKind = "expired"
	// EffectValidationFailed means the input was rejected; the session
	// stays at its current step.
	EffectValidationFailed EffectKind = "validation_failed"
	// EffectAdvanced means the input was accepted and the session moved
	// one step forward.
	EffectAdvanced EffectKind = "advanced"
	// EffectReadyForConfirmation means the last collected field was
	// accepted and the session now awaits an explicit confirm.
	EffectReadyForConfirmation EffectKind = "ready_for_confirmation"
	// EffectIgnored means free-text input arrived while the session
	// awaits confirmation; only confirm/cancel act on that step.
	EffectIgnored EffectKind = "ignored"
)

// Effect is the result of one Submit call.
type Effect struct {
	Kind   EffectKind
	Step   domain.Step
	Reason domain.ValidationReason
}

// Registry keys live sessions by the initiating actor's stable id.
// Mutation is serialized by the orchestrator's host loop; the mutex only
// guards map access for read paths.
type Registry struct {
	resolver    Resolver
	timeout     time.Duration
	cancelWords []string
	Now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewRegistry builds a registry. cancelWords are matched case-insensitively
// against whole inputs at any step.
func NewRegistry(resolver Resolver, timeout time.Duration, cancelWords []string) *Registry {
	return &Registry{
		resolver:    resolver,
		timeout:     timeout,
		cancelWords: cancelWords,
		Now:         time.Now,
		sessions:    make(map[string]*domain.Session),
	}
}

// SetTimeout swaps the intake timeout, used by config reload.
func (g *Registry) SetTimeout(timeout time.Duration) {
	g.mu.Lock()
	g.timeout = timeout
	g.mu.Unlock()
}

// Begin opens a session for the actor at the violator-collection step.
// A second Begin while one is live fails with ErrAlreadyActive and leaves
// the existing session untouched.
func (g *Registry) Begin(actor domain.Identity) (domain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[actor.ID]; ok {
		return domain.Session{}, domain.ErrAlreadyActive
	}
	s := &domain.Session{
		Actor:     actor,
		Step:      domain.StepCollectingViolator,
		CreatedAt: g.Now(),
	}
	g.sessions[actor.ID] = s
	return *s, nil
}

// Has reports whether the actor currently holds a live session.
func (g *Registry) Has(actorID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessions[actorID]
	return ok
}

// Get returns a copy of the actor's session.
func (g *Registry) Get(actorID string) (domain.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[actorID]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// Cancel discards the actor's session if one exists.
func (g *Registry) Cancel(actorID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[actorID]; !ok {
		return false
	}
	delete(g.sessions, actorID)
	return true
}

// Submit feeds one chat-style input to the actor's session. The expiry
// check runs before any step logic; an expired session is removed and
// reported, never silently advanced.
func (g *Registry) Submit(ctx context.Context, actorID, text string) (Effect, error) {
	g.mu.Lock()
	s, ok := g.sessions[actorID]
	if !ok {
		g.mu.Unlock()
		return Effect{}, domain.ErrNoSession
	}
	if s.Expired(g.timeout, g.Now()) {
		delete(g.sessions, actorID)
		g.mu.Unlock()
		return Effect{Kind: EffectExpired}, nil
	}
	if g.isCancelWord(text) {
		delete(g.sessions, actorID)
		g.mu.Unlock()
		return Effect{Kind: EffectCancelled}, nil
	}
	g.mu.Unlock()

	text = strings.TrimSpace(text)
	switch s.Step {
	case domain.StepCollectingViolator:
		if err := g.validateViolator(ctx, *s, text); err != nil {
			ve, _ := domain.IsValidation(err)
			if ve == nil {
				return Effect{}, err
			}
			return Effect{Kind: EffectValidationFailed, Step: s.Step, Reason: ve.Reason}, nil
		}
		g.advance(s, func() { s.ViolatorName = text })
		return Effect{Kind: EffectAdvanced, Step: s.Step}, nil
	case domain.StepCollectingReason:
		g.advance(s, func() { s.Reason = text })
		return Effect{Kind: EffectAdvanced, Step: s.Step}, nil
	case domain.StepCollectingComment:
		g.advance(s, func() { s.Comment = text })
		return Effect{Kind: EffectReadyForConfirmation, Step: s.Step}, nil
	default:
		// Awaiting confirmation: free text is ignored, only the explicit
		// confirm or cancel surface acts here.
		return Effect{Kind: EffectIgnored, Step: s.Step}, nil
	}
}

// Confirm closes the confirmation step. It removes and returns the session
// regardless of accept, so completion and abandonment both end it. Calling
// it when the session is not awaiting confirmation fails with ErrNoSession;
// an expired session is removed and reported as such.
func (g *Registry) Confirm(actorID string) (domain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[actorID]
	if !ok || s.Step != domain.StepAwaitingConfirmation {
		return domain.Session{}, domain.ErrNoSession
	}
	delete(g.sessions, actorID)
	if s.Expired(g.timeout, g.Now()) {
		return domain.Session{}, domain.ErrSessionExpired
	}
	return *s, nil
}

// Len returns the number of live sessions.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Registry) advance(s *domain.Session, apply func()) {
	g.mu.Lock()
	apply()
	s.Step = s.Step.Next()
	g.mu.Unlock()
}

func (g *Registry) isCancelWord(text string) bool {
	text = strings.TrimSpace(text)
	for _, kw := range g.cancelWords {
		if strings.EqualFold(text, kw) {
			return true
		}
	}
	return false
}

// validateViolator applies the violator-name checks in order: not the
// reporter, valid name shape, resolvable in the roster. Each failure keeps
// the session at CollectingViolator with a distinct reason.
func (g *Registry) validateViolator(ctx context.Context, s domain.Session, name string) error {
	if strings.EqualFold(name, s.Actor.Name) {
		return &domain.ValidationError{Reason: domain.ReasonSelfReport}
	}
	if !namePattern.MatchString(name) {
		return &domain.ValidationError{Reason: domain.ReasonBadFormat}
	}
	if _, err := g.resolver.Resolve(ctx, name); err != nil {
		if errors.Is(err, domain.ErrUnknownActor) {
			return &domain.ValidationError{Reason: domain.ReasonUnknownName}
		}
		return err
	}
	return nil
}
