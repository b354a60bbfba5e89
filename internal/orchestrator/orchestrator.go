// Package orchestrator drives the report lifecycle: it enforces quotas,
// turns completed intake sessions into persisted reports, and applies
// moderator actions arriving from the remote bridge.
//
// All Session and Report mutation happens on a single host loop goroutine.
// Bridge callbacks and HTTP handlers never write shared state directly;
// they submit closures that the loop runs one at a time.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/session"
	"reportline/internal/store"
)

// Identities resolves and enrolls actor identities. Resolve only finds
// known actors; Touch enrolls the caller on sight, since the hosting
// platform vouches for anyone who can reach the local surface.
type Identities interface {
	Resolve(ctx context.Context, name string) (domain.Identity, error)
	Touch(ctx context.Context, name string) (domain.Identity, error)
}

// Bridge is the remote status-sync surface the orchestrator drives.
type Bridge interface {
	Available() bool
	RequestPublish(reportID string)
	RequestStatusSync(reportID string)
	RequestCommentSync(reportID string)
}

// Options collects the orchestrator's collaborators. Every component is
// passed explicitly; there is no ambient global lookup.
type Options struct {
	Config     *config.Config
	Store      *store.Store
	Sessions   *session.Registry
	Identities Identities
	Bridge     Bridge
	Events     *events.Writer
}

type Orchestrator struct {
	store      *store.Store
	sessions   *session.Registry
	identities Identities
	bridge     Bridge
	events     *events.Writer
	Now        func() time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config

	// counter is only touched on the host loop.
	counter int

	tasks   chan func()
	stopped chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		store:      opts.Store,
		sessions:   opts.Sessions,
		identities: opts.Identities,
		bridge:     opts.Bridge,
		events:     opts.Events,
		cfg:        opts.Config,
		Now:        time.Now,
		tasks:      make(chan func(), 32),
		stopped:    make(chan struct{}),
	}
}

// SetBridge wires the bridge after construction; the bridge itself needs
// the orchestrator as its action applier. Call before Start.
func (o *Orchestrator) SetBridge(b Bridge) {
	o.bridge = b
}

// Start launches the host loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.run()
}

// Shutdown stops the host loop, drains queued work, and flushes the store
// synchronously. No remote sync is requested once the flush begins.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop.Do(func() { close(o.stopped) })
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.store.Persist()
}

func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case fn := <-o.tasks:
			fn()
		case <-o.stopped:
			for {
				select {
				case fn := <-o.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// call runs fn on the host loop and waits for its result.
func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.tasks <- func() { errc <- fn() }:
	case <-o.stopped:
		return domain.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) config() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// Reload swaps the active config. Applied on the host loop so in-flight
// intake decisions never see a half-applied config.
func (o *Orchestrator) Reload(ctx context.Context, cfg *config.Config) error {
	return o.call(ctx, func() error {
		o.cfgMu.Lock()
		o.cfg = cfg
		o.cfgMu.Unlock()
		o.sessions.SetTimeout(cfg.FormTimeoutDuration())
		log.Printf("orchestrator: config reloaded")
		return nil
	})
}

func (o *Orchestrator) bridgeAvailable() bool {
	return o.bridge != nil && o.bridge.Available()
}

// StartIntake opens an intake session for the named actor. It refuses when
// the remote bridge is down, when the actor's Pending quota is exhausted,
// and when a session is already live.
func (o *Orchestrator) StartIntake(ctx context.Context, actorName string) (domain.Session, error) {
	var sess domain.Session
	err := o.call(ctx, func() error {
		if !o.bridgeAvailable() {
			return domain.ErrUnavailable
		}
		actor, err := o.identities.Touch(ctx, actorName)
		if err != nil {
			return err
		}
		if o.activePendingCount(actor.ID) >= o.config().Reports.MaxActive {
			return domain.ErrQuotaExceeded
		}
		sess, err = o.sessions.Begin(actor)
		if err != nil {
			return err
		}
		o.logEvent(ctx, "session.started", "", actor.Name, nil)
		return nil
	})
	return sess, err
}

// SubmitInput feeds one chat-style input into the actor's session.
func (o *Orchestrator) SubmitInput(ctx context.Context, actorName, text string) (session.Effect, error) {
	var effect session.Effect
	err := o.call(ctx, func() error {
		actor, err := o.identities.Touch(ctx, actorName)
		if err != nil {
			return err
		}
		effect, err = o.sessions.Submit(ctx, actor.ID, text)
		if err != nil {
			return err
		}
		switch effect.Kind {
		case session.EffectCancelled:
			o.logEvent(ctx, "session.cancelled", "", actor.Name, nil)
		case session.EffectExpired:
			o.logEvent(ctx, "session.expired", "", actor.Name, nil)
		}
		return nil
	})
	return effect, err
}

// Cancel discards the actor's session if one exists. Cancellation has no
// effect on already persisted reports.
func (o *Orchestrator) Cancel(ctx context.Context, actorName string) error {
	return o.call(ctx, func() error {
		actor, err := o.identities.Touch(ctx, actorName)
		if err != nil {
			return err
		}
		if o.sessions.Cancel(actor.ID) {
			o.logEvent(ctx, "session.cancelled", "", actor.Name, nil)
		}
		return nil
	})
}

// Disconnect reaps the actor's session when they leave the platform.
func (o *Orchestrator) Disconnect(ctx context.Context, actorName string) error {
	return o.Cancel(ctx, actorName)
}

// Confirm closes the confirmation step. With accept=false the session is
// discarded. With accept=true the session becomes a persisted Pending
// report and its publish is requested asynchronously. Either way the
// session is gone afterwards.
func (o *Orchestrator) Confirm(ctx context.Context, actorName string, accept bool) (domain.Report, bool, error) {
	var (
		report  domain.Report
		created bool
	)
	err := o.call(ctx, func() error {
		actor, err := o.identities.Touch(ctx, actorName)
		if err != nil {
			return err
		}
		sess, err := o.sessions.Confirm(actor.ID)
		if err != nil {
			return err
		}
		if !accept {
			o.logEvent(ctx, "session.cancelled", "", actor.Name, nil)
			return nil
		}
		if !o.bridgeAvailable() {
			return domain.ErrUnavailable
		}
		if o.activePendingCount(actor.ID) >= o.config().Reports.MaxActive {
			return domain.ErrQuotaExceeded
		}
		report = o.createReport(ctx, sess)
		created = true
		return nil
	})
	return report, created, err
}

// createReport converts a completed session into a persisted report.
// Runs on the host loop.
func (o *Orchestrator) createReport(ctx context.Context, sess domain.Session) domain.Report {
	violatorID := ""
	if o.config().Reports.RecordViolatorID {
		if v, err := o.identities.Resolve(ctx, sess.ViolatorName); err == nil {
			violatorID = v.ID
		}
	}
	id := o.nextID()
	report := domain.NewReport(id, sess.Actor, sess.ViolatorName, violatorID, sess.Reason, sess.Comment, o.Now())
	if err := o.store.Put(report); err != nil {
		log.Printf("orchestrator: persist report %s: %v", id, err)
	}
	o.logEvent(ctx, "report.created", id, sess.Actor.Name, events.Payload{
		"violator": sess.ViolatorName,
		"reason":   sess.Reason,
	})
	o.bridge.RequestPublish(id)
	return report
}

// nextID allocates a report id: a coarse timestamp combined with a
// per-process monotonically increasing counter. Unique within one process
// run; collisions across restarts would overwrite id-keyed puts.
func (o *Orchestrator) nextID() string {
	o.counter++
	return fmt.Sprintf("%s-%d-%d", o.config().Reports.IDPrefix, o.Now().Unix(), o.counter)
}

// activePendingCount counts only Pending reports; terminal reports never
// count toward the quota.
func (o *Orchestrator) activePendingCount(reporterID string) int {
	return o.store.CountByStatus(reporterID)[domain.StatusPending]
}

// ApplyRemoteAction applies a moderator action from the bridge. Invoked on
// the bridge's callback goroutines, it marshals onto the host loop and
// re-checks the Pending precondition there, so racing callbacks cannot
// double-transition a report.
func (o *Orchestrator) ApplyRemoteAction(ctx context.Context, action domain.RemoteAction) error {
	return o.call(ctx, func() error {
		r, err := o.store.Get(action.ReportID)
		if err != nil {
			return err
		}
		if action.Kind.StatusChanging() && r.Terminal() {
			return domain.ErrAlreadyReviewed
		}
		now := o.Now()
		switch action.Kind {
		case domain.ActionApprove:
			r.Status = domain.StatusApproved
			r.AdminComment = formatPunishment(action.Punishment)
			r.ReviewedBy = action.ModeratorName
			r.ReviewedByRemoteID = action.ModeratorID
			r.ReviewedAt = now
		case domain.ActionReject:
			r.Status = domain.StatusRejected
			r.ReviewedBy = action.ModeratorName
			r.ReviewedByRemoteID = action.ModeratorID
			r.ReviewedAt = now
		case domain.ActionCheck:
			r.AdminComment = fmt.Sprintf("Called for check by %s. Voice channel: %s", action.ModeratorName, action.VoiceChannel)
		case domain.ActionComment:
			r.AdminComment = action.Comment
			r.ReviewedBy = action.ModeratorName
			r.ReviewedByRemoteID = action.ModeratorID
			r.ReviewedAt = now
		default:
			return fmt.Errorf("unknown action kind %q", action.Kind)
		}
		if err := o.store.Put(r); err != nil {
			log.Printf("orchestrator: persist report %s: %v", r.ID, err)
		}
		o.logEvent(ctx, "report."+string(action.Kind), r.ID, action.ModeratorName, nil)
		if action.Kind.StatusChanging() {
			o.bridge.RequestStatusSync(r.ID)
		} else {
			o.bridge.RequestCommentSync(r.ID)
		}
		return nil
	})
}

func formatPunishment(p domain.Punishment) string {
	s := fmt.Sprintf("Punishment: %s | Duration: %s", p.Kind, p.Duration)
	if strings.TrimSpace(p.Reason) != "" {
		s += " | Reason: " + p.Reason
	}
	return s
}

// Reports lists the actor's reports, newest first, bounded by the history
// limit. Store reads are internally locked, so this needs no host loop.
func (o *Orchestrator) Reports(ctx context.Context, actorName string) ([]domain.Report, error) {
	actor, err := o.identities.Resolve(ctx, actorName)
	if err != nil {
		return nil, err
	}
	list := o.store.ListByReporter(actor.ID)
	if limit := o.config().Reports.HistoryLimit; limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Report returns a single report by id.
func (o *Orchestrator) Report(id string) (domain.Report, error) {
	return o.store.Get(id)
}

// Stats returns status counts, scoped to one actor when actorName is
// non-empty.
func (o *Orchestrator) Stats(ctx context.Context, actorName string) (map[domain.Status]int, error) {
	if actorName == "" {
		return o.store.CountByStatus(""), nil
	}
	actor, err := o.identities.Resolve(ctx, actorName)
	if err != nil {
		return nil, err
	}
	return o.store.CountByStatus(actor.ID), nil
}

// Session returns a copy of the actor's live session, if any.
func (o *Orchestrator) Session(ctx context.Context, actorName string) (domain.Session, bool) {
	actor, err := o.identities.Resolve(ctx, actorName)
	if err != nil {
		return domain.Session{}, false
	}
	return o.sessions.Get(actor.ID)
}

func (o *Orchestrator) logEvent(ctx context.Context, evtType, reportID, actor string, payload events.Payload) {
	if o.events == nil {
		return
	}
	if err := o.events.Append(ctx, evtType, reportID, actor, payload); err != nil {
		log.Printf("orchestrator: append event %s: %v", evtType, err)
	}
}
