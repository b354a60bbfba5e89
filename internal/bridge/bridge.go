// Package bridge mirrors reports to a Discord channel and feeds moderator
// actions back into the orchestrator. Publishing and edits run on the
// bridge's own worker; every edit re-reads the report's current state at
// edit time so a queued update can never regress to stale data.
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"reportline/internal/domain"
)

// Source provides the canonical current state of a report at sync time.
type Source interface {
	Get(id string) (domain.Report, error)
}

// Applier applies a moderator action on the authoritative execution
// context. Implemented by the orchestrator.
type Applier interface {
	ApplyRemoteAction(ctx context.Context, action domain.RemoteAction) error
}

// Config for the Discord bridge.
type Config struct {
	Token     string
	ChannelID string
}

type syncKind int

const (
	syncPublish syncKind = iota
	syncStatus
	syncComment
)

type request struct {
	kind     syncKind
	reportID string
}

const applyTimeout = 10 * time.Second

// Bridge owns the report-id to message-id mapping. The mapping lives only
// in memory: a report whose publish failed has no reference and later
// updates for it are silently skipped.
type Bridge struct {
	dg        *discordgo.Session
	channelID string
	source    Source
	applier   Applier

	connected atomic.Bool

	mu   sync.Mutex
	refs map[string]string

	queue chan request
	done  chan struct{}
	wg    sync.WaitGroup
}

// New builds a bridge and registers its Discord handlers. Call Start to
// connect.
func New(cfg Config, source Source, applier Applier) (*Bridge, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	b := &Bridge{
		dg:        dg,
		channelID: cfg.ChannelID,
		source:    source,
		applier:   applier,
		refs:      make(map[string]string),
		queue:     make(chan request, 64),
		done:      make(chan struct{}),
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildVoiceStates
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		b.connected.Store(true)
		log.Printf("bridge: discord connected")
	})
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.connected.Store(false)
		log.Printf("bridge: discord disconnected")
	})
	dg.AddHandler(b.handleInteraction)
	return b, nil
}

// Start opens the gateway connection and the sync worker.
func (b *Bridge) Start() error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.wg.Add(1)
	go b.run()
	return nil
}

// Close stops the sync worker and closes the gateway. Queued syncs that
// have not run yet are dropped; delivery is best-effort.
func (b *Bridge) Close() {
	close(b.done)
	b.wg.Wait()
	if err := b.dg.Close(); err != nil {
		log.Printf("bridge: close discord session: %v", err)
	}
}

// Available reports whether the bridge can currently publish.
func (b *Bridge) Available() bool {
	return b.connected.Load()
}

// RequestPublish queues the initial publish for a report.
func (b *Bridge) RequestPublish(reportID string) {
	b.enqueue(request{kind: syncPublish, reportID: reportID})
}

// RequestStatusSync queues a re-render after a status transition.
func (b *Bridge) RequestStatusSync(reportID string) {
	b.enqueue(request{kind: syncStatus, reportID: reportID})
}

// RequestCommentSync queues a re-render after a comment-only change.
func (b *Bridge) RequestCommentSync(reportID string) {
	b.enqueue(request{kind: syncComment, reportID: reportID})
}

func (b *Bridge) enqueue(req request) {
	select {
	case b.queue <- req:
	case <-b.done:
	default:
		log.Printf("bridge: sync queue full, dropping %v for report %s", req.kind, req.reportID)
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case req := <-b.queue:
			b.handle(req)
		case <-b.done:
			return
		}
	}
}

// handle performs one sync against the report's current fields. Failures
// are logged and dropped; there is no retry queue and local state stays
// authoritative.
func (b *Bridge) handle(req request) {
	r, err := b.source.Get(req.reportID)
	if err != nil {
		log.Printf("bridge: sync for unknown report %s: %v", req.reportID, err)
		return
	}
	switch req.kind {
	case syncPublish:
		b.publish(r)
	default:
		b.edit(r)
	}
}

func (b *Bridge) publish(r domain.Report) {
	msg, err := b.dg.ChannelMessageSendComplex(b.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{renderEmbed(r)},
		Components: renderComponents(r.ID, r.Terminal()),
	})
	if err != nil {
		log.Printf("bridge: publish report %s: %v", r.ID, err)
		return
	}
	b.mu.Lock()
	b.refs[r.ID] = msg.ID
	b.mu.Unlock()
	log.Printf("bridge: report %s published to discord", r.ID)
}

// edit re-renders the remote message for a report. Without a remote
// reference the update is skipped; that is not an error.
func (b *Bridge) edit(r domain.Report) {
	b.mu.Lock()
	messageID, ok := b.refs[r.ID]
	b.mu.Unlock()
	if !ok {
		return
	}
	embeds := []*discordgo.MessageEmbed{renderEmbed(r)}
	components := renderComponents(r.ID, r.Terminal())
	_, err := b.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    b.channelID,
		ID:         messageID,
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		log.Printf("bridge: update report %s: %v", r.ID, err)
		return
	}
	log.Printf("bridge: report %s updated on discord", r.ID)
}

// Reference returns the remote message id for a report, if published.
func (b *Bridge) Reference(reportID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.refs[reportID]
	return id, ok
}
