package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/session"
	"reportline/internal/store"
)

type fakeIdentities struct {
	known map[string]string
}

func (f *fakeIdentities) Resolve(_ context.Context, name string) (domain.Identity, error) {
	id, ok := f.known[strings.ToLower(name)]
	if !ok {
		return domain.Identity{}, domain.ErrUnknownActor
	}
	return domain.Identity{ID: id, Name: name}, nil
}

func (f *fakeIdentities) Touch(ctx context.Context, name string) (domain.Identity, error) {
	if id, err := f.Resolve(ctx, name); err == nil {
		return id, nil
	}
	id := "actor-" + strings.ToLower(name)
	f.known[strings.ToLower(name)] = id
	return domain.Identity{ID: id, Name: name}, nil
}

type fakeBridge struct {
	available    bool
	published    []string
	statusSyncs  []string
	commentSyncs []string
}

func (b *fakeBridge) Available() bool              { return b.available }
func (b *fakeBridge) RequestPublish(id string)     { b.published = append(b.published, id) }
func (b *fakeBridge) RequestStatusSync(id string)  { b.statusSyncs = append(b.statusSyncs, id) }
func (b *fakeBridge) RequestCommentSync(id string) { b.commentSyncs = append(b.commentSyncs, id) }

type testEnv struct {
	orch   *Orchestrator
	bridge *fakeBridge
	store  *store.Store
	cfg    *config.Config
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Reports.MaxActive = 2
	st, err := store.Open(filepath.Join(t.TempDir(), "reports.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ids := &fakeIdentities{known: map[string]string{
		"bob": "actor-bob",
		"eve": "actor-eve",
	}}
	registry := session.NewRegistry(ids, cfg.FormTimeoutDuration(), cfg.Reports.CancelKeywords)
	br := &fakeBridge{available: true}
	orch := New(Options{
		Config:     cfg,
		Store:      st,
		Sessions:   registry,
		Identities: ids,
		Bridge:     br,
	})
	orch.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	orch.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return testEnv{orch: orch, bridge: br, store: st, cfg: cfg}
}

// fileReport drives a full intake for the actor and returns the report.
func fileReport(t *testing.T, o *Orchestrator, actor, violator string) domain.Report {
	t.Helper()
	ctx := context.Background()
	if _, err := o.StartIntake(ctx, actor); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	for _, input := range []string{violator, "griefing spawn", "no further details"} {
		if _, err := o.SubmitInput(ctx, actor, input); err != nil {
			t.Fatalf("submit %q: %v", input, err)
		}
	}
	r, created, err := o.Confirm(ctx, actor, true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !created {
		t.Fatal("confirm accepted but no report created")
	}
	return r
}

func TestIntakeProducesPendingReport(t *testing.T) {
	env := newTestEnv(t)
	r := fileReport(t, env.orch, "Bob", "Eve")

	if r.Status != domain.StatusPending {
		t.Fatalf("new report status = %s, want pending", r.Status)
	}
	if !strings.HasPrefix(r.ID, "REP-") {
		t.Fatalf("id %q missing prefix", r.ID)
	}
	if r.Reporter.Name != "Bob" || r.ViolatorName != "Eve" {
		t.Fatalf("report parties wrong: %+v", r)
	}
	if r.ViolatorID != "actor-eve" {
		t.Fatalf("violator id not recorded: %q", r.ViolatorID)
	}
	stored, err := env.store.Get(r.ID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if len(env.bridge.published) != 1 || env.bridge.published[0] != r.ID {
		t.Fatalf("publish not requested: %v", env.bridge.published)
	}
}

func TestViolatorIDNotRecordedWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Reports.RecordViolatorID = false
	r := fileReport(t, env.orch, "Bob", "Eve")
	if r.ViolatorID != "" {
		t.Fatalf("violator id recorded despite being disabled: %q", r.ViolatorID)
	}
}

func TestBridgeUnavailableBlocksIntake(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.available = false
	if _, err := env.orch.StartIntake(context.Background(), "Bob"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable at start, got %v", err)
	}
}

func TestBridgeLossAtConfirmDiscardsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.orch.StartIntake(ctx, "Bob"); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	for _, input := range []string{"Eve", "griefing", "none"} {
		if _, err := env.orch.SubmitInput(ctx, "Bob", input); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	env.bridge.available = false
	if _, _, err := env.orch.Confirm(ctx, "Bob", true); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable at confirm, got %v", err)
	}
	// The session is gone either way; a retry has to start over.
	if _, _, err := env.orch.Confirm(ctx, "Bob", true); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after failed confirm, got %v", err)
	}
}

func TestPendingQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := fileReport(t, env.orch, "Bob", "Eve")
	fileReport(t, env.orch, "Bob", "Eve")

	if _, err := env.orch.StartIntake(ctx, "Bob"); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded at max pending, got %v", err)
	}

	// Terminal reports stop counting toward the quota.
	err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{
		ReportID:      first.ID,
		Kind:          domain.ActionApprove,
		ModeratorName: "Mod",
		Punishment:    domain.Punishment{Kind: "ban", Duration: "7d"},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.orch.StartIntake(ctx, "Bob"); err != nil {
		t.Fatalf("intake should resume after review, got %v", err)
	}
}

func TestQuotaScopedPerReporter(t *testing.T) {
	env := newTestEnv(t)
	fileReport(t, env.orch, "Bob", "Eve")
	fileReport(t, env.orch, "Bob", "Eve")
	if _, err := env.orch.StartIntake(context.Background(), "Eve"); err != nil {
		t.Fatalf("other reporters must not be throttled: %v", err)
	}
}

func TestApproveFoldsPunishmentIntoAdminComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := fileReport(t, env.orch, "Bob", "Eve")

	err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{
		ReportID:      r.ID,
		Kind:          domain.ActionApprove,
		ModeratorName: "Mod",
		ModeratorID:   "remote-42",
		Punishment:    domain.Punishment{Kind: "ban", Duration: "7d", Reason: "griefing"},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, err := env.store.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	want := "Punishment: ban | Duration: 7d | Reason: griefing"
	if got.AdminComment != want {
		t.Fatalf("adminComment = %q, want %q", got.AdminComment, want)
	}
	if got.ReviewedBy != "Mod" || got.ReviewedByRemoteID != "remote-42" {
		t.Fatalf("reviewer fields wrong: %+v", got)
	}
	if got.ReviewedAt.IsZero() {
		t.Fatal("reviewedAt not set")
	}
	if len(env.bridge.statusSyncs) != 1 || env.bridge.statusSyncs[0] != r.ID {
		t.Fatalf("status sync not requested: %v", env.bridge.statusSyncs)
	}
}

func TestPunishmentReasonOmittedWhenEmpty(t *testing.T) {
	got := formatPunishment(domain.Punishment{Kind: "mute", Duration: "permanent"})
	if got != "Punishment: mute | Duration: permanent" {
		t.Fatalf("formatPunishment = %q", got)
	}
}

func TestSecondStatusChangeIsRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := fileReport(t, env.orch, "Bob", "Eve")

	approve := domain.RemoteAction{
		ReportID:      r.ID,
		Kind:          domain.ActionApprove,
		ModeratorName: "FirstMod",
		Punishment:    domain.Punishment{Kind: "ban", Duration: "7d"},
	}
	if err := env.orch.ApplyRemoteAction(ctx, approve); err != nil {
		t.Fatalf("approve: %v", err)
	}
	reject := domain.RemoteAction{ReportID: r.ID, Kind: domain.ActionReject, ModeratorName: "SecondMod"}
	if err := env.orch.ApplyRemoteAction(ctx, reject); !errors.Is(err, domain.ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
	got, _ := env.store.Get(r.ID)
	if got.Status != domain.StatusApproved || got.ReviewedBy != "FirstMod" {
		t.Fatalf("losing action mutated the report: %+v", got)
	}
}

func TestCommentAllowedAtAnyStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := fileReport(t, env.orch, "Bob", "Eve")

	if err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{ReportID: r.ID, Kind: domain.ActionReject, ModeratorName: "Mod"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{
		ReportID:      r.ID,
		Kind:          domain.ActionComment,
		ModeratorName: "OtherMod",
		Comment:       "duplicate of an earlier report",
	})
	if err != nil {
		t.Fatalf("comment on reviewed report: %v", err)
	}
	got, _ := env.store.Get(r.ID)
	if got.Status != domain.StatusRejected {
		t.Fatalf("comment changed status to %s", got.Status)
	}
	if got.AdminComment != "duplicate of an earlier report" {
		t.Fatalf("adminComment = %q", got.AdminComment)
	}
	if len(env.bridge.commentSyncs) != 1 {
		t.Fatalf("comment sync not requested: %v", env.bridge.commentSyncs)
	}
}

func TestCheckRecordsVoiceChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := fileReport(t, env.orch, "Bob", "Eve")

	err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{
		ReportID:      r.ID,
		Kind:          domain.ActionCheck,
		ModeratorName: "Mod",
		VoiceChannel:  "General",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ := env.store.Get(r.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("check must not change status, got %s", got.Status)
	}
	want := "Called for check by Mod. Voice channel: General"
	if got.AdminComment != want {
		t.Fatalf("adminComment = %q, want %q", got.AdminComment, want)
	}
}

func TestRemoteActionUnknownReport(t *testing.T) {
	env := newTestEnv(t)
	err := env.orch.ApplyRemoteAction(context.Background(), domain.RemoteAction{
		ReportID:      "REP-0-0",
		Kind:          domain.ActionReject,
		ModeratorName: "Mod",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReportIDsUnique(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Reports.MaxActive = 1000
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		r := fileReport(t, env.orch, "Bob", "Eve")
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestConfirmRejectDiscardsWithoutReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.orch.StartIntake(ctx, "Bob"); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	for _, input := range []string{"Eve", "griefing", "none"} {
		if _, err := env.orch.SubmitInput(ctx, "Bob", input); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	_, created, err := env.orch.Confirm(ctx, "Bob", false)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if created {
		t.Fatal("denied intake must not create a report")
	}
	if env.store.Len() != 0 {
		t.Fatalf("store holds %d reports after deny", env.store.Len())
	}
	if len(env.bridge.published) != 0 {
		t.Fatalf("deny must not publish: %v", env.bridge.published)
	}
}

func TestCancelEndsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.orch.StartIntake(ctx, "Bob"); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	if err := env.orch.Cancel(ctx, "Bob"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.orch.SubmitInput(ctx, "Bob", "Eve"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after cancel, got %v", err)
	}
	// Cancelling again is a no-op.
	if err := env.orch.Cancel(ctx, "Bob"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestStatsScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := fileReport(t, env.orch, "Bob", "Eve")
	fileReport(t, env.orch, "Eve", "Bob")
	if err := env.orch.ApplyRemoteAction(ctx, domain.RemoteAction{ReportID: r.ID, Kind: domain.ActionApprove, ModeratorName: "Mod", Punishment: domain.Punishment{Kind: "warn", Duration: "permanent"}}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	global, err := env.orch.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if global[domain.StatusApproved] != 1 || global[domain.StatusPending] != 1 {
		t.Fatalf("global stats wrong: %v", global)
	}
	scoped, err := env.orch.Stats(ctx, "Bob")
	if err != nil {
		t.Fatalf("scoped stats: %v", err)
	}
	if scoped[domain.StatusApproved] != 1 || scoped[domain.StatusPending] != 0 {
		t.Fatalf("scoped stats wrong: %v", scoped)
	}
}

func TestReportsHistoryLimit(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Reports.MaxActive = 100
	env.cfg.Reports.HistoryLimit = 3
	for i := 0; i < 5; i++ {
		fileReport(t, env.orch, "Bob", "Eve")
	}
	list, err := env.orch.Reports(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("history limit not applied, got %d reports", len(list))
	}
}

func TestReloadSwapsQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fileReport(t, env.orch, "Bob", "Eve")
	fileReport(t, env.orch, "Bob", "Eve")
	if _, err := env.orch.StartIntake(ctx, "Bob"); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	next := config.Default()
	next.Reports.MaxActive = 5
	if err := env.orch.Reload(ctx, next); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := env.orch.StartIntake(ctx, "Bob"); err != nil {
		t.Fatalf("raised quota not applied: %v", err)
	}
}
