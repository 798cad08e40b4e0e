package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mls_syncd/config"
	"mls_syncd/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSyncRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := &models.SyncRun{
		ProviderID:  "crea",
		Kind:        models.SyncKindFull,
		Status:      models.RunStatusRunning,
		StartedAt:   time.Now(),
		TriggeredBy: "admin",
	}
	if err := store.CreateSyncRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("run id not assigned")
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusPartial
	run.Counters = models.RunCounters{Fetched: 10, Added: 7, Updated: 2, Errored: 1}
	if err := store.SealSyncRun(ctx, run); err != nil {
		t.Fatalf("seal run: %v", err)
	}

	got, err := store.GetSyncRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil || got.Status != models.RunStatusPartial || got.Counters.Added != 7 {
		t.Fatalf("sealed run = %+v", got)
	}

	// A sealed run is immutable; a second seal must not overwrite it.
	run.Status = models.RunStatusSuccess
	run.Counters.Errored = 0
	if err := store.SealSyncRun(ctx, run); err != nil {
		t.Fatalf("re-seal: %v", err)
	}
	got, _ = store.GetSyncRun(ctx, run.ID)
	if got.Status != models.RunStatusPartial {
		t.Fatalf("sealed run overwritten: %s", got.Status)
	}

	missing, err := store.GetSyncRun(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("missing run = %+v, %v, want nil, nil", missing, err)
	}
}

func TestRunListings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, pid := range []string{"crea", "crea", "treb"} {
		run := &models.SyncRun{
			ProviderID: pid,
			Kind:       models.SyncKindIncremental,
			Status:     models.RunStatusSuccess,
			StartedAt:  time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateSyncRun(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	runs, err := store.ListSyncRuns(ctx, "crea", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("crea runs = %d, want 2", len(runs))
	}

	recent, err := store.ListRecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].StartedAt.Before(recent[1].StartedAt) {
		t.Fatal("recent runs not newest-first")
	}
}

func TestProviderStatusUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	st, err := store.GetProviderStatus(ctx, "crea")
	if err != nil || st != nil {
		t.Fatalf("missing status = %+v, %v, want nil, nil", st, err)
	}

	now := time.Now()
	if err := store.UpsertProviderStatus(ctx, &models.ProviderSyncStatus{
		ProviderID: "crea", SyncEnabled: true, IntervalHours: 4,
		LastCompletedAt: &now, LastStatus: models.RunStatusSuccess,
		LastCounters: models.RunCounters{Fetched: 5, Added: 5},
		TotalRuns:    1, TotalSuccesses: 1,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := store.SetSyncInterval(ctx, "crea", 8); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if err := store.SetSyncEnabled(ctx, "crea", false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}

	st, err = store.GetProviderStatus(ctx, "crea")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.IntervalHours != 8 || st.SyncEnabled {
		t.Fatalf("status = %+v, want interval 8, disabled", st)
	}
	if st.LastCounters.Fetched != 5 || st.TotalSuccesses != 1 {
		t.Fatalf("counters lost on partial update: %+v", st)
	}

	// Toggling a never-synced provider seeds the row with the shared
	// default interval, not a store-local constant.
	if err := store.SetSyncEnabled(ctx, "treb", true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	st, err = store.GetProviderStatus(ctx, "treb")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.IntervalHours != config.DefaultIntervalHours {
		t.Fatalf("interval = %d, want default %d", st.IntervalHours, config.DefaultIntervalHours)
	}
}

func TestCommandQueue(t *testing.T) {
	store := openTestStore(t)

	if err := store.EnqueueCommand(models.CmdSyncProvider, &models.CommandParams{Provider: "crea", Kind: "full"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.EnqueueCommand(models.CmdPause, nil); err != nil {
		t.Fatalf("enqueue pause: %v", err)
	}

	cmds, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("pending = %d, want 2", len(cmds))
	}

	params, err := store.ParseCommandParams(&cmds[0])
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if params.Provider != "crea" || params.Kind != "full" {
		t.Fatalf("params = %+v", params)
	}

	empty, err := store.ParseCommandParams(&cmds[1])
	if err != nil || empty.Provider != "" {
		t.Fatalf("nil params = %+v, %v", empty, err)
	}

	if err := store.MarkCommandProcessed(cmds[0].ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	cmds, _ = store.GetPendingCommands()
	if len(cmds) != 1 || cmds[0].Command != models.CmdPause {
		t.Fatalf("pending after processing = %+v", cmds)
	}
}

func TestErrorLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	runID := int64(1)
	store.Log(ctx, &runID, models.LogLevelInfo, "crea", "", "fetched 10 records")
	store.Log(ctx, &runID, models.LogLevelError, "crea", "W1000001", "record error: missing external id")
	store.Log(ctx, &runID, models.LogLevelError, "treb", "T-9", "record error")

	errs, err := store.ListErrors(ctx, "crea", 10)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("crea errors = %d, want 1", len(errs))
	}
	if errs[0].ExternalID != "W1000001" {
		t.Fatalf("external id = %q", errs[0].ExternalID)
	}
}
