package worker_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shelf/internal/catalog"
	"shelf/internal/config"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/notifications"
	"shelf/internal/queue"
	"shelf/internal/services"
	"shelf/internal/worker"
)

// fakeSearcher routes Search calls through a configurable function and
// counts them.
type fakeSearcher struct {
	mu     sync.Mutex
	calls  int
	search func(call int, title, author string) ([]catalog.Candidate, error)
}

func (f *fakeSearcher) Search(ctx context.Context, title, author string) ([]catalog.Candidate, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	search := f.search
	f.mu.Unlock()

	if search == nil {
		return nil, nil
	}
	return search(call, title, author)
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	cfg      *config.Config
	records  *library.Store
	jobs     *queue.Store
	searcher *fakeSearcher
	hub      *notifications.Hub
	manager  *worker.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	records, err := library.Open(filepath.Join(dir, "library.db"))
	if err != nil {
		t.Fatalf("open library store: %v", err)
	}
	t.Cleanup(func() { _ = records.Close() })

	jobs, err := queue.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { _ = jobs.Close() })

	cfg := config.Default()
	cfg.Worker.QueuePollInterval = 1
	cfg.Worker.ErrorRetryInterval = 1

	searcher := &fakeSearcher{}
	hub := notifications.NewHub(logging.NewNop())
	t.Cleanup(hub.Close)

	manager := worker.NewManager(&cfg, records, jobs, searcher, hub, nil, logging.NewNop())
	return &harness{
		cfg:      &cfg,
		records:  records,
		jobs:     jobs,
		searcher: searcher,
		hub:      hub,
		manager:  manager,
	}
}

func (h *harness) insertRecord(t *testing.T, record *library.Record) *library.Record {
	t.Helper()
	inserted, err := h.records.Insert(context.Background(), record)
	if err != nil {
		t.Fatalf("insert record: %v", err)
	}
	return inserted
}

func (h *harness) enqueue(t *testing.T, recordIDs ...int64) *queue.Batch {
	t.Helper()
	ctx := context.Background()
	batch, err := h.jobs.NewBatch(ctx, "")
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	if _, _, err := h.jobs.Enqueue(ctx, batch.ID, recordIDs); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return batch
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) waitForBatch(t *testing.T, batchID string, timeout time.Duration) queue.BatchProgress {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		progress, err := h.jobs.BatchProgress(context.Background(), batchID)
		if err != nil {
			t.Fatalf("batch progress: %v", err)
		}
		if progress.Done() {
			return progress
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish within %s", batchID, timeout)
	return queue.BatchProgress{}
}

func TestEnrichesBatchEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dune := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	hyperion := h.insertRecord(t, &library.Record{Title: "Hyperion", Authors: []string{"Dan Simmons"}})
	martian := h.insertRecord(t, &library.Record{Title: "The Martian", Authors: []string{"Andy Weir"}})

	perTitle := map[string]catalog.Candidate{
		"Dune":        {Title: "Dune", Authors: []string{"Frank Herbert"}, ISBN: "9780441172719", CoverURL: "https://covers.example/dune.jpg", Publisher: "Ace", PublicationYear: 1965},
		"Hyperion":    {Title: "Hyperion", Authors: []string{"Dan Simmons"}, ISBN: "9780553283686", PublicationYear: 1989},
		"The Martian": {Title: "The Martian", Authors: []string{"Andy Weir"}, ISBN: "9780804139021", PublicationYear: 2011},
	}
	h.searcher.search = func(_ int, title, _ string) ([]catalog.Candidate, error) {
		if candidate, ok := perTitle[title]; ok {
			return []catalog.Candidate{candidate}, nil
		}
		return nil, nil
	}

	batch := h.enqueue(t, dune.ID, hyperion.ID, martian.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Succeeded != 3 || progress.Failed != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	for _, id := range []int64{dune.ID, hyperion.ID, martian.ID} {
		record, err := h.records.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if record.ISBN == "" || record.PublicationYear == 0 || record.EnrichedAt == nil {
			t.Fatalf("record %d not enriched: %#v", id, record)
		}
		if record.ErrorMessage != "" {
			t.Fatalf("record %d carries stale error: %q", id, record.ErrorMessage)
		}
	}
}

func TestExistingValuesSurviveEnrichment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.insertRecord(t, &library.Record{
		Title:     "Dune",
		Authors:   []string{"Frank Herbert"},
		Publisher: "Chilton Books",
	})

	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{
			Title:     "Dune",
			Authors:   []string{"Frank Herbert"},
			ISBN:      "9780441172719",
			Publisher: "Ace",
		}}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)
	h.waitForBatch(t, batch.ID, 10*time.Second)

	enriched, err := h.records.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if enriched.Publisher != "Chilton Books" {
		t.Fatalf("existing publisher overwritten: %q", enriched.Publisher)
	}
	if enriched.ISBN != "9780441172719" {
		t.Fatalf("empty ISBN not filled: %q", enriched.ISBN)
	}
}

func TestNoAcceptableCandidateFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.insertRecord(t, &library.Record{Title: "Obscure Memoir", Authors: []string{"Nobody Famous"}})
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{Title: "Unrelated Cookbook"}}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Failed != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	failed, err := h.records.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failure reason not stored on record")
	}
	if failed.EnrichedAt != nil {
		t.Fatal("failed record must not be marked enriched")
	}
}

func TestTransientFailureRetriesAndSucceeds(t *testing.T) {
	h := newHarness(t)

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	h.searcher.search = func(call int, _, _ string) ([]catalog.Candidate, error) {
		if call == 1 {
			return nil, services.Wrap(services.ErrUnavailable, "catalog", "search", "provider down", nil)
		}
		return []catalog.Candidate{{Title: "Dune", Authors: []string{"Frank Herbert"}, ISBN: "9780441172719"}}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 15*time.Second)
	if progress.Succeeded != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if got := h.searcher.callCount(); got != 2 {
		t.Fatalf("search calls = %d, want 2", got)
	}

	jobs, err := h.jobs.ListBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("list batch: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %+v", jobs)
	}
}

func TestRetryCeilingFailsPermanently(t *testing.T) {
	h := newHarness(t)
	h.cfg.Enrichment.MaxAttempts = 2

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return nil, services.Wrap(services.ErrUnavailable, "catalog", "search", "provider down", nil)
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 15*time.Second)
	if progress.Failed != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if got := h.searcher.callCount(); got != 2 {
		t.Fatalf("search calls = %d, want 2 (the attempt ceiling)", got)
	}
}

func TestPermanentProviderErrorDoesNotRetry(t *testing.T) {
	h := newHarness(t)

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "search", "no matches", nil)
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Failed != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if got := h.searcher.callCount(); got != 1 {
		t.Fatalf("permanent error retried: %d calls", got)
	}
}

func TestAmbiguousMatchParksForReview(t *testing.T) {
	h := newHarness(t)
	h.cfg.Enrichment.ReviewAmbiguous = true

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		// Two candidates with identical scores.
		return []catalog.Candidate{
			{Title: "Dune", Authors: []string{"Frank Herbert"}},
			{Title: "Dune", Authors: []string{"Frank Herbert"}},
		}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Review != 1 || progress.Failed != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	untouched, err := h.records.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if untouched.EnrichedAt != nil {
		t.Fatal("parked record must not be enriched")
	}
}

func TestDuplicateMergesIntoExistingRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := h.insertRecord(t, &library.Record{
		Title:   "Dune",
		Authors: []string{"Frank Herbert"},
		ISBN:    "978-0-441-17271-9",
	})
	sparse := h.insertRecord(t, &library.Record{
		Title: "Dune (mass market)",
		ISBN:  "9780441172719",
	})

	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{
			Title:           "Dune",
			Authors:         []string{"Frank Herbert"},
			ISBN:            "9780441172719",
			CoverURL:        "https://covers.example/dune.jpg",
			PublicationYear: 1965,
		}}, nil
	}

	batch := h.enqueue(t, sparse.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Succeeded != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	removed, err := h.records.GetByID(ctx, sparse.ID)
	if err != nil {
		t.Fatalf("get sparse record: %v", err)
	}
	if removed != nil {
		t.Fatalf("duplicate record not removed: %#v", removed)
	}

	survivor, err := h.records.GetByID(ctx, existing.ID)
	if err != nil {
		t.Fatalf("get surviving record: %v", err)
	}
	if survivor.CoverURL == "" || survivor.PublicationYear != 1965 {
		t.Fatalf("candidate data not merged into survivor: %#v", survivor)
	}
	if survivor.EnrichedAt == nil {
		t.Fatal("survivor not marked enriched")
	}
}

func TestCandidateISBNTriggersDuplicateMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := h.insertRecord(t, &library.Record{
		Title:   "Nineteen Eighty-Four",
		Authors: []string{"George Orwell"},
		ISBN:    "978-0-451-52493-5",
	})
	sparse := h.insertRecord(t, &library.Record{
		Title:   "1984",
		Authors: []string{"George Orwell"},
	})

	// The sparse record has no ISBN of its own; only the accepted candidate
	// carries the one that collides with the existing record.
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{
			Title:           "1984",
			Authors:         []string{"George Orwell"},
			ISBN:            "9780451524935",
			PublicationYear: 1949,
		}}, nil
	}

	batch := h.enqueue(t, sparse.ID)
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Succeeded != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	removed, err := h.records.GetByID(ctx, sparse.ID)
	if err != nil {
		t.Fatalf("get sparse record: %v", err)
	}
	if removed != nil {
		t.Fatalf("duplicate record not removed: %#v", removed)
	}

	survivor, err := h.records.GetByID(ctx, existing.ID)
	if err != nil {
		t.Fatalf("get surviving record: %v", err)
	}
	if survivor.PublicationYear != 1949 || survivor.EnrichedAt == nil {
		t.Fatalf("candidate data not merged into survivor: %#v", survivor)
	}

	all, err := h.records.List(ctx)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("library holds %d records after merge, want 1", len(all))
	}
}

func TestJobEventsCarryBatchCounts(t *testing.T) {
	h := newHarness(t)

	events, cancel := h.hub.Subscribe()
	defer cancel()

	dune := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	hyperion := h.insertRecord(t, &library.Record{Title: "Hyperion", Authors: []string{"Dan Simmons"}})
	h.searcher.search = func(_ int, title, author string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{Title: title, Authors: []string{author}}}, nil
	}

	batch := h.enqueue(t, dune.ID, hyperion.ID)
	h.start(t)
	h.waitForBatch(t, batch.ID, 10*time.Second)

	var counts []int
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == notifications.EventJobSucceeded {
				if event.Total != 2 {
					t.Fatalf("job event total = %d, want 2: %+v", event.Total, event)
				}
				counts = append(counts, event.Completed)
			}
			if event.Type == notifications.EventBatchCompleted {
				if len(counts) != 2 || counts[0] != 1 || counts[1] != 2 {
					t.Fatalf("job events carried completed counts %v, want [1 2]", counts)
				}
				return
			}
		case <-deadline:
			t.Fatalf("batch completion event missing, saw counts %v", counts)
		}
	}
}

func TestDeletedRecordDropsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := h.insertRecord(t, &library.Record{Title: "Ephemeral", Authors: []string{"Gone Soon"}})
	batch := h.enqueue(t, record.ID)

	if _, err := h.records.Remove(ctx, record.ID); err != nil {
		t.Fatalf("remove record: %v", err)
	}

	h.start(t)
	progress := h.waitForBatch(t, batch.ID, 10*time.Second)
	if progress.Canceled != 1 || progress.Failed != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if got := h.searcher.callCount(); got != 0 {
		t.Fatalf("provider called for a deleted record: %d calls", got)
	}
}

func TestCancelBatchStopsRemainingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	words := []string{"One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten"}
	ids := make([]int64, 0, len(words))
	for i, word := range words {
		record := h.insertRecord(t, &library.Record{
			Title:   fmt.Sprintf("Chronicle Volume %s", word),
			Authors: []string{fmt.Sprintf("Author %s", words[(i+3)%len(words)])},
		})
		ids = append(ids, record.ID)
	}

	var batchID string
	h.searcher.search = func(call int, title, author string) ([]catalog.Candidate, error) {
		// Cancel mid-batch while the third job's provider call is in flight.
		if call == 3 {
			if _, err := h.jobs.CancelBatch(ctx, batchID); err != nil {
				t.Errorf("cancel batch: %v", err)
			}
		}
		return []catalog.Candidate{{Title: title, Authors: []string{author}}}, nil
	}

	batch := h.enqueue(t, ids...)
	batchID = batch.ID
	h.start(t)

	progress := h.waitForBatch(t, batch.ID, 15*time.Second)
	if progress.Succeeded != 2 {
		t.Fatalf("expected 2 completed before cancel, got %+v", progress)
	}
	if progress.Canceled != 8 {
		t.Fatalf("expected 8 canceled, got %+v", progress)
	}
	if got := h.searcher.callCount(); got != 3 {
		t.Fatalf("provider calls after cancel: %d", got)
	}

	// Completed work survives the cancel.
	for _, id := range ids[:2] {
		record, err := h.records.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if record.EnrichedAt == nil {
			t.Fatalf("record %d lost its enrichment after cancel", id)
		}
	}
}

func TestProgressEventsFlowThroughHub(t *testing.T) {
	h := newHarness(t)

	events, cancel := h.hub.Subscribe()
	defer cancel()

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	h.searcher.search = func(_ int, _, _ string) ([]catalog.Candidate, error) {
		return []catalog.Candidate{{Title: "Dune", Authors: []string{"Frank Herbert"}}}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)
	h.waitForBatch(t, batch.ID, 10*time.Second)

	seen := make(map[notifications.EventType]bool)
	deadline := time.After(5 * time.Second)
	for !seen[notifications.EventBatchCompleted] {
		select {
		case event := <-events:
			seen[event.Type] = true
		case <-deadline:
			t.Fatalf("batch completion event missing, saw %v", seen)
		}
	}
	for _, want := range []notifications.EventType{
		notifications.EventBatchStarted,
		notifications.EventJobStarted,
		notifications.EventJobSucceeded,
		notifications.EventBatchCompleted,
	} {
		if !seen[want] {
			t.Fatalf("missing %s event, saw %v", want, seen)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.manager.Stop()
	h.manager.Stop()
	if h.manager.Running() {
		t.Fatal("manager still running after Stop")
	}
}

func TestRetryDelayHonorsProviderHint(t *testing.T) {
	h := newHarness(t)

	record := h.insertRecord(t, &library.Record{Title: "Dune", Authors: []string{"Frank Herbert"}})
	start := time.Now()
	h.searcher.search = func(call int, _, _ string) ([]catalog.Candidate, error) {
		if call == 1 {
			return nil, services.Wrap(services.ErrRateLimited, "catalog", "search", "slow down",
				&services.RateLimitError{RetryAfter: 2 * time.Second})
		}
		return []catalog.Candidate{{Title: "Dune", Authors: []string{"Frank Herbert"}}}, nil
	}

	batch := h.enqueue(t, record.ID)
	h.start(t)
	progress := h.waitForBatch(t, batch.ID, 20*time.Second)
	if progress.Succeeded != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("retry ran before the provider's Retry-After window: %s", elapsed)
	}
}
