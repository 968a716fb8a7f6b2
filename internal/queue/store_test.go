package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"wapipe/internal/db"
	"wapipe/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Connect("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := db.InitSchema(conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStore_EnqueueClaimComplete(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, 3, 2*time.Second)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, []byte(`{"object":"whatsapp_business_account"}`), "PN1:+155500")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == 0 {
		t.Fatalf("enqueue returned zero id")
	}

	jobs, err := store.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}
	if jobs[0].ID != id || jobs[0].Status != models.JobProcessing {
		t.Errorf("job = %+v, want id %d processing", jobs[0], id)
	}
	if jobs[0].OrderingKey != "PN1:+155500" {
		t.Errorf("orderingKey = %q", jobs[0].OrderingKey)
	}

	// A claimed job is invisible to the next claim.
	again, err := store.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed %d already-claimed jobs", len(again))
	}

	if err := store.Complete(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var count int
	if err := conn.Get(&count, `SELECT COUNT(*) FROM webhook_jobs`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("jobs remaining = %d, want 0", count)
	}
}

func TestStore_ClaimRespectsNextAttemptAt(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, 3, 2*time.Second)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, []byte(`{}`), "k")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	if _, err := conn.Exec(conn.Rebind(`UPDATE webhook_jobs SET next_attempt_at = ? WHERE id = ?`), future, id); err != nil {
		t.Fatalf("defer job: %v", err)
	}

	jobs, err := store.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("claimed %d deferred jobs, want 0", len(jobs))
	}
}

func TestStore_FailBackoffAndDead(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, 3, 2*time.Second)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, []byte(`{}`), "k")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reload := func() models.WebhookJob {
		t.Helper()
		var job models.WebhookJob
		if err := conn.Get(&job, conn.Rebind(`SELECT * FROM webhook_jobs WHERE id = ?`), id); err != nil {
			t.Fatalf("reload: %v", err)
		}
		return job
	}

	// Attempt 1 fails: retry in ~2s.
	before := time.Now().UTC()
	job := reload()
	dead, err := store.Fail(ctx, &job, errors.New("boom"))
	if err != nil || dead {
		t.Fatalf("first fail: dead=%v err=%v", dead, err)
	}
	job = reload()
	if job.Status != models.JobPending || job.Attempts != 1 {
		t.Fatalf("after first fail: %+v", job)
	}
	if delay := job.NextAttemptAt.Sub(before); delay < 1500*time.Millisecond || delay > 3*time.Second {
		t.Errorf("first retry delay = %v, want ~2s", delay)
	}
	if job.LastError == nil || *job.LastError != "boom" {
		t.Errorf("lastError = %v, want boom", job.LastError)
	}

	// Attempt 2 fails: retry in ~4s.
	before = time.Now().UTC()
	dead, err = store.Fail(ctx, &job, errors.New("boom again"))
	if err != nil || dead {
		t.Fatalf("second fail: dead=%v err=%v", dead, err)
	}
	job = reload()
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.Attempts)
	}
	if delay := job.NextAttemptAt.Sub(before); delay < 3500*time.Millisecond || delay > 5*time.Second {
		t.Errorf("second retry delay = %v, want ~4s", delay)
	}

	// Attempt 3 fails: parked dead, never reclaimed.
	dead, err = store.Fail(ctx, &job, errors.New("final"))
	if err != nil {
		t.Fatalf("third fail: %v", err)
	}
	if !dead {
		t.Fatalf("third failure should park the job")
	}
	job = reload()
	if job.Status != models.JobDead || job.Attempts != 3 {
		t.Fatalf("after third fail: %+v", job)
	}

	jobs, err := store.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("claimed %d dead jobs", len(jobs))
	}

	deadJobs, err := store.DeadJobs(ctx, 10)
	if err != nil {
		t.Fatalf("dead jobs: %v", err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != id {
		t.Errorf("deadJobs = %+v, want job %d", deadJobs, id)
	}
}

func TestStore_ReleaseStale(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, 3, 2*time.Second)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, []byte(`{}`), "k")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A fresh claim is not stale.
	n, err := store.ReleaseStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if n != 0 {
		t.Fatalf("released %d fresh claims", n)
	}

	old := time.Now().UTC().Add(-time.Hour)
	if _, err := conn.Exec(conn.Rebind(`UPDATE webhook_jobs SET updated_at = ? WHERE id = ?`), old, id); err != nil {
		t.Fatalf("age claim: %v", err)
	}

	n, err = store.ReleaseStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("released = %d, want 1", n)
	}

	jobs, err := store.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Errorf("reclaimed = %+v, want job %d", jobs, id)
	}
}
