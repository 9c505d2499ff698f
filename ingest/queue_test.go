package ingest

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/dbopen"
)

func testQueue(t *testing.T, opts QueueOptions) *Queue {
	t.Helper()
	q := NewQueue(dbopen.OpenMemory(t), opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestQueueRoundTrip(t *testing.T) {
	q := testQueue(t, QueueOptions{})
	ctx := context.Background()

	title := "Quarterly report"
	id, err := q.Enqueue(ctx, "t1", "/inbox/report.pdf", consume.SourceUpload, &consume.Overrides{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty task handle")
	}

	task, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("no task claimed")
	}
	if task.ID != id || task.TenantID != "t1" || task.Path != "/inbox/report.pdf" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Source != consume.SourceUpload || task.Attempts != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Overrides == nil || task.Overrides.Title == nil || *task.Overrides.Title != title {
		t.Fatalf("overrides lost: %+v", task.Overrides)
	}

	// Claimed task is invisible.
	if again, _ := q.Claim(ctx); again != nil {
		t.Fatalf("claimed task redelivered: %+v", again)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue length = %d after ack, want 0", n)
	}
}

func TestQueueRejectsMissingTenant(t *testing.T) {
	q := testQueue(t, QueueOptions{})
	if _, err := q.Enqueue(context.Background(), "", "/x", consume.SourceFolder, nil); err == nil {
		t.Fatal("expected error for empty tenant")
	}
}

func TestQueueVisibilityTimeout(t *testing.T) {
	q := testQueue(t, QueueOptions{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "t1", "/inbox/a.txt", consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}
	first, err := q.Claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("claim: %v %v", first, err)
	}

	time.Sleep(80 * time.Millisecond)
	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil {
		t.Fatal("expired task not redelivered")
	}
	if second.ID != first.ID || second.Attempts != 2 {
		t.Fatalf("redelivery = %+v, want same task with attempts=2", second)
	}
}

func TestQueueNackRedeliversImmediately(t *testing.T) {
	q := testQueue(t, QueueOptions{Visibility: time.Hour})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "t1", "/inbox/a.txt", consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}
	task, err := q.Claim(ctx)
	if err != nil || task == nil {
		t.Fatalf("claim: %v %v", task, err)
	}
	if err := q.Nack(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	again, err := q.Claim(ctx)
	if err != nil || again == nil {
		t.Fatalf("nacked task not claimable: %v %v", again, err)
	}
}

func TestQueueExtend(t *testing.T) {
	q := testQueue(t, QueueOptions{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "t1", "/inbox/a.txt", consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}
	task, err := q.Claim(ctx)
	if err != nil || task == nil {
		t.Fatalf("claim: %v %v", task, err)
	}
	if err := q.Extend(ctx, task.ID, time.Hour); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if again, _ := q.Claim(ctx); again != nil {
		t.Fatalf("extended task redelivered: %+v", again)
	}
}

func TestQueueOldestFirst(t *testing.T) {
	q := testQueue(t, QueueOptions{})
	ctx := context.Background()

	for _, path := range []string{"/inbox/1.txt", "/inbox/2.txt", "/inbox/3.txt"} {
		if _, err := q.Enqueue(ctx, "t1", path, consume.SourceFolder, nil); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct visibility timestamps
	}
	for _, want := range []string{"/inbox/1.txt", "/inbox/2.txt", "/inbox/3.txt"} {
		task, err := q.Claim(ctx)
		if err != nil || task == nil {
			t.Fatalf("claim: %v %v", task, err)
		}
		if task.Path != want {
			t.Fatalf("claimed %s, want %s", task.Path, want)
		}
	}
}
