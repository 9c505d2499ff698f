package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/parsers"
	"github.com/docmill/docmill/store"
)

func testPipeline(t *testing.T) (*consume.Pipeline, *store.Store) {
	t.Helper()
	reg, err := parsers.Builtin(parsers.Options{})
	if err != nil {
		t.Fatal(err)
	}
	st := &store.Store{
		DB:       dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)),
		MediaDir: t.TempDir(),
	}
	return consume.New(reg, nil, nil, nil, st, consume.Config{WorkRoot: t.TempDir()}), st
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolConsumesTasks(t *testing.T) {
	pipeline, st := testPipeline(t)
	q := testQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := t.TempDir()
	path := filepath.Join(inbox, "note.txt")
	if err := os.WriteFile(path, []byte("remember the milk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "t1", path, consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(q, pipeline, PoolOptions{Workers: 2, PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	waitFor(t, "document committed", func() bool {
		ids, err := st.AllDocumentIDs(context.Background())
		return err == nil && len(ids) == 1
	})
	waitFor(t, "task acked", func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("source not removed after consumption")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("pool: %v", err)
	}
}

func TestPoolDropsPermanentFailures(t *testing.T) {
	pipeline, st := testPipeline(t)
	q := testQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No parser accepts PNG without a remote OCR backend.
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 32)...)
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "t1", path, consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(q, pipeline, PoolOptions{Workers: 1, PollInterval: 10 * time.Millisecond})
	go pool.Run(ctx)

	// Permanent failures ack rather than retry forever.
	waitFor(t, "task dropped", func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	})
	ids, err := st.AllDocumentIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("unsupported file was committed: %v", ids)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("source of a permanent failure must be retained")
	}
}

func TestPoolDropsVanishedFiles(t *testing.T) {
	pipeline, _ := testPipeline(t)
	q := testQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, "t1", filepath.Join(t.TempDir(), "gone.txt"), consume.SourceFolder, nil); err != nil {
		t.Fatal(err)
	}
	pool := NewPool(q, pipeline, PoolOptions{Workers: 1, PollInterval: 10 * time.Millisecond})
	go pool.Run(ctx)

	waitFor(t, "vanished task dropped", func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	})
}

func TestScannerEnqueuesSettledFiles(t *testing.T) {
	q := testQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	doc := write("letter.txt", "dear sir")
	write(".hidden.txt", "nope")
	write("upload.part", "nope")
	write("draft.tmp", "nope")

	sc := NewScanner(q, ScannerOptions{
		Root:     root,
		Tenant:   "t1",
		Interval: 20 * time.Millisecond,
	})
	go sc.Run(ctx)

	waitFor(t, "settled file enqueued", func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 1
	})
	task, err := q.Claim(context.Background())
	if err != nil || task == nil {
		t.Fatalf("claim: %v %v", task, err)
	}
	if task.Path != doc || task.TenantID != "t1" || task.Source != consume.SourceFolder {
		t.Fatalf("unexpected task: %+v", task)
	}
	if err := q.Ack(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	// A second enqueue for the same unchanged file must not happen.
	time.Sleep(100 * time.Millisecond)
	if n, _ := q.Len(context.Background()); n != 0 {
		t.Fatalf("file enqueued twice, queue length %d", n)
	}
	if got := sc.Stats().Enqueued; got != 1 {
		t.Fatalf("enqueued counter = %d, want 1", got)
	}
}

func TestScannerTenantDirs(t *testing.T) {
	q := testQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "globex"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "globex", "fax.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A file directly under the root has no tenant and is ignored.
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc := NewScanner(q, ScannerOptions{
		Root:       root,
		TenantDirs: true,
		Interval:   20 * time.Millisecond,
	})
	go sc.Run(ctx)

	waitFor(t, "tenant file enqueued", func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 1
	})
	task, err := q.Claim(context.Background())
	if err != nil || task == nil {
		t.Fatalf("claim: %v %v", task, err)
	}
	if task.TenantID != "globex" {
		t.Fatalf("tenant = %q, want globex", task.TenantID)
	}
}
