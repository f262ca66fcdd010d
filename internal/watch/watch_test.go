package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/tagservice"
	"github.com/starford/tagledger/internal/testutil"
)

type recorder struct {
	mu      sync.Mutex
	files   map[string]string
	removed map[string]bool
	syncs   int
}

func newRecorder() *recorder {
	return &recorder{files: make(map[string]string), removed: make(map[string]bool)}
}

func (r *recorder) HandleFile(_ context.Context, path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = string(data)
	delete(r.removed, path)
	return nil
}

func (r *recorder) HandleRemove(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[path] = true
	return nil
}

func (r *recorder) Sync(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs++
	return nil
}

func (r *recorder) file(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.files[path]
	return s, ok
}

func (r *recorder) wasRemoved(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed[path]
}

func (r *recorder) syncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, h Handler) string {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, h, store, vaultDir, testutil.Logger())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return vaultDir
}

func TestWatcher_NewFileHandled(t *testing.T) {
	rec := newRecorder()
	vaultDir := startWatch(t, rec)

	_ = os.WriteFile(filepath.Join(vaultDir, "new.md"), []byte("hello #world"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		s, ok := rec.file("new.md")
		return ok && s == "hello #world"
	}, "new file not handed to handler")
}

func TestWatcher_IgnoresNonMarkdown(t *testing.T) {
	rec := newRecorder()
	vaultDir := startWatch(t, rec)

	_ = os.WriteFile(filepath.Join(vaultDir, "image.png"), []byte("png"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "note.md"), []byte("#x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := rec.file("note.md")
		return ok
	}, "note.md not handled")
	if _, ok := rec.file("image.png"); ok {
		t.Error("non-markdown file handled")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	rec := newRecorder()
	vaultDir := startWatch(t, rec)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("#deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := rec.file("subdir/deep.md")
		return ok
	}, "file in new subdir not handled")
}

func TestWatcher_Remove(t *testing.T) {
	rec := newRecorder()
	vaultDir := startWatch(t, rec)

	p := filepath.Join(vaultDir, "del.md")
	_ = os.WriteFile(p, []byte("#gone"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := rec.file("del.md")
		return ok
	}, "precondition: file not handled")

	_ = os.Remove(p)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.wasRemoved("del.md")
	}, "remove not reported")
}

func TestWatcher_RenameSyncs(t *testing.T) {
	rec := newRecorder()
	vaultDir := startWatch(t, rec)

	oldPath := filepath.Join(vaultDir, "old.md")
	_ = os.WriteFile(oldPath, []byte("#r"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := rec.file("old.md")
		return ok
	}, "precondition: file not handled")

	_ = os.Rename(oldPath, filepath.Join(vaultDir, "renamed.md"))
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.wasRemoved("old.md") && rec.syncCount() > 0
	}, "rename did not remove old path and sync")
}

func TestWatcher_DrivesTagService(t *testing.T) {
	vaultDir, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	st := settings.New(settings.Options{UseTagDetail: true, StoreIn: settings.StoreInPlugin})
	svc, err := tagservice.New(store, db, st, nil, testutil.Logger(), tagservice.Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, svc, store, vaultDir, testutil.Logger())
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	// Atomic writes avoid handing the service a truncated file.
	testutil.WriteNote(t, store, "a.md", "first #alpha\n")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		d, err := svc.Details(ctx, "a.md")
		return err == nil && len(d.Tags) == 1
	}, "watcher did not reconcile new file")

	if _, err := svc.SetAttribute(ctx, "a.md", 0, "k", models.Str("v")); err != nil {
		t.Fatal(err)
	}
	testutil.WriteNote(t, store, "a.md", "zero #z\nfirst #alpha\n")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		d, err := svc.Details(ctx, "a.md")
		return err == nil && len(d.Tags) == 2 && d.Tags[1].Detail != nil
	}, "detail did not follow its tag")
}
