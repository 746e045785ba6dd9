package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) FileChanged(path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) FileRemoved(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startWatcher(t *testing.T, roots, exts []string, rec *recorder) *Watcher {
	t.Helper()
	w := New(roots, exts, true, rec, WithDebounce(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, rec)

	f := filepath.Join(sub, "f.txt")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(f, []byte(strings.Repeat("x", i+1)), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(sub, "skip.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		c, _ := rec.snapshot()
		return len(c) > 0
	})
	time.Sleep(150 * time.Millisecond)
	changed, _ := rec.snapshot()
	if len(changed) != 1 || !strings.HasSuffix(changed[0], "f.txt") {
		t.Errorf("expected one debounced event for f.txt, got %v", changed)
	}
}

func TestWatcher_RemoveReported(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(f, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, rec)
	if err := os.Remove(f); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, r := rec.snapshot()
		return hasSuffix(r, "gone.txt")
	})
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"a.txt": "hello", "ignore.xyz": "x", ".hidden.txt": "x", "~$lock.txt": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	rec := &recorder{}
	w := startWatcher(t, []string{dir}, []string{".txt"}, rec)
	w.SyncExistingFiles()

	changed, _ := rec.snapshot()
	if len(changed) != 1 || !strings.HasSuffix(changed[0], "a.txt") {
		t.Errorf("expected only a.txt, got %v", changed)
	}
}

func TestWatcher_Start_missingRoot(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "absent")}, nil, true, &recorder{})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing root")
	}
}

func TestWatcher_NewNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt", ".md"}, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "deep.txt"), []byte("deep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "level1", "top.md"), []byte("top"), 0600); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		c, _ := rec.snapshot()
		return hasSuffix(c, "deep.txt") && hasSuffix(c, "top.md")
	})
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New([]string{t.TempDir()}, nil, false, &recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
