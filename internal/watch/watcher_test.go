package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 16)}
}

func (c *collector) onChange(_ context.Context, changed []string) error {
	c.mu.Lock()
	c.batches = append(c.batches, changed)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []string
	for _, batch := range c.batches {
		all = append(all, batch...)
	}
	slices.Sort(all)

	return slices.Compact(all)
}

// waitFor blocks until every want path was reported or the deadline passes.
func (c *collector) waitFor(t *testing.T, want ...string) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		paths := c.paths()
		complete := true
		for _, path := range want {
			if !slices.Contains(paths, path) {
				complete = false
				break
			}
		}
		if complete {
			return
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("changed paths = %v, want %v", paths, want)
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()

	cfg.Logger = quietLogger()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})

	return w
}

func writeFile(t *testing.T, path string) {
	t.Helper()

	if err := os.WriteFile(path, []byte("return {}"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherCoalescesBurstIntoOneBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	changes := newCollector()
	startWatcher(t, Config{BaseDir: dir, Debounce: 200 * time.Millisecond, OnChange: changes.onChange})

	want := []string{
		filepath.Join(dir, "a.lua"),
		filepath.Join(dir, "b.lua"),
		filepath.Join(dir, "c.lua"),
	}
	for _, path := range want {
		writeFile(t, path)
	}

	changes.waitFor(t, want...)

	changes.mu.Lock()
	defer changes.mu.Unlock()
	if len(changes.batches) != 1 {
		t.Fatalf("batches = %v, want one coalesced batch", changes.batches)
	}
	if !slices.IsSorted(changes.batches[0]) {
		t.Fatalf("batch = %v, want sorted paths", changes.batches[0])
	}
}

func TestWatcherFiltersPatternsAndIgnores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	changes := newCollector()
	startWatcher(t, Config{
		BaseDir:  dir,
		Patterns: []string{"**/*.lua"},
		Ignore:   []string{"drafts/**"},
		Debounce: 50 * time.Millisecond,
		OnChange: changes.onChange,
	})

	if err := os.MkdirAll(filepath.Join(dir, "drafts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, ".git", "HEAD.lua"))
	writeFile(t, filepath.Join(dir, "drafts", "wip.lua"))
	writeFile(t, filepath.Join(dir, "ping.lua"))

	changes.waitFor(t, filepath.Join(dir, "ping.lua"))
	time.Sleep(150 * time.Millisecond)

	if paths := changes.paths(); len(paths) != 1 {
		t.Fatalf("changed paths = %v, want only ping.lua", paths)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	changes := newCollector()
	startWatcher(t, Config{BaseDir: dir, Patterns: []string{"**/*.lua"}, Debounce: 50 * time.Millisecond, OnChange: changes.onChange})

	nested := filepath.Join(dir, "commands", "fun")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(nested, "dice.lua"))
	changes.waitFor(t, filepath.Join(nested, "dice.lua"))

	if err := os.Remove(filepath.Join(nested, "dice.lua")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, filepath.Join(nested, "coin.lua"))
	changes.waitFor(t, filepath.Join(nested, "coin.lua"))
}

func TestWatcherRunOnce(t *testing.T) {
	t.Parallel()

	w, err := New(Config{BaseDir: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run(cancelled) error = %v", err)
	}
	if err := w.Run(ctx); err == nil {
		t.Fatal("second Run() error = nil, want error")
	}
}

func TestNewRejectsInvalidPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "watch pattern", cfg: Config{Patterns: []string{"[unclosed"}}},
		{name: "ignore pattern", cfg: Config{Ignore: []string{"{a,b"}}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			testCase.cfg.BaseDir = t.TempDir()
			if _, err := New(testCase.cfg); err == nil {
				t.Fatal("New() error = nil, want invalid pattern error")
			}
		})
	}
}
