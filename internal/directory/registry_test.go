package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

func newTestRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	repo := testRepo(t)
	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg, repo
}

// failingRepo fails every write and serves an empty list.
type failingRepo struct {
	mu     sync.Mutex
	writes int
}

var errWrite = errors.New("disk full")

func (f *failingRepo) List(context.Context) ([]Entry, error)       { return nil, nil }
func (f *failingRepo) Get(context.Context, string) (*Entry, error) { return nil, ErrEntryNotFound }
func (f *failingRepo) Delete(context.Context, string) error        { return errWrite }

func (f *failingRepo) Upsert(context.Context, Entry) error {
	f.count()
	return errWrite
}

func (f *failingRepo) ReplaceForHost(context.Context, string, string, []Entry) error {
	f.count()
	return errWrite
}

func (f *failingRepo) count() {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
}

func (f *failingRepo) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Resolve("Kitchen")
	if !errors.Is(err, pollengine.ErrUnknownMoniker) {
		t.Errorf("Resolve() error = %v, want ErrUnknownMoniker", err)
	}
}

func TestRegistry_SetHostResolve(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.SetHost(ctx, "Kitchen", "hvac:13507", SourceAPI); err != nil {
		t.Fatalf("SetHost() error = %v", err)
	}

	for _, m := range []string{"Kitchen", "kitchen", "KITCHEN"} {
		host, err := reg.Resolve(m)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", m, err)
		}
		if host != "hvac:13507" {
			t.Errorf("Resolve(%q) = %q, want hvac:13507", m, host)
		}
	}

	stored, err := repo.Get(ctx, "Kitchen")
	if err != nil {
		t.Fatalf("repo.Get() error = %v", err)
	}
	if stored.Source != SourceAPI {
		t.Errorf("stored source = %q, want api", stored.Source)
	}
}

func TestRegistry_SetHostValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		moniker string
		host    string
	}{
		{"empty moniker", "", "hvac:13507"},
		{"moniker with slash", "a/b", "hvac:13507"},
		{"empty host", "Kitchen", ""},
		{"host with wildcard", "Kitchen", "hvac+1"},
		{"host with space", "Kitchen", "hvac 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.SetHost(ctx, tt.moniker, tt.host, SourceAPI)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("SetHost() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestRegistry_Precedence(t *testing.T) {
	ctx := context.Background()

	t.Run("discovery cannot replace config", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		if err := reg.SetHost(ctx, "Kitchen", "hvac:13507", SourceConfig); err != nil {
			t.Fatalf("SetHost(config) error = %v", err)
		}
		err := reg.SetHost(ctx, "Kitchen", "rogue:13507", SourceDiscovery)
		if !errors.Is(err, ErrOutranked) {
			t.Errorf("SetHost(discovery) error = %v, want ErrOutranked", err)
		}
		if host, _ := reg.Resolve("Kitchen"); host != "hvac:13507" {
			t.Errorf("Resolve() = %q, want hvac:13507", host)
		}
	})

	t.Run("api replaces config", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		if err := reg.SetHost(ctx, "Kitchen", "hvac:13507", SourceConfig); err != nil {
			t.Fatalf("SetHost(config) error = %v", err)
		}
		if err := reg.SetHost(ctx, "Kitchen", "spare:13507", SourceAPI); err != nil {
			t.Fatalf("SetHost(api) error = %v", err)
		}
		e, ok := reg.Lookup("Kitchen")
		if !ok || e.Host != "spare:13507" || e.Source != SourceAPI {
			t.Errorf("Lookup() = %+v, %v", e, ok)
		}
	})

	t.Run("config replaces discovery", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		if err := reg.SetHost(ctx, "Kitchen", "found:13507", SourceDiscovery); err != nil {
			t.Fatalf("SetHost(discovery) error = %v", err)
		}
		if err := reg.SetHost(ctx, "Kitchen", "hvac:13507", SourceConfig); err != nil {
			t.Fatalf("SetHost(config) error = %v", err)
		}
		if host, _ := reg.Resolve("Kitchen"); host != "hvac:13507" {
			t.Errorf("Resolve() = %q, want hvac:13507", host)
		}
	})
}

func TestRegistry_SetHostWriteFailure(t *testing.T) {
	repo := &failingRepo{}
	reg := NewRegistry(repo)

	err := reg.SetHost(context.Background(), "Kitchen", "hvac:13507", SourceAPI)
	if !errors.Is(err, errWrite) {
		t.Fatalf("SetHost() error = %v, want %v", err, errWrite)
	}
	if repo.writeCount() != 1 {
		t.Errorf("writes = %d, want 1", repo.writeCount())
	}
	if _, ok := reg.Lookup("Kitchen"); ok {
		t.Error("cache updated although the write failed")
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.SetHost(ctx, "Kitchen", "hvac:13507", SourceAPI); err != nil {
		t.Fatalf("SetHost() error = %v", err)
	}
	if err := reg.Remove(ctx, "kitchen"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := reg.Resolve("Kitchen"); !errors.Is(err, pollengine.ErrUnknownMoniker) {
		t.Errorf("Resolve() after Remove error = %v", err)
	}
	if _, err := repo.Get(ctx, "Kitchen"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("repo.Get() after Remove error = %v", err)
	}
	if err := reg.Remove(ctx, "Kitchen"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second Remove() error = %v, want ErrEntryNotFound", err)
	}
}

func TestRegistry_SetHostMonikers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.SetHost(ctx, "Boiler", "plant:13507", SourceConfig); err != nil {
		t.Fatalf("SetHost() error = %v", err)
	}

	first := []string{"Kitchen", "Hall", "Boiler", "bad/moniker", "kitchen"}
	if err := reg.SetHostMonikers(ctx, "hvac:13507", first, SourceDiscovery); err != nil {
		t.Fatalf("SetHostMonikers() error = %v", err)
	}

	if host, _ := reg.Resolve("Kitchen"); host != "hvac:13507" {
		t.Errorf("Resolve(Kitchen) = %q", host)
	}
	if host, _ := reg.Resolve("Hall"); host != "hvac:13507" {
		t.Errorf("Resolve(Hall) = %q", host)
	}
	if host, _ := reg.Resolve("Boiler"); host != "plant:13507" {
		t.Errorf("Resolve(Boiler) = %q, want pinned plant:13507", host)
	}

	// A later announcement replaces the earlier set.
	if err := reg.SetHostMonikers(ctx, "hvac:13507", []string{"Kitchen"}, SourceDiscovery); err != nil {
		t.Fatalf("SetHostMonikers() error = %v", err)
	}
	if _, err := reg.Resolve("Hall"); !errors.Is(err, pollengine.ErrUnknownMoniker) {
		t.Errorf("Resolve(Hall) error = %v, want ErrUnknownMoniker", err)
	}
	if len(reg.Entries()) != 2 {
		t.Errorf("Entries() = %v, want Boiler and Kitchen", reg.Entries())
	}

	// Cache and database agree after a reload.
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	entries := reg.Entries()
	if len(entries) != 2 || entries[0].Moniker != "Boiler" || entries[1].Moniker != "Kitchen" {
		t.Errorf("Entries() after refresh = %+v", entries)
	}
}

func TestRegistry_SetHostMonikersInvalidHost(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.SetHostMonikers(context.Background(), "a/b", []string{"Kitchen"}, SourceDiscovery)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("SetHostMonikers() error = %v, want ErrInvalidEntry", err)
	}
}

func TestRegistry_Seed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	err := reg.Seed(ctx, map[string]string{
		"Kitchen": "hvac:13507",
		"Hall":    "hvac:13507",
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := reg.SetHost(ctx, "Attic", "roof:13507", SourceDiscovery); err != nil {
		t.Fatalf("SetHost() error = %v", err)
	}

	// Hall is dropped from config on the next start.
	err = reg.Seed(ctx, map[string]string{
		"Kitchen": "spare:13507",
		"Bad/One": "hvac:13507",
	})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Seed() error = %v, want ErrInvalidEntry for the bad moniker", err)
	}

	if host, _ := reg.Resolve("Kitchen"); host != "spare:13507" {
		t.Errorf("Resolve(Kitchen) = %q, want spare:13507", host)
	}
	if _, err := reg.Resolve("Hall"); !errors.Is(err, pollengine.ErrUnknownMoniker) {
		t.Errorf("stale seed Hall still resolves, err = %v", err)
	}
	if host, _ := reg.Resolve("Attic"); host != "roof:13507" {
		t.Errorf("discovered entry Attic lost, got %q", host)
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	// Written behind the registry's back, for example by another process.
	if err := repo.Upsert(ctx, Entry{Moniker: "Kitchen", Host: "hvac:13507", Source: SourceAPI}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := reg.Resolve("Kitchen"); err == nil {
		t.Fatal("Resolve() found an entry before refresh")
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if host, err := reg.Resolve("Kitchen"); err != nil || host != "hvac:13507" {
		t.Errorf("Resolve() = %q, %v", host, err)
	}
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reg.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	<-done

	// Zero interval returns at once.
	reg.Run(context.Background(), 0)
}

func TestOutranks(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{SourceConfig, SourceDiscovery, true},
		{SourceAPI, SourceConfig, true},
		{SourceConfig, SourceAPI, true},
		{SourceDiscovery, SourceConfig, false},
		{SourceDiscovery, SourceAPI, false},
		{SourceDiscovery, SourceDiscovery, true},
		{"mystery", SourceDiscovery, true},
	}
	for _, tt := range tests {
		if got := outranks(tt.a, tt.b); got != tt.want {
			t.Errorf("outranks(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
