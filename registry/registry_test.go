package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim"
)

type brokenStore struct{}

func (brokenStore) LookupFingerprint(context.Context, string) (string, bool, error) {
	return "", false, errors.New("database is locked")
}

func (brokenStore) InsertFingerprint(context.Context, string, string) error {
	return errors.New("disk I/O error")
}

type countingObserver struct{ n atomic.Int32 }

func (o *countingObserver) RegistryError(string) { o.n.Add(1) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newMemRegistry(t *testing.T) (*Registry, *MemStore) {
	t.Helper()
	store, err := NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	return New(store, quietLogger(), nil), store
}

func TestRegistry_CollisionSemantics(t *testing.T) {
	ctx := context.Background()
	reg, _ := newMemRegistry(t)
	src := xiim.SourceHash([]byte("source-image"))

	if d := reg.CheckDuplicate(ctx, src, "s_aaaaaaaaaaaa"); d.IsDuplicate {
		t.Fatal("empty registry reported a duplicate")
	}
	if err := reg.Register(ctx, src, "s_aaaaaaaaaaaa", "vix_1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := reg.CheckDuplicate(ctx, src, "s_aaaaaaaaaaaa")
	if !d.IsDuplicate || d.ExistingID != "vix_1" {
		t.Fatalf("CheckDuplicate after register = %+v", d)
	}
	if d := reg.CheckDuplicate(ctx, src, "s_bbbbbbbbbbbb"); d.IsDuplicate {
		t.Fatal("different seed reported as duplicate")
	}
	if d := reg.CheckDuplicate(ctx, xiim.SourceHash([]byte("other")), "s_aaaaaaaaaaaa"); d.IsDuplicate {
		t.Fatal("different source reported as duplicate")
	}
}

func TestRegistry_RegisterTwiceKeepsFirst(t *testing.T) {
	ctx := context.Background()
	reg, store := newMemRegistry(t)

	if err := reg.Register(ctx, "h", "s_1", "vix_first"); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(ctx, "h", "s_1", "vix_second")
	if !errors.Is(err, ErrFingerprintExists) {
		t.Fatalf("expected ErrFingerprintExists, got %v", err)
	}
	if d := reg.CheckDuplicate(ctx, "h", "s_1"); d.ExistingID != "vix_first" {
		t.Fatalf("existing id overwritten: %+v", d)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", store.Len())
	}
}

func TestRegistry_ConcurrentRegisterSingleWinner(t *testing.T) {
	ctx := context.Background()
	reg, _ := newMemRegistry(t)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Register(ctx, "h", "s_race", xiim.NewRequestID())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrFingerprintExists):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 31 {
		t.Fatalf("wins=%d conflicts=%d", wins.Load(), conflicts.Load())
	}
}

func TestRegistry_FailsOpen(t *testing.T) {
	obs := &countingObserver{}
	reg := New(brokenStore{}, quietLogger(), obs)

	if d := reg.CheckDuplicate(context.Background(), "h", "s_1"); d.IsDuplicate {
		t.Fatal("failing store must be treated as not duplicate")
	}
	err := reg.Register(context.Background(), "h", "s_1", "vix_1")
	if err == nil || errors.Is(err, ErrFingerprintExists) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if obs.n.Load() != 2 {
		t.Fatalf("expected 2 observed errors, got %d", obs.n.Load())
	}
}

func TestRedisStore_Key(t *testing.T) {
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	if got := s.Key("abc"); got != "xiim:fp:abc" {
		t.Fatalf("Key = %q", got)
	}
	if got := NewRedisStore(nil, "test:").Key("abc"); got != "test:abc" {
		t.Fatalf("Key with prefix = %q", got)
	}
}

func TestRedisStore_UnreachableFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	reg := New(NewRedisStore(client, ""), quietLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if d := reg.CheckDuplicate(ctx, "h", "s_1"); d.IsDuplicate {
		t.Fatal("unreachable redis must be treated as not duplicate")
	}
}
