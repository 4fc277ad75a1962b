package store

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

func TestStores(t *testing.T) {
	sqlite, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Load(ctx); !errors.Is(err, ErrNoSession) {
				t.Fatalf("Load on empty store = %v, want ErrNoSession", err)
			}

			want := Session{Token: "1|abc", User: rest.User{ID: 7, Name: "Ada", Role: "admin"}}
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Token != want.Token || got.User != want.User || got.SavedAt.IsZero() {
				t.Fatalf("got %+v, want %+v", got, want)
			}

			// Saving again replaces the single session.
			if err := s.Save(ctx, Session{Token: "2|def", User: rest.User{ID: 8}}); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, _ = s.Load(ctx)
			if got.Token != "2|def" || got.User.ID != 8 {
				t.Fatalf("got %+v after overwrite", got)
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if _, err := s.Load(ctx); !errors.Is(err, ErrNoSession) {
				t.Fatalf("Load after clear = %v, want ErrNoSession", err)
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(ctx, Session{Token: "tok", User: rest.User{ID: 3}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "tok" || got.User.ID != 3 {
		t.Fatalf("got %+v", got)
	}
}
