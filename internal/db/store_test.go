package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "courtyard.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.CreateAccount(ctx, "  Alice ", "Alice the Bold", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if created.Name != "alice" || created.Display != "Alice the Bold" {
		t.Fatalf("created %+v", created)
	}

	got, err := s.AccountByName(ctx, "ALICE")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID || got.PasswordHash != "hash" {
		t.Fatalf("lookup %+v", got)
	}

	if _, err := s.CreateAccount(ctx, "alice", "dup", "x"); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if _, err := s.AccountByName(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account: %v", err)
	}

	all, err := s.Accounts(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("accounts %+v (%v)", all, err)
	}
}

func TestInventory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	acct, err := s.CreateAccount(ctx, "bob", "", "hash")
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		item  string
		delta int
	}{
		{"sword", 1},
		{"potion", 5},
		{"potion", 7},
		{"arrow", 3},
		{"arrow", -3},
	}
	for _, step := range steps {
		if err := s.AddItem(ctx, acct.ID, step.item, step.delta); err != nil {
			t.Fatalf("add %s %d: %v", step.item, step.delta, err)
		}
	}

	items, err := s.Inventory(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []Item{{"potion", 12}, {"sword", 1}}
	if len(items) != len(want) {
		t.Fatalf("items %+v", items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("items[%d] = %+v, want %+v", i, items[i], want[i])
		}
	}

	if err := s.AddItem(ctx, acct.ID, "sword", -2); err == nil {
		t.Fatal("negative quantity accepted")
	}
}

func TestRecentChat(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendChat(ctx, "Alice", text); err != nil {
			t.Fatal(err)
		}
	}

	lines, err := s.RecentChat(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].Text != "two" || lines[1].Text != "three" {
		t.Fatalf("recent %+v", lines)
	}
}

func TestPruneChat(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.db.Exec(ctx, "INSERT INTO chat_log (sender, text, sent_at) VALUES ('Bob', 'old', '2020-01-01 00:00:00')"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChat(ctx, "Alice", "fresh"); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneChat(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("removed %d (%v)", removed, err)
	}
	lines, _ := s.RecentChat(ctx, 10)
	if len(lines) != 1 || lines[0].Text != "fresh" {
		t.Fatalf("left %+v", lines)
	}
}
