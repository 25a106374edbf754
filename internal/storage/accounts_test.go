package storage

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAccount(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, "alice", true)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if a.ID == 0 || a.Username != "alice" || !a.IsAdmin || !a.Active {
		t.Errorf("unexpected account: %+v", a)
	}
	if a.Alias != "" {
		t.Errorf("new account should have no alias, got %q", a.Alias)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.CreateAccount(ctx, "alice", false); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate CreateAccount error = %v, want ErrDuplicate", err)
	}
	if _, err := s.CreateAccount(ctx, "", false); err == nil {
		t.Error("empty username should fail")
	}
}

func TestSetAccountAlias_Immutable(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, "alice", false)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if err := s.SetAccountAlias(ctx, a.ID, "Ab3xYz9KmNpQrStU"); err != nil {
		t.Fatalf("SetAccountAlias failed: %v", err)
	}
	if err := s.SetAccountAlias(ctx, a.ID, "ZZZZZZZZZZZZZZZZ"); !errors.Is(err, ErrAliasAssigned) {
		t.Errorf("second SetAccountAlias error = %v, want ErrAliasAssigned", err)
	}
	if err := s.SetAccountAlias(ctx, 999, "ZZZZZZZZZZZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAccountAlias on missing account error = %v, want ErrNotFound", err)
	}

	got, err := s.GetAccountByAlias(ctx, "Ab3xYz9KmNpQrStU")
	if err != nil {
		t.Fatalf("GetAccountByAlias failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("GetAccountByAlias returned account %d, want %d", got.ID, a.ID)
	}

	if _, err := s.GetAccountByAlias(ctx, "unknownunknown00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccountByAlias(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSetAccountAlias_UniqueAcrossAccounts(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	a, _ := s.CreateAccount(ctx, "alice", false)
	b, _ := s.CreateAccount(ctx, "bob", false)

	if err := s.SetAccountAlias(ctx, a.ID, "Ab3xYz9KmNpQrStU"); err != nil {
		t.Fatalf("SetAccountAlias failed: %v", err)
	}
	if err := s.SetAccountAlias(ctx, b.ID, "Ab3xYz9KmNpQrStU"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("shared alias error = %v, want ErrDuplicate", err)
	}
}

func TestSetAccountActive(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	a, _ := s.CreateAccount(ctx, "alice", false)
	if err := s.SetAccountActive(ctx, a.ID, false); err != nil {
		t.Fatalf("SetAccountActive failed: %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Active {
		t.Error("account should be inactive")
	}

	if err := s.SetAccountActive(ctx, 999, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAccountActive(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListAccounts_Empty(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	accounts, err := s.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if accounts == nil || len(accounts) != 0 {
		t.Errorf("ListAccounts() = %v, want empty slice", accounts)
	}
}
