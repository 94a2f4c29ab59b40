// Tests for the SQLite document store.
package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mesh-intelligence/questbook/internal/storetest"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

func testConfig(dir string) types.Config {
	cfg := types.DefaultConfig()
	cfg.Backend = types.BackendSQLite
	cfg.DataDir = dir
	return cfg
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.DocumentStore {
		b, err := Open(testConfig(t.TempDir()))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return b
	})
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()
	config := testConfig(tmpDir)

	b := NewBackend()
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	if _, err := os.Stat(filepath.Join(tmpDir, DBFileName)); os.IsNotExist(err) {
		t.Errorf("%s not created", DBFileName)
	}

	if err := b.Attach(config); err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestBackend_AttachRejectsInvalidConfig(t *testing.T) {
	config := testConfig(t.TempDir())
	config.Tx.MaxAttempts = 0

	if err := NewBackend().Attach(config); err != types.ErrMaxAttemptsInvalid {
		t.Errorf("expected ErrMaxAttemptsInvalid, got %v", err)
	}
}

func TestBackend_Detach(t *testing.T) {
	b, err := Open(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if err := b.Detach(); err != nil {
		t.Errorf("second Detach should be a no-op, got %v", err)
	}
	if _, err := b.Get(context.Background(), types.ProgressRef("u1"), &struct{}{}); err != types.ErrStoreDetached {
		t.Errorf("expected ErrStoreDetached, got %v", err)
	}
}

func TestBackend_Reattach(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ref := types.BalanceRef("u1")

	b, err := Open(testConfig(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err = b.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(ref, types.BalanceAggregate{UserID: "u1", XP: 42})
	})
	if err != nil {
		t.Fatalf("RunTx failed: %v", err)
	}
	b.Detach()

	// Documents survive a restart; migrations are not re-applied.
	b2, err := Open(testConfig(dir))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b2.Detach()

	var got types.BalanceAggregate
	ok, err := b2.Get(ctx, ref, &got)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.XP != 42 {
		t.Errorf("expected XP 42, got %d", got.XP)
	}
}

func TestExtractUp(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no markers", "CREATE TABLE x (a);", "CREATE TABLE x (a);"},
		{"up only", "-- +migrate Up\nCREATE TABLE x (a);", "\nCREATE TABLE x (a);"},
		{"up and down", "-- +migrate Up\nA;\n-- +migrate Down\nB;", "\nA;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractUp(tt.in); got != tt.want {
				t.Errorf("extractUp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsBusy(t *testing.T) {
	if isBusy(nil) {
		t.Error("nil is not busy")
	}
	if !isBusy(errString("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected locked message to be busy")
	}
	if isBusy(errString("no such table")) {
		t.Error("unexpected busy")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
