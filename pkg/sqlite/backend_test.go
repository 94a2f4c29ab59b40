package sqlite

import (
	"context"
	"testing"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

func TestOpenRoundTrip(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.DataDir = t.TempDir()

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Detach()

	ctx := context.Background()
	ref := types.LobbyRef("l1")
	err = store.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(ref, types.LobbyRecord{ID: "l1", Status: types.LobbyWaiting, MaxPlayers: 2})
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	dir := t.TempDir()
	n, err := Export(ctx, store, dir)
	if err != nil || n != 1 {
		t.Fatalf("Export = %d, %v; want 1, nil", n, err)
	}

	cfg.DataDir = t.TempDir()
	other, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open second store: %v", err)
	}
	defer other.Detach()
	if n, err := Import(ctx, other, dir); err != nil || n != 1 {
		t.Fatalf("Import = %d, %v; want 1, nil", n, err)
	}

	var got types.LobbyRecord
	ok, err := other.Get(ctx, ref, &got)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Status != types.LobbyWaiting || got.MaxPlayers != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	if _, err := Open(types.Config{Backend: "sqlite"}); err == nil {
		t.Fatal("Open with zero tuning should fail validation")
	}
}
