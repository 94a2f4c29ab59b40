package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

// workspace is a config dir and data dir pair for one test.
type workspace struct {
	configDir, dataDir string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	t.Setenv("QUESTBOOK_LOG_MODE", "off")
	dir := t.TempDir()
	return workspace{configDir: filepath.Join(dir, ".questbook"), dataDir: filepath.Join(dir, ".questbook-db")}
}

func (ws workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", ws.configDir, "--data-dir", ws.dataDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func (ws workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := ws.run(t, args...)
	require.NoError(t, err, "questbook %s\n%s", strings.Join(args, " "), out)
	return out
}

func (ws workspace) runJSON(t *testing.T, dst any, args ...string) {
	t.Helper()
	out := ws.mustRun(t, append([]string{"--json"}, args...)...)
	require.NoError(t, json.Unmarshal([]byte(out), dst), out)
}

func TestVersion(t *testing.T) {
	ws := newWorkspace(t)
	out := ws.mustRun(t, "version")
	assert.Contains(t, out, "questbook v"+Version)
	assert.Contains(t, out, modulePath)
}

func TestInitCreatesConfigAndDatabase(t *testing.T) {
	ws := newWorkspace(t)
	out := ws.mustRun(t, "init")
	assert.Contains(t, out, "questbook initialized")

	assert.FileExists(t, filepath.Join(ws.configDir, "config.yaml"))
	assert.FileExists(t, filepath.Join(ws.dataDir, "questbook.db"))

	// Running init again keeps the existing config.
	require.NoError(t, os.WriteFile(filepath.Join(ws.configDir, "config.yaml"), []byte("log_mode: off\n"), 0o644))
	ws.mustRun(t, "init")
	body, err := os.ReadFile(filepath.Join(ws.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "log_mode: off\n", string(body))
}

func TestProgressAndRewardsFlow(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "init")
	assert.Contains(t, ws.mustRun(t, "user", "create", "alice"), "created user alice")
	assert.Contains(t, ws.mustRun(t, "user", "create", "alice"), "already exists")

	var completed struct {
		AlreadyCompleted  bool   `json:"alreadyCompleted"`
		ChallengeUnlocked string `json:"challengeUnlocked"`
		Rewards           *struct {
			AlreadyClaimed bool                 `json:"alreadyClaimed"`
			Granted        types.RewardSnapshot `json:"granted"`
		} `json:"rewards"`
	}
	ws.runJSON(t, &completed, "progress", "complete", "alice", "ep1-get-letter", "--grant")
	assert.False(t, completed.AlreadyCompleted)
	assert.Equal(t, "ep1-read-letter", completed.ChallengeUnlocked)
	require.NotNil(t, completed.Rewards)
	assert.Equal(t, int64(10), completed.Rewards.Granted.XP)
	assert.Equal(t, int64(100), completed.Rewards.Granted.Currency)
	assert.Len(t, completed.Rewards.Granted.Items, 1)

	var again struct {
		AlreadyClaimed bool                 `json:"alreadyClaimed"`
		Granted        types.RewardSnapshot `json:"granted"`
	}
	ws.runJSON(t, &again, "rewards", "grant", "alice", "ep1-get-letter", "--xp", "999")
	assert.True(t, again.AlreadyClaimed)
	assert.Equal(t, completed.Rewards.Granted, again.Granted, "receipt snapshot is immutable")

	var acct struct {
		Balance types.BalanceAggregate `json:"balance"`
		Vault   types.VaultBalance     `json:"vault"`
	}
	ws.runJSON(t, &acct, "rewards", "balance", "alice")
	assert.Equal(t, int64(10), acct.Balance.XP)
	assert.Equal(t, int64(100), acct.Balance.Currency)
	assert.Equal(t, int64(100), acct.Vault.Balance)

	var rec types.UserProgressRecord
	ws.runJSON(t, &rec, "progress", "show", "alice")
	require.NotNil(t, rec.Chapter(1))
	assert.True(t, rec.Chapter(1).IsChallengeCompleted("ep1-get-letter"))
	assert.True(t, rec.Chapter(1).IsUnlocked("ep1-read-letter"))

	assert.Contains(t, ws.mustRun(t, "progress", "repair", "alice"), "consistent")
	assert.Contains(t, ws.mustRun(t, "rewards", "receipt", "alice", "ep1-get-letter"), "claimed ep1-get-letter")
	assert.Contains(t, ws.mustRun(t, "rewards", "reset", "alice", "ep1-get-letter"), "reset claim")
	assert.Contains(t, ws.mustRun(t, "rewards", "reset", "alice", "ep1-get-letter"), "no claim")
}

func TestLobbyCommands(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "init")

	var l types.LobbyRecord
	ws.runJSON(t, &l, "lobby", "create", "host", "--max-players", "2", "--name", "Hana")
	require.NotEmpty(t, l.ID)

	assert.Contains(t, ws.mustRun(t, "lobby", "join", l.ID, "p1"), "p1 joined")
	assert.Contains(t, ws.mustRun(t, "lobby", "join", l.ID, "p2"), "is full")
	assert.Contains(t, ws.mustRun(t, "lobby", "ready", l.ID, "p1"), "ready=true")
	assert.Contains(t, ws.mustRun(t, "lobby", "leave", l.ID, "host"), "expired")

	_, err := ws.run(t, "lobby", "join", l.ID, "p3")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))

	out := ws.mustRun(t, "lobby", "show", l.ID)
	assert.Contains(t, out, "expired")
	assert.Contains(t, ws.mustRun(t, "lobby", "sweep"), "expired 0")
}

func TestExportImport(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "init")
	ws.mustRun(t, "user", "create", "bob")
	ws.mustRun(t, "progress", "complete", "bob", "ep1-get-letter")

	dump := filepath.Join(t.TempDir(), "dump")
	assert.Contains(t, ws.mustRun(t, "export", dump), "exported 4 document(s)")
	assert.FileExists(t, filepath.Join(dump, types.CollectionProgress+".jsonl"))

	other := newWorkspace(t)
	other.mustRun(t, "init")
	assert.Contains(t, other.mustRun(t, "import", dump), "imported 4 document(s)")

	var rec types.UserProgressRecord
	other.runJSON(t, &rec, "progress", "show", "bob")
	assert.True(t, rec.Chapter(1).IsChallengeCompleted("ep1-get-letter"))
}

func TestErrorsMapToExitCodes(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "init")

	_, err := ws.run(t, "progress", "show", "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = ws.run(t, "progress", "complete", "nobody", "not-a-challenge")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = ws.run(t, "--backend", "postgres", "progress", "show", "x")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = ws.run(t, "lobby", "advance", "missing", "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestMemoryBackend(t *testing.T) {
	ws := newWorkspace(t)
	out := ws.mustRun(t, "--backend", "memory", "user", "create", "carol")
	assert.Contains(t, out, "created user carol")
	assert.NoDirExists(t, ws.dataDir)
}
