package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

// emit writes v as indented JSON in --json mode, otherwise calls text.
func emit(cmd *cobra.Command, flags *rootFlags, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if flags.jsonMode {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	text(w)
	return nil
}

func check(b bool) string {
	if b {
		return "x"
	}
	return " "
}

func printProgress(w io.Writer, rec *types.UserProgressRecord) {
	fmt.Fprintf(w, "user %s\n", rec.UserID)
	ids := make([]int, 0, len(rec.Chapters))
	for id := range rec.Chapters {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cp := rec.Chapters[id]
		state := "inactive"
		switch {
		case cp.IsCompleted:
			state = "completed"
		case cp.IsActive:
			state = "active"
		}
		fmt.Fprintf(w, "  chapter %d  %s\n", id, state)
		challenges := make([]string, 0, len(cp.Challenges))
		for cid := range cp.Challenges {
			challenges = append(challenges, cid)
		}
		sort.Strings(challenges)
		for _, cid := range challenges {
			fmt.Fprintf(w, "    [%s] %s\n", check(cp.Challenges[cid].IsCompleted), cid)
		}
	}
}

func printSnapshot(w io.Writer, s types.RewardSnapshot) {
	fmt.Fprintf(w, "  xp:            %d\n", s.XP)
	fmt.Fprintf(w, "  currency:      %d\n", s.Currency)
	fmt.Fprintf(w, "  rare currency: %d\n", s.RareCurrency)
	if len(s.Items) > 0 {
		fmt.Fprintf(w, "  items:         %s\n", strings.Join(s.Items, ", "))
	}
}

func printLobby(w io.Writer, l *types.LobbyRecord) {
	fmt.Fprintf(w, "lobby %s  %s  %d/%d  host %s\n", l.ID, l.Status, len(l.Players), l.MaxPlayers, l.HostID)
	for _, p := range l.Players {
		name := p.DisplayName
		if name == "" {
			name = p.UserID
		}
		fmt.Fprintf(w, "  [%s] %s (level %d)\n", check(p.Ready), name, p.Level)
	}
}
