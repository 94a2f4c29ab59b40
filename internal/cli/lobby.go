package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

func newLobbyCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Manage capacity-bounded lobbies",
	}
	cmd.AddCommand(newLobbyCreateCmd(flags))
	cmd.AddCommand(newLobbyShowCmd(flags))
	cmd.AddCommand(newLobbyJoinCmd(flags))
	cmd.AddCommand(newLobbyLeaveCmd(flags))
	cmd.AddCommand(newLobbyReadyCmd(flags))
	cmd.AddCommand(newLobbyAdvanceCmd(flags))
	cmd.AddCommand(newLobbySweepCmd(flags))
	return cmd
}

// profileFlags registers --name and --level on cmd.
func profileFlags(cmd *cobra.Command, p *types.Profile) {
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	cmd.Flags().IntVar(&p.Level, "level", 0, "player level")
}

func newLobbyCreateCmd(flags *rootFlags) *cobra.Command {
	var (
		profile    types.Profile
		maxPlayers int
	)
	cmd := &cobra.Command{
		Use:   "create <host-id>",
		Short: "Open a lobby with the host as its first player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				l, err := a.lobbies.Create(cmd.Context(), args[0], profile, maxPlayers)
				if err != nil {
					return err
				}
				return emit(cmd, flags, l, func(w io.Writer) { printLobby(w, l) })
			})
		},
	}
	profileFlags(cmd, &profile)
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "capacity (default from config)")
	return cmd
}

func newLobbyShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <lobby-id>",
		Short: "Display a lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				l, err := a.lobbies.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, l, func(w io.Writer) { printLobby(w, l) })
			})
		},
	}
}

func newLobbyJoinCmd(flags *rootFlags) *cobra.Command {
	var profile types.Profile
	cmd := &cobra.Command{
		Use:   "join <lobby-id> <user-id>",
		Short: "Join a lobby if it has room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				res, err := a.lobbies.Join(cmd.Context(), args[0], args[1], profile)
				if err != nil {
					return err
				}
				return emit(cmd, flags, res, func(w io.Writer) {
					switch {
					case res.IsFull:
						fmt.Fprintf(w, "lobby %s is full\n", args[0])
					case res.AlreadyJoined:
						fmt.Fprintf(w, "%s is already in lobby %s\n", args[1], args[0])
					default:
						fmt.Fprintf(w, "%s joined lobby %s\n", args[1], args[0])
					}
				})
			})
		},
	}
	profileFlags(cmd, &profile)
	return cmd
}

func newLobbyLeaveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <lobby-id> <user-id>",
		Short: "Leave a lobby; the host leaving expires it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				res, err := a.lobbies.Leave(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd, flags, res, func(w io.Writer) {
					fmt.Fprintf(w, "%s left lobby %s\n", args[1], args[0])
					if res.Expired {
						fmt.Fprintf(w, "lobby %s expired\n", args[0])
					}
				})
			})
		},
	}
}

func newLobbyReadyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <lobby-id> <user-id> [true|false]",
		Short: "Set a player's readiness flag",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ready := true
			if len(args) == 3 {
				v, err := strconv.ParseBool(args[2])
				if err != nil {
					return usagef("invalid readiness %q", args[2])
				}
				ready = v
			}
			return withApp(flags, func(a *app) error {
				if err := a.lobbies.SetReady(cmd.Context(), args[0], args[1], ready); err != nil {
					return err
				}
				return emit(cmd, flags, map[string]bool{"ready": ready}, func(w io.Writer) {
					fmt.Fprintf(w, "%s ready=%t\n", args[1], ready)
				})
			})
		},
	}
}

func newLobbyAdvanceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <lobby-id> <starting|in_progress>",
		Short: "Move a lobby forward in its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				l, err := a.lobbies.Advance(cmd.Context(), args[0], types.LobbyStatus(args[1]))
				if err != nil {
					return err
				}
				return emit(cmd, flags, l, func(w io.Writer) { printLobby(w, l) })
			})
		},
	}
}

func newLobbySweepCmd(flags *rootFlags) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale empty lobbies",
		Long:  "Expire stale empty lobbies once, or every --every interval until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				if every > 0 {
					a.lobbies.RunSweeper(cmd.Context(), every, func(n int, err error) {
						if err != nil {
							a.log.Warn("sweep failed", "error", err)
							return
						}
						if n > 0 {
							fmt.Fprintf(cmd.OutOrStdout(), "expired %d lobby(ies)\n", n)
						}
					})
					return nil
				}
				n, err := a.lobbies.SweepExpired(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				return emit(cmd, flags, map[string]int{"expired": n}, func(w io.Writer) {
					fmt.Fprintf(w, "expired %d lobby(ies)\n", n)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat at this interval until interrupted")
	return cmd
}
