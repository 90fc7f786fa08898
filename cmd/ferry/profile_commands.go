package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ferry/internal/dispatch"
	"ferry/internal/session"
)

func avatarKey(owner string) string {
	return "avatar_" + owner
}

func newProfileCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage owner profiles",
	}

	var (
		name    string
		persona string
		avatar  string
	)
	setCmd := &cobra.Command{
		Use:   "set <owner>",
		Short: "Create or update an owner profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := strings.TrimSpace(args[0])
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				p, _, err := sess.Profile(cmd.Context(), owner)
				if err != nil {
					return err
				}
				p.OwnerID = owner
				if cmd.Flags().Changed("name") {
					p.DisplayName = name
				}
				if cmd.Flags().Changed("persona") {
					p.Persona = persona
				}
				if avatar != "" {
					payload, err := os.ReadFile(avatar)
					if err != nil {
						return fmt.Errorf("read avatar: %w", err)
					}
					if _, err := sess.Blobs().Save(cmd.Context(), avatarKey(owner), payload, ""); err != nil {
						return err
					}
					p.AvatarKey = avatarKey(owner)
				}
				if err := sess.SaveProfile(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Profile %s saved\n", owner)
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&name, "name", "", "Display name")
	setCmd.Flags().StringVar(&persona, "persona", "", "Persona prompt")
	setCmd.Flags().StringVar(&avatar, "avatar", "", "Image file to store as the avatar")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <owner>",
		Short: "Show an owner profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				p, found, err := sess.Profile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("profile %s not found", args[0])
				}
				if showJSON {
					return writeJSON(cmd, p)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Owner:    %s\n", p.OwnerID)
				fmt.Fprintf(out, "Name:     %s\n", p.DisplayName)
				if p.Persona != "" {
					fmt.Fprintf(out, "Persona:  %s\n", p.Persona)
				}
				fmt.Fprintf(out, "Avatar:   %s\n", describeAvatar(cmd.Context(), sess, p))
				fmt.Fprintf(out, "Updated:  %s\n", humanize.Time(p.UpdatedAt))
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Emit JSON")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List owner profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				profiles, err := sess.Profiles(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(profiles) == 0 {
					fmt.Fprintln(out, "No profiles")
					return nil
				}
				rows := make([][]string, 0, len(profiles))
				for _, p := range profiles {
					rows = append(rows, []string{p.OwnerID, p.DisplayName, p.AvatarKey, humanize.Time(p.UpdatedAt)})
				}
				fmt.Fprint(out, renderTable([]string{"Owner", "Name", "Avatar", "Updated"}, rows, nil))
				return nil
			})
		},
	}

	cmd.AddCommand(setCmd, showCmd, listCmd)
	return cmd
}

func describeAvatar(ctx context.Context, sess *session.Session, p session.Profile) string {
	if p.AvatarKey == "" {
		return "none"
	}
	handle, found, err := sess.Avatar(ctx, p.OwnerID)
	if err != nil {
		return "unreadable: " + err.Error()
	}
	if !found {
		return p.AvatarKey + " (missing)"
	}
	defer handle.Release()
	size, err := handle.Size()
	if err != nil {
		return p.AvatarKey
	}
	return fmt.Sprintf("%s (%s)", p.AvatarKey, humanize.Bytes(uint64(size)))
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear an owner's conversation log",
	}

	var (
		limit  int
		asJSON bool
	)
	showCmd := &cobra.Command{
		Use:   "show <owner>",
		Short: "Print the conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				conv, err := sess.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if limit > 0 && len(conv.Items) > limit {
					conv.Items = conv.Items[len(conv.Items)-limit:]
				}
				if asJSON {
					return writeJSON(cmd, conv)
				}
				out := cmd.OutOrStdout()
				if len(conv.Items) == 0 {
					fmt.Fprintf(out, "No history for %s\n", args[0])
					return nil
				}
				for _, item := range conv.Items {
					fmt.Fprintln(out, itemLine(item))
				}
				return nil
			})
		},
	}
	showCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only show the last n items")
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")

	clearCmd := &cobra.Command{
		Use:   "clear <owner>",
		Short: "Delete the conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				return sess.ClearHistory(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(showCmd, clearCmd)
	return cmd
}

func newSessionCommand(ctx *commandContext) *cobra.Command {
	var (
		owners   []string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Act as a page: receive results and focus requests from ferryd",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				runCtx, stop = context.WithTimeout(runCtx, duration)
				defer stop()
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			printf := func(format string, a ...any) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, format, a...)
			}
			navigator := func(_ context.Context, req dispatch.FocusRequest) {
				printf("focus %s\n", req.OwnerID)
			}

			err := ctx.withSession(runCtx, func(sess *session.Session) error {
				sess.Watch(owners...)
				sess.Dispatcher().AddResultListener(func(_ context.Context, msg dispatch.ResultMessage) {
					if !msg.Succeeded() {
						printf("[%s] task %s failed: %s\n", msg.OwnerID, msg.TaskID, msg.ErrorText)
						return
					}
					for _, item := range msg.Outcome.Items {
						printf("[%s] %s\n", msg.OwnerID, itemLine(item))
					}
				})
				watching := "all owners"
				if len(owners) > 0 {
					watching = strconv.Itoa(len(owners)) + " owner(s)"
				}
				printf("Listening for %s; press Ctrl+C to stop\n", watching)
				return sess.Run(runCtx)
			}, session.WithNavigator(navigator))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "Owners to watch (default: all)")
	cmd.Flags().DurationVar(&duration, "for", 0, "Exit after this long")
	return cmd
}
