package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferry/internal/blobcache"
	"ferry/internal/session"
)

func newBlobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Manage cached images and other binary assets",
	}
	cmd.AddCommand(newBlobPutCommand(ctx))
	cmd.AddCommand(newBlobGetCommand(ctx))
	cmd.AddCommand(newBlobRemoveCommand(ctx))
	cmd.AddCommand(newBlobCopyCommand(ctx))
	cmd.AddCommand(newBlobListCommand(ctx))
	cmd.AddCommand(newBlobStatsCommand(ctx))
	cmd.AddCommand(newBlobGCCommand(ctx))
	return cmd
}

func categoryLabel(c blobcache.Category) string {
	return cases.Title(language.Und).String(string(c))
}

func newBlobPutCommand(ctx *commandContext) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Store a file under key; avatars are recompressed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			var hint blobcache.Category
			if strings.TrimSpace(category) != "" {
				parsed, ok := blobcache.ParseCategory(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				hint = parsed
			}
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				stored, err := cache.Save(cmd.Context(), args[0], payload, hint)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as %s (%s)\n", args[0], categoryLabel(stored), humanize.Bytes(uint64(len(payload))))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Override the category inferred from the key")
	return cmd
}

func newBlobGetCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Write a cached blob to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				handle, found, err := cache.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("blob %s not found", args[0])
				}
				defer handle.Release()
				reader, err := handle.Reader()
				if err != nil {
					return err
				}
				if strings.TrimSpace(output) == "" {
					_, err = io.Copy(cmd.OutOrStdout(), reader)
					return err
				}
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				if _, err := io.Copy(file, reader); err != nil {
					file.Close()
					return fmt.Errorf("write %s: %w", output, err)
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newBlobRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"delete"},
		Short:   "Remove a blob in every stored form",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				return cache.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func newBlobCopyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <from> <to>",
		Short: "Copy a blob to a new key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				return cache.Copy(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newBlobListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				infos, err := cache.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, infos)
				}
				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintln(out, "Blob cache is empty")
					return nil
				}
				rows := make([][]string, 0, len(infos))
				for _, info := range infos {
					legacy := ""
					if info.Legacy {
						legacy = "legacy"
					}
					rows = append(rows, []string{info.Key, categoryLabel(info.Category), humanize.Bytes(uint64(info.Size)), legacy})
				}
				fmt.Fprint(out, renderTable([]string{"Key", "Category", "Size", "Form"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newBlobStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and bytes per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobs(cmd.Context(), func(cache *blobcache.Cache) error {
				stats, err := cache.CategoryStats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				var count int
				var total int64
				for _, c := range blobcache.AllCategories() {
					s := stats[c]
					count += s.Count
					total += s.Bytes
					rows = append(rows, []string{categoryLabel(c), strconv.Itoa(s.Count), humanize.Bytes(uint64(s.Bytes))})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Category", "Entries", "Size"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight},
					"Total", strconv.Itoa(count), humanize.Bytes(uint64(total))))
				return nil
			})
		},
	}
}

func newBlobGCCommand(ctx *commandContext) *cobra.Command {
	var keep []string
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove blobs no profile references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(sess *session.Session) error {
				removed, err := sess.CollectBlobs(cmd.Context(), keep...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d unreferenced blob(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&keep, "keep", nil, "Additional keys to keep")
	return cmd
}
