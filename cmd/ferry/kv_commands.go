package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ferry/internal/kvstore"
)

func newKVCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Inspect and edit the shared key-value store",
	}
	cmd.AddCommand(newKVGetCommand(ctx))
	cmd.AddCommand(newKVSetCommand(ctx))
	cmd.AddCommand(newKVDeleteCommand(ctx))
	cmd.AddCommand(newKVKeysCommand(ctx))
	cmd.AddCommand(newKVClearCommand(ctx))
	cmd.AddCommand(newKVExportCommand(ctx))
	cmd.AddCommand(newKVImportCommand(ctx))
	cmd.AddCommand(newKVHealthCommand(ctx))
	return cmd
}

func newKVGetCommand(ctx *commandContext) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <partition> <key>",
		Short: "Print a stored value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				entry, found, err := store.GetEntry(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("key %s not found in %s", args[1], args[0])
				}
				out := cmd.OutOrStdout()
				switch {
				case raw:
					_, err = out.Write(entry.Data)
					return err
				case entry.Text:
					fmt.Fprintln(out, entry.String())
				default:
					fmt.Fprintf(out, "<binary %s>\n", humanize.Bytes(uint64(len(entry.Data))))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the stored bytes unmodified")
	return cmd
}

func newKVSetCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON   bool
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "set <partition> <key> [value]",
		Short: "Store a value as text, JSON, or binary file contents",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			partition, key := args[0], args[1]
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				if fromFile != "" {
					if len(args) == 3 {
						return errors.New("pass either a value or --file, not both")
					}
					data, err := os.ReadFile(fromFile)
					if err != nil {
						return fmt.Errorf("read %s: %w", fromFile, err)
					}
					return store.PutBytes(cmd.Context(), partition, key, data)
				}
				if len(args) < 3 {
					return errors.New("value is required unless --file is set")
				}
				value := args[2]
				if asJSON && !json.Valid([]byte(value)) {
					return fmt.Errorf("value is not valid JSON")
				}
				return store.PutText(cmd.Context(), partition, key, value)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Require the value to be valid JSON")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Store the file's bytes as a binary value")
	return cmd
}

func newKVDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <partition> <key>",
		Aliases: []string{"rm"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				return store.Delete(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newKVKeysCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keys <partition>",
		Short: "List the keys in a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				infos, err := store.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, infos)
				}
				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintf(out, "Partition %s is empty\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(infos))
				var total int64
				for _, info := range infos {
					kind := "binary"
					if info.Text {
						kind = "text"
					}
					total += info.Size
					rows = append(rows, []string{info.Key, kind, humanize.Bytes(uint64(info.Size))})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Key", "Kind", "Size"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
					strconv.Itoa(len(infos))+" keys", "", humanize.Bytes(uint64(total)),
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newKVClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <partition>",
		Short: "Remove every record in a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				removed, err := store.Clear(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s) from %s\n", removed, args[0])
				return nil
			})
		},
	}
}

func newKVExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every partition to a JSON snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				snap, err := store.ExportAll(cmd.Context())
				if err != nil {
					return err
				}
				if strings.TrimSpace(output) == "" {
					return writeJSON(cmd, snap)
				}
				data, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot: %w", err)
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s\n", snap.Records(), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the snapshot to a file instead of stdout")
	return cmd
}

func newKVImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Replace the partitions named in a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap kvstore.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				if err := store.ImportAll(cmd.Context(), snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s) across %d partition(s)\n", snap.Records(), len(snap.Partitions))
				return nil
			})
		},
	}
}

func newKVHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store integrity and partition counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *kvstore.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Store:      %s\n", health.Path)
				fmt.Fprintf(out, "Exists:     %s\n", yesNo(health.Exists))
				fmt.Fprintf(out, "Readable:   %s\n", yesNo(health.Readable))
				fmt.Fprintf(out, "Version:    %d\n", health.Version)
				fmt.Fprintf(out, "Integrity:  %s\n", yesNo(health.IntegrityCheck))
				if len(health.MissingPartitions) > 0 {
					fmt.Fprintf(out, "Missing:    %s\n", strings.Join(health.MissingPartitions, ", "))
				}
				rows := make([][]string, 0, len(health.PartitionsPresent))
				for _, partition := range health.PartitionsPresent {
					rows = append(rows, []string{partition, strconv.Itoa(health.Counts[partition])})
				}
				if len(rows) > 0 {
					fmt.Fprint(out, renderTable([]string{"Partition", "Records"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
				return err
			})
		},
	}
}
