package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

// newResponsesCmd creates the `replybot responses` command group for
// inspecting the learned-response file without connecting.
func newResponsesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "responses",
		Aliases: []string{"r"},
		Short:   "Inspect learned responses",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List learned responses in insertion order",
			Args:  cobra.NoArgs,
			RunE:  runResponsesList,
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the learned responses as JSON",
			Args:  cobra.NoArgs,
			RunE:  runResponsesExport,
		},
		newResponsesSnapshotCmd(),
	)
	return cmd
}

func newResponsesSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a timestamped snapshot, or list existing ones",
		Args:  cobra.NoArgs,
		RunE:  runResponsesSnapshot,
	}
	cmd.Flags().BoolP("list", "l", false, "list existing snapshots instead of writing one")
	return cmd
}

func openStore(cmd *cobra.Command) (*responses.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())
	return responses.NewStore(cfg.Data.StoreConfig, logger), nil
}

func runResponsesList(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	table := store.Load()
	out := cmd.OutOrStdout()
	if table.Len() == 0 {
		fmt.Fprintln(out, "No saved responses")
		return nil
	}
	fmt.Fprintln(out, table.Format())
	fmt.Fprintf(out, "\n%d responses in %s\n", table.Len(), store.Path())
	return nil
}

func runResponsesExport(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	data, err := store.Load().MarshalIndented()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runResponsesSnapshot(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if list, _ := cmd.Flags().GetBool("list"); list {
		snaps, err := store.Snapshots()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintf(out, "No snapshots in %s\n", store.SnapshotDir())
			return nil
		}
		for _, s := range snaps {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	path, err := store.Snapshot(store.Load())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Snapshot written: %s\n", path)
	return nil
}
