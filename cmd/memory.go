package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/devteam/internal/infrastructure/sqlite"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
)

var memoryOpts struct {
	project string
	label   string
	id      int64
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage saved memory snapshots",
	Long: `Memory snapshots hold every short-term and long-term entry and the
shared context of a run. They are stored in the sqlite database at
memory.database_path ('devteam run --save-memory' adds one) and can be
exported to and imported from YAML or JSON files.`,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := sqlite.NewDB(cfg.Memory.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		infos, err := db.Snapshots().List(cmd.Context(), memoryOpts.project)
		if err != nil {
			return err
		}
		printSnapshots(cmd.OutOrStdout(), infos)
		return nil
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export a snapshot to a YAML or JSON file",
	Long: `Export a snapshot to a file. The format follows the extension: .json
writes JSON, anything else YAML. Without --id the latest snapshot (of
--project, when given) is exported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.NewDB(cfg.Memory.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		var snap memory.Snapshot
		if memoryOpts.id > 0 {
			snap, err = db.Snapshots().Load(cmd.Context(), memoryOpts.id)
		} else {
			snap, _, err = db.Snapshots().Latest(cmd.Context(), memoryOpts.project)
		}
		if err != nil {
			return err
		}

		if err := writeSnapshotFile(args[0], snap); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", snap.Len(), args[0])
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a snapshot from a YAML or JSON file",
	Long: `Import a snapshot file into the database. Entries are loaded into a
memory store first, so tier capacities from the config apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := readSnapshotFile(args[0])
		if err != nil {
			return err
		}

		store := memory.New(cfg.Memory.StoreConfig())
		store.Import(snap)

		db, err := sqlite.NewDB(cfg.Memory.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		label := memoryOpts.label
		if label == "" {
			label = filepath.Base(args[0])
		}
		imported := store.Export()
		id, err := db.Snapshots().Save(cmd.Context(), memoryOpts.project, label, imported)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries as snapshot %d\n", imported.Len(), id)
		return nil
	},
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryOpts.project, "project", "", "project id to filter or assign")
	memoryExportCmd.Flags().Int64Var(&memoryOpts.id, "id", 0, "snapshot id (default: latest)")
	memoryImportCmd.Flags().StringVar(&memoryOpts.label, "label", "", "snapshot label (default: file name)")

	memoryCmd.AddCommand(memoryListCmd, memoryExportCmd, memoryImportCmd)
	rootCmd.AddCommand(memoryCmd)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// writeSnapshotFile encodes snap as JSON or YAML by extension.
func writeSnapshotFile(path string, snap memory.Snapshot) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(snap, "", "  ")
	} else {
		data, err = yaml.Marshal(snap)
	}
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// readSnapshotFile decodes a JSON or YAML snapshot by extension.
func readSnapshotFile(path string) (memory.Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied import path
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap memory.Snapshot
	if isJSON(path) {
		err = json.Unmarshal(data, &snap)
	} else {
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return snap, nil
}

func printSnapshots(w io.Writer, infos []sqlite.SnapshotInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No snapshots"))
		return
	}
	narrow := lipgloss.NewStyle().Width(6)
	wide := lipgloss.NewStyle().Width(38)
	fmt.Fprintln(w, headerStyle.Render(narrow.Render("ID")+wide.Render("PROJECT")+wide.Render("LABEL")+"ENTRIES  CREATED"))
	for _, info := range infos {
		fmt.Fprintln(w,
			narrow.Render(strconv.FormatInt(info.ID, 10))+
				wide.Render(info.ProjectID)+
				wide.Render(info.Label)+
				fmt.Sprintf("%-8d ", info.ShortTermCount+info.LongTermCount)+
				subtleStyle.Render(info.CreatedAt.Format("2006-01-02 15:04")))
	}
}
