package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"sfm/internal/config"
	"sfm/internal/records"
	"sfm/internal/snapshot"
)

const setLockName = ".sfm.lock"

func newExportCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write record snapshots into the collection tree",
	}

	collectionCmd := &cobra.Command{
		Use:   "collection <collection_id>",
		Short: "Export one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *records.Store) error {
				collection, err := store.GetCollection(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if collection == nil {
					return fmt.Errorf("collection %s: %w", args[0], records.ErrNotFound)
				}
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				var result snapshot.Result
				err = withSetLock(snapshot.CollectionSetPath(cfg.Paths.DataDir, collection.CollectionSetID), func() error {
					result, err = snapshot.NewSerializer(store, cfg.Paths.DataDir, logger).SerializeCollection(cmd.Context(), collection)
					return err
				})
				if err != nil {
					return err
				}
				return reportResult(cmd, "Exported", result, jsonOut)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <collection_set_id>",
		Short: "Export every collection of a collection set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *records.Store) error {
				set, err := store.GetCollectionSet(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if set == nil {
					return fmt.Errorf("collection set %s: %w", args[0], records.ErrNotFound)
				}
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				var result snapshot.Result
				err = withSetLock(snapshot.CollectionSetPath(cfg.Paths.DataDir, set.CollectionSetID), func() error {
					result, err = snapshot.NewSerializer(store, cfg.Paths.DataDir, logger).SerializeCollectionSet(cmd.Context(), set)
					return err
				})
				if err != nil {
					return err
				}
				return reportResult(cmd, "Exported", result, jsonOut)
			})
		},
	}

	exportCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	exportCmd.AddCommand(collectionCmd, setCmd)
	return exportCmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load record snapshots from the collection tree",
	}

	run := func(cmd *cobra.Command, path string, set bool) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("snapshot path: %w", err)
		}
		lockDir := filepath.Dir(abs)
		if set {
			lockDir = abs
		}
		return ctx.withStore(func(cfg *config.Config, store *records.Store) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			d := snapshot.NewDeserializer(store, logger)
			var result snapshot.Result
			err = withSetLock(lockDir, func() error {
				if set {
					result, err = d.DeserializeCollectionSet(cmd.Context(), abs)
				} else {
					result, err = d.DeserializeCollection(cmd.Context(), abs)
				}
				return err
			})
			if err != nil {
				return err
			}
			return reportResult(cmd, "Imported", result, jsonOut)
		})
	}

	collectionCmd := &cobra.Command{
		Use:   "collection <path>",
		Short: "Import one collection directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], false)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <path>",
		Short: "Import every collection directory below a collection set directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], true)
		},
	}

	importCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	importCmd.AddCommand(collectionCmd, setCmd)
	return importCmd
}

// withSetLock runs fn while holding the collection set's lock file.
func withSetLock(setPath string, fn func() error) error {
	if err := os.MkdirAll(setPath, 0o755); err != nil {
		return fmt.Errorf("create collection set directory: %w", err)
	}
	lockPath := filepath.Join(setPath, setLockName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", lockPath, err)
	}
	if !ok {
		return fmt.Errorf("collection set is locked by another process: %s", lockPath)
	}
	defer lock.Unlock()
	return fn()
}

func reportResult(cmd *cobra.Command, verb string, result snapshot.Result, jsonOut bool) error {
	if jsonOut {
		return writeJSON(cmd, result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d collection(s), %d file(s)", verb, result.Collections, result.Files)
	if result.SkippedCollections > 0 {
		fmt.Fprintf(out, ", skipped %d existing collection(s)", result.SkippedCollections)
	}
	fmt.Fprintln(out)

	files := make([]string, 0, len(result.Created))
	for file := range result.Created {
		files = append(files, file)
	}
	for file := range result.Existing {
		if _, ok := result.Created[file]; !ok {
			files = append(files, file)
		}
	}
	if len(files) == 0 {
		return nil
	}
	sort.Strings(files)
	rows := make([][]string, 0, len(files))
	for _, file := range files {
		rows = append(rows, []string{file, fmt.Sprint(result.Created[file]), fmt.Sprint(result.Existing[file])})
	}
	fmt.Fprintln(out, renderTable([]string{"File", "Written", "Existing"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
	return nil
}
