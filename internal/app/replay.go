package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dealwatcher/internal/source"
)

// Replay ingests a directory of historical feed snapshots in file-name order.
// Each file is processed as one cycle, stamped with the file's modification
// time, so the rebuilt ledger keeps its original ordering. Nothing is
// published to the channel.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return fmt.Errorf("read replay directory: %w", err)
	}

	type snapshot struct {
		path    string
		modTime int64
	}
	snapshots := make([]snapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		snapshots = append(snapshots, snapshot{
			path:    filepath.Join(opts.Dir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(snapshots) == 0 {
		return errors.New("no feed snapshots found in replay directory")
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].path < snapshots[j].path })

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is not configured")
	}
	defer closeStore()

	processed := 0
	failed := 0
	for _, snap := range snapshots {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		src := source.NewFileSource(snap.path, a.Logger)
		svc := a.newService(src, store, nil)

		if err := svc.RunCycle(ctx, time.Unix(0, snap.modTime).UTC()); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("file", snap.path).Msg("replay cycle failed")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("replay complete")
	if failed > 0 {
		return errors.New("some feed snapshots failed to replay, check the log")
	}
	return nil
}
