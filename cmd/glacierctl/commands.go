package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/injector"
	"github.com/urfave/cli/v3"
)

func storeCommand() *cli.Command {
	return &cli.Command{
		Name:      "store",
		Usage:     "store local files",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "node",
				Aliases:  []string{"n"},
				Usage:    "storage node the files are grouped under, e.g. tenant/collection",
				Required: true,
			},
		},
		Action: storeAction,
	}
}

func storeAction(ctx context.Context, cmd *cli.Command) error {
	files, err := requireArgs(cmd, "file")
	if err != nil {
		return err
	}

	reqs := make([]types.StoreRequest, 0, len(files))
	for i, file := range files {
		entry, err := describeFile(file, cmd.String("node"))
		if err != nil {
			return err
		}
		reqs = append(reqs, types.StoreRequest{ID: strconv.Itoa(i + 1), Entry: entry})
	}

	return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
		rec := progress.NewRecorder()
		app.Archiver.Store(ctx, reqs, rec)
		return failures(renderEvents(rec.Events()))
	})
}

func describeFile(path, node string) (types.FileEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.FileEntry{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return types.FileEntry{}, err
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return types.FileEntry{}, fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return types.FileEntry{
		Checksum:  hex.EncodeToString(h.Sum(nil)),
		Algorithm: types.ChecksumMD5,
		Size:      size,
		FileName:  filepath.Base(abs),
		Node:      node,
		Origin:    abs,
	}, nil
}

func retrieveCommand() *cli.Command {
	return &cli.Command{
		Name:      "retrieve",
		Usage:     "copy stored files into a local directory",
		ArgsUsage: "<url>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dest",
				Aliases: []string{"d"},
				Value:   ".",
				Usage:   "directory the files are copied into",
			},
		},
		Action: retrieveAction,
	}
}

func retrieveAction(ctx context.Context, cmd *cli.Command) error {
	urls, err := requireArgs(cmd, "url")
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(cmd.String("dest"))
	if err != nil {
		return err
	}

	reqs := make([]types.RetrieveRequest, 0, len(urls))
	for i, url := range urls {
		reqs = append(reqs, types.RetrieveRequest{
			ID:             strconv.Itoa(i + 1),
			Location:       url,
			FileName:       retrieveName(url, i),
			RestorationDir: dest,
		})
	}

	return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
		rec := progress.NewRecorder()
		app.Archiver.Retrieve(ctx, reqs, rec)
		return failures(renderEvents(rec.Events()))
	})
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete stored files",
		ArgsUsage: "<url>...",
		Action:    deleteAction,
	}
}

func deleteAction(ctx context.Context, cmd *cli.Command) error {
	urls, err := requireArgs(cmd, "url")
	if err != nil {
		return err
	}

	reqs := make([]types.DeleteRequest, 0, len(urls))
	for i, url := range urls {
		reqs = append(reqs, types.DeleteRequest{ID: strconv.Itoa(i + 1), Location: url})
	}

	return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
		rec := progress.NewRecorder()
		app.Archiver.Delete(ctx, reqs, rec)
		return failures(renderEvents(rec.Events()))
	})
}

func flushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "upload closed and expired archives",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
				rec := progress.NewRecorder()
				app.Archiver.RunPeriodicAction(ctx, rec)
				return failures(renderEvents(rec.Events()))
			})
		},
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "remove expired entries from the cache tree",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
				report, err := app.Archiver.CleanCache(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s cleaned, %s skipped, %s failed\n",
					label(okStyle, "clean"),
					humanize.Comma(int64(report.Cleaned)),
					humanize.Comma(int64(report.Skipped)),
					humanize.Comma(int64(report.Failed)))
				return failures(report.Failed)
			})
		},
	}
}

func availabilityCommand() *cli.Command {
	return &cli.Command{
		Name:      "availability",
		Usage:     "report whether stored files can be retrieved without a restore",
		ArgsUsage: "<url>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			urls, err := requireArgs(cmd, "url")
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
				results, errs := app.Archiver.CheckAvailabilities(ctx, urls)
				failed := 0
				for i, url := range urls {
					if !renderAvailability(url, results[i], errs[i]) {
						failed++
					}
				}
				return failures(failed)
			})
		},
	}
}

func checkPendingCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-pending",
		Usage:     "report whether files stored as pending reached cold storage",
		ArgsUsage: "<url>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			urls, err := requireArgs(cmd, "url")
			if err != nil {
				return err
			}
			reqs := make([]types.PendingRequest, 0, len(urls))
			for i, url := range urls {
				reqs = append(reqs, types.PendingRequest{ID: strconv.Itoa(i + 1), Location: url})
			}
			return withApp(ctx, cmd, func(ctx context.Context, app *injector.App) error {
				rec := progress.NewRecorder()
				app.Archiver.CheckPendingActions(ctx, reqs, rec)
				return failures(renderEvents(rec.Events()))
			})
		},
	}
}
