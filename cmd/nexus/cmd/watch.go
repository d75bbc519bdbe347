package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"nexus/internal/shutdown"
	"nexus/internal/utils"
	"nexus/internal/watcher"
)

const cleanupTimeout = 10 * time.Second

// watchConfig targets the record database, not the data directory: the
// auto-save callback rewrites data/*.json, and watching that directory
// would re-trigger the save it just performed.
func watchConfig(a *app) *watcher.Config {
	return &watcher.Config{
		Paths:            []string{a.dbPath},
		DebounceDuration: watcher.DefaultDebounceDuration,
		QuietPeriod:      watcher.DefaultQuietPeriod,
		OnChange:         a.manager.OnDataChanged,
	}
}

func newWatchCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run in the background: auto-save on data changes and scheduled backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			sd := shutdown.NewManager()

			if bl, err := utils.NewBackgroundLogger(); err == nil {
				a.manager.SetBackgroundLogger(bl)
				sd.RegisterCleanup("background-log", func(ctx context.Context) error {
					bl.Close()
					return nil
				})
				_, _ = fmt.Fprintf(stdout, "Background log: %s\n", bl.GetLogPath())
			}

			if a.cfg.AutoBackup.Enabled {
				if err := a.manager.EnableAutoBackup(a.cfg.AutoBackup); err != nil {
					return err
				}
				sd.RegisterCleanup("auto-backup", func(ctx context.Context) error {
					a.manager.DisableAutoBackup()
					return nil
				})
				_, _ = fmt.Fprintf(stdout, "Auto-backup enabled (%s, keeping %d)\n",
					a.cfg.AutoBackup.Frequency, a.cfg.AutoBackup.KeepBackups)
			}

			a.manager.SetAutoSaveDebounce(a.cfg.AutoSave)

			w, err := watcher.New(watchConfig(a))
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			sd.RegisterCleanup("watcher", func(ctx context.Context) error {
				w.Stop()
				return nil
			})

			_, _ = fmt.Fprintf(stdout, "Watching %s (Ctrl+C to stop)\n", a.dbPath)

			sd.Listen()
			<-sd.Done()

			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			return sd.Wait(ctx)
		},
	}
}
