// Package cmd implements the nexus command-line interface.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nexus/internal/backup"
	"nexus/internal/config"
	"nexus/internal/credentials"
	"nexus/internal/storage"
	syncmgr "nexus/internal/sync"
	"nexus/internal/utils"
	"nexus/internal/webdav"
	"nexus/store"
	"nexus/store/sqlite"
)

// Version is set at build time
var Version = "dev"

// Options holds CLI-level overrides, mostly for testing.
type Options struct {
	ConfigPath string
	DataFolder string
	DBPath     string
	Verbose    bool

	// Records substitutes the record store; tests inject a store.Memory.
	Records store.RecordStore
	// Credentials substitutes the credential store.
	Credentials *credentials.Store
}

// Execute runs the CLI with the given arguments and IO writers, returning
// a process exit code.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer, opts *Options) int {
	rootCmd := NewNexus(stdin, stdout, stderr, opts)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		var suggest *utils.ErrorWithSuggestion
		if errors.As(err, &suggest) {
			_, _ = fmt.Fprintln(stderr, "Suggestion:", suggest.Suggestion)
		}
		return 1
	}
	return 0
}

// app bundles the wired services a subcommand needs.
type app struct {
	cfg     *config.Config
	records store.RecordStore
	manager *backup.Manager
	creds   *credentials.Store
	dbPath  string
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) webdavClient() *webdav.Client {
	return webdav.New(a.creds, a.cfg.SyncTimeout())
}

func (a *app) syncManager() *syncmgr.Manager {
	return syncmgr.NewManager(a.webdavClient(), a.manager)
}

// NewNexus creates the root command with injectable IO.
func NewNexus(stdin io.Reader, stdout, stderr io.Writer, opts *Options) *cobra.Command {
	if opts == nil {
		opts = &Options{}
	}

	cmd := &cobra.Command{
		Use:     "nexus",
		Short:   "Durable backup and WebDAV sync for your notes and tasks",
		Long:    "nexus manages local backups of tasks and notes and synchronizes them with a WebDAV server.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.DataFolder, "data-folder", "", "Override the data folder")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "Override the record database path")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "V", false, "Enable verbose/debug output")

	cmd.AddCommand(newBackupCmd(stdout, opts))
	cmd.AddCommand(newImportCmd(stdout, opts))
	cmd.AddCommand(newSyncCmd(stdout, opts))
	cmd.AddCommand(newCredentialsCmd(stdin, stdout, opts))
	cmd.AddCommand(newWatchCmd(stdout, opts))

	// Register the default help flag up front; otherwise cobra's command
	// lookup treats a leading --help as a value-taking flag and swallows
	// the following argument.
	cmd.InitDefaultHelpFlag()

	return cmd
}

// openApp wires config, record store, storage adapter and credential
// store for one command invocation.
func openApp(opts *Options) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Verbose || cfg.Logging.Verbose {
		utils.SetVerboseMode(true)
	}

	a := &app{cfg: cfg}

	dataFolder := opts.DataFolder
	if dataFolder == "" {
		dataFolder = cfg.Storage.DataFolder
	}
	dataFolder = backup.ResolveDataFolder(dataFolder)

	a.dbPath = opts.DBPath
	if a.dbPath == "" {
		a.dbPath = cfg.DBPath
	}
	if a.dbPath == "" {
		a.dbPath = filepath.Join(dataFolder, "nexus.db")
	}

	a.records = opts.Records
	if a.records == nil {
		db, err := sqlite.New(a.dbPath)
		if err != nil {
			return nil, err
		}
		a.records = db
		a.closers = append(a.closers, func() { _ = db.Close() })
	}

	adapter := storage.New(dataFolder)
	if err := adapter.Initialize(); err != nil {
		a.close()
		return nil, err
	}
	a.manager = backup.NewManager(adapter, a.records)
	a.closers = append(a.closers, a.manager.Close)

	a.creds = opts.Credentials
	if a.creds == nil {
		a.creds = credentials.NewStore(config.GetConfigDir(), config.GetLegacyConfigDir())
	}

	return a, nil
}

func newBackupCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore, delete and export backups",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup of the current data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			backupType, _ := cmd.Flags().GetString("type")
			b, err := a.manager.CreateBackup(cmd.Context(), backupType)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Created backup %s (%d tasks, %d notes, %s)\n",
				b.ID, b.Metadata.ItemCounts.Tasks, b.Metadata.ItemCounts.Notes, formatSize(b.Metadata.Size))
			return nil
		},
	}
	createCmd.Flags().String("type", storage.BackupTypeFull, "Backup type (full or incremental)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			backups, err := a.manager.ListBackups()
			if err != nil {
				return err
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				return json.NewEncoder(stdout).Encode(backups)
			}

			if len(backups) == 0 {
				_, _ = fmt.Fprintln(stdout, "No backups found")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "%-28s %-12s %-10s %s\n", "ID", "TYPE", "SIZE", "CREATED")
			for _, b := range backups {
				_, _ = fmt.Fprintf(stdout, "%-28s %-12s %-10s %s\n",
					b.ID, b.Metadata.Type, formatSize(b.Metadata.Size), b.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().Bool("json", false, "Output in JSON format")

	deleteCmd := &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.DeleteBackup(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Deleted backup %s\n", args[0])
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup, replacing current data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			preview, _ := cmd.Flags().GetBool("preview")
			if preview {
				p, err := a.manager.GetRestorePreview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printPreview(stdout, p)
				return nil
			}

			if err := a.manager.RestoreBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Restored backup %s\n", args[0])
			return nil
		},
	}
	restoreCmd.Flags().Bool("preview", false, "Show what the restore would bring in without applying it")

	exportCmd := &cobra.Command{
		Use:   "export <current|backup-id> <output-path>",
		Short: "Export current data or an existing backup as a zip archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.ExportZipToPath(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Exported to %s\n", args[1])
			return maybeReveal(cmd, args[1])
		},
	}
	exportCmd.Flags().Bool("reveal", false, "Show the exported archive in the file browser")

	cmd.AddCommand(createCmd, listCmd, deleteCmd, restoreCmd, exportCmd)
	return cmd
}

func newImportCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge data from an archive or folder into current data",
	}

	run := func(cmd *cobra.Command, path string, fromZip bool) error {
		a, err := openApp(opts)
		if err != nil {
			return err
		}
		defer a.close()

		preview, _ := cmd.Flags().GetBool("preview")
		if preview {
			var p *backup.RestorePreview
			if fromZip {
				p, err = a.manager.GetImportZipPreview(cmd.Context(), path)
			} else {
				p, err = a.manager.GetImportFolderPreview(cmd.Context(), path)
			}
			if err != nil {
				return err
			}
			printPreview(stdout, p)
			return nil
		}

		var result *store.ImportResult
		if fromZip {
			result, err = a.manager.ImportZipMerge(cmd.Context(), path)
		} else {
			result, err = a.manager.ImportFolderMerge(cmd.Context(), path)
		}
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(stdout, "Imported %d task(s) and %d note(s)\n", result.TasksImported, result.NotesImported)
		if result.TasksSkipped > 0 || result.NotesSkipped > 0 {
			_, _ = fmt.Fprintf(stdout, "Skipped %d task(s) and %d note(s) already present\n", result.TasksSkipped, result.NotesSkipped)
		}
		return nil
	}

	zipCmd := &cobra.Command{
		Use:   "zip <archive-path>",
		Short: "Import from a zip or rar archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], true)
		},
	}
	folderCmd := &cobra.Command{
		Use:   "folder <folder-path>",
		Short: "Import from a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], false)
		},
	}

	cmd.PersistentFlags().Bool("preview", false, "Show what the import would bring in without applying it")
	cmd.AddCommand(zipCmd, folderCmd)
	return cmd
}

func newSyncCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize data with the configured WebDAV server",
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Validate stored credentials against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.syncManager().Connect(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Connected")
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Clear the connected flag (remote content is kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.syncManager().Disconnect(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Disconnected")
			return nil
		},
	}

	nowCmd := &cobra.Command{
		Use:   "now",
		Short: "Upload live state and any backups missing on the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			m := a.syncManager()
			if err := m.SyncNow(cmd.Context()); err != nil {
				return err
			}

			status := m.Status()
			_, _ = fmt.Fprintf(stdout, "Sync complete (%d backup(s) uploaded)\n", status.UploadedBackups)
			if status.RemoteHasNewerLiveState {
				_, _ = fmt.Fprintln(stdout, "Note: the remote live state is newer than local data; it was not overwritten. Run 'nexus sync pull-live' to fetch it.")
			}
			if status.RemoteHasNewerBackup {
				_, _ = fmt.Fprintln(stdout, "Note: the remote holds backups not present locally. Run 'nexus sync remote-list' to see them.")
			}
			return nil
		},
	}

	remoteListCmd := &cobra.Command{
		Use:   "remote-list",
		Short: "List backup archives on the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			files, err := a.syncManager().ListRemoteBackups(cmd.Context())
			if err != nil {
				return err
			}
			if len(files) == 0 {
				_, _ = fmt.Fprintln(stdout, "No remote backups found")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "%-40s %-10s %s\n", "NAME", "SIZE", "MODIFIED")
			for _, f := range files {
				modified := "-"
				if f.ModifiedTime != nil {
					modified = f.ModifiedTime.Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(stdout, "%-40s %-10s %s\n", f.Name, formatSize(f.Size), modified)
			}
			return nil
		},
	}

	pullCmd := &cobra.Command{
		Use:   "pull <backup-name>",
		Short: "Download a remote backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.syncManager().DownloadRemoteBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Downloaded to %s\n", path)
			return maybeReveal(cmd, path)
		},
	}
	pullCmd.Flags().Bool("reveal", false, "Show the downloaded archive in the file browser")

	pullLiveCmd := &cobra.Command{
		Use:   "pull-live",
		Short: "Download the remote live-state archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.syncManager().DownloadLiveState(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Downloaded to %s\n", path)
			return maybeReveal(cmd, path)
		},
	}
	pullLiveCmd.Flags().Bool("reveal", false, "Show the downloaded archive in the file browser")

	cmd.AddCommand(connectCmd, disconnectCmd, nowCmd, remoteListCmd, pullCmd, pullLiveCmd)
	return cmd
}

func newCredentialsCmd(stdin io.Reader, stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage WebDAV credentials",
	}

	setCmd := &cobra.Command{
		Use:   "set <server-url> <username>",
		Short: "Store WebDAV credentials, prompting for the password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			url := strings.TrimRight(args[0], "/")
			username := args[1]

			password, err := credentials.PromptPasswordWithTTY(stdin, stdout, username, credentials.StdinTerminalReader())
			if err != nil {
				return err
			}
			if password == "" {
				return utils.ValidationError("password must not be empty")
			}

			if err := a.creds.Write(&credentials.Auth{
				URL:      url,
				Username: username,
				Password: password,
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Credentials stored")
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored credential status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			auth := a.creds.Read()
			if auth == nil {
				_, _ = fmt.Fprintln(stdout, "No credentials stored")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "Server: %s\n", auth.URL)
			_, _ = fmt.Fprintf(stdout, "Username: %s\n", auth.Username)
			_, _ = fmt.Fprintf(stdout, "Password: ******** (hidden)\n")
			connected := "no"
			if auth.Connected {
				connected = "yes"
			}
			_, _ = fmt.Fprintf(stdout, "Connected: %s\n", connected)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.creds.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Credentials cleared")
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd, clearCmd)
	return cmd
}

// maybeReveal opens the platform file browser on path when the command
// carries --reveal.
func maybeReveal(cmd *cobra.Command, path string) error {
	if reveal, _ := cmd.Flags().GetBool("reveal"); reveal {
		return utils.OpenInFileBrowser(path)
	}
	return nil
}

func printPreview(stdout io.Writer, p *backup.RestorePreview) {
	_, _ = fmt.Fprintf(stdout, "Tasks: %d\nNotes: %d\nCategories: %d\nSettings: %d\n",
		p.Tasks, p.Notes, p.Categories, p.Settings)
	if len(p.Conflicts) > 0 {
		_, _ = fmt.Fprintf(stdout, "Conflicting IDs (%d): %s\n", len(p.Conflicts), strings.Join(p.Conflicts, ", "))
	}
	for _, w := range p.Warnings {
		_, _ = fmt.Fprintf(stdout, "Warning: %s\n", w)
	}
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
