package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keiwa-murasawa/stepbaby/internal/catalog"
	"github.com/keiwa-murasawa/stepbaby/internal/checklist"
	"github.com/keiwa-murasawa/stepbaby/internal/config"
	"github.com/keiwa-murasawa/stepbaby/internal/logging"
	"github.com/keiwa-murasawa/stepbaby/internal/remote"
	"github.com/keiwa-murasawa/stepbaby/internal/storage"
	"github.com/keiwa-murasawa/stepbaby/internal/ui"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "stepbaby",
		Short:         "Stage-by-stage checklist for expecting and new parents",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $STEPBABY_CONFIG or the user config dir)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(stageCmd())
	root.AddCommand(shareCmd(opts))
	root.AddCommand(openCmd(opts))
	root.AddCommand(serveCmd(opts))
	return root
}

// app holds what every command that touches user data needs.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	catalog  *catalog.Catalog
	closeLog io.Closer
}

func (o *globalOptions) open() (*app, error) {
	path := o.configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	log, closer, err := logging.OpenFile(cfg.LogFile, level)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		closer.Close()
		return nil, err
	}
	log.Debug("config loaded", "path", path, "db", cfg.DBPath, "cloud", cfg.RedisURL != "")
	return &app{cfg: cfg, log: log, catalog: cat, closeLog: closer}, nil
}

func (a *app) Close() error {
	return a.closeLog.Close()
}

func (a *app) openDB() (*storage.Store, error) {
	db, err := storage.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (a *app) dialRemote(ctx context.Context) (*remote.Client, error) {
	if a.cfg.RedisURL == "" {
		return nil, errors.New("redis_url is not configured (set it in the config file or STEPBABY_REDIS_URL)")
	}
	return remote.Dial(ctx, a.cfg.RedisURL, remote.WithLogger(a.log))
}

// runTUI opens the saved cloud list if there is one, the local list if a
// date was saved, and the setup form otherwise.
func runTUI(ctx context.Context, o *globalOptions) error {
	a, err := o.open()
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	profile, err := db.Profile(ctx)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	opts := ui.Options{
		Keys:     a.cfg.Keys,
		Nickname: profile.Nickname,
		Now:      time.Now,
		Log:      a.log,
	}

	if profile.ListID == "" {
		opts.Store = checklist.New(db, a.catalog, checklist.WithLogger(a.log))
		opts.BirthDate = profile.BirthDate
		opts.Dates = db
		opts.Profiles = db
		a.log.Info("opening local list", "birthDate", profile.BirthDate)
		return ui.Run(opts)
	}

	client, err := a.dialRemote(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	list := client.List(profile.ListID)
	opts.Store = checklist.New(list, a.catalog,
		checklist.WithIDs(remote.NewTaskID),
		checklist.WithLogger(a.log),
	)
	opts.ShareURL = remote.ShareURL(a.cfg.ShareBaseURL, profile.ListID)

	doc, err := client.Get(ctx, profile.ListID)
	switch {
	case errors.Is(err, remote.ErrListNotFound):
		a.log.Warn("shared list not found", "id", profile.ListID)
		opts.Missing = true
	case err != nil:
		return err
	default:
		if doc.Nickname != "" {
			opts.Nickname = doc.Nickname
		}
		opts.BirthDate = doc.BirthDate
		opts.Dates = list
		opts.Subscriber = list
	}
	a.log.Info("opening shared list", "id", profile.ListID)
	return ui.Run(opts)
}
