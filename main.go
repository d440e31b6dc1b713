package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrisonrobin/sheetsync/pkg/config"
	"github.com/harrisonrobin/sheetsync/pkg/google"
	"github.com/harrisonrobin/sheetsync/pkg/index"
	"github.com/harrisonrobin/sheetsync/pkg/logging"
	"github.com/harrisonrobin/sheetsync/pkg/store"
	"github.com/harrisonrobin/sheetsync/pkg/syncer"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command shares once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logOut     io.Writer
	logClose   io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "sheetsync",
		Short:        "Keep a task spreadsheet and the local task store in sync",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logClose != nil {
				_ = a.logClose.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/sheetsync/config.yaml)")

	root.AddCommand(
		authCmd(a),
		serveCmd(a),
		syncCmd(a),
		statusCmd(a),
		rebalanceCmd(a),
		scheduleCmd(a),
		configCmd(a),
		taskCmd(a),
	)
	return root
}

func (a *app) load() error {
	if a.configPath == "" {
		path, err := config.GetConfigPath()
		if err != nil {
			return fmt.Errorf("could not find path to configuration file: %w", err)
		}
		a.configPath = path
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logOut, a.logClose = logging.Output(cfg.Log)
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store.Path, logging.New(a.logOut, "store"))
}

func (a *app) requireSheet() error {
	if a.cfg.Sheet.ID == "" {
		return fmt.Errorf("no spreadsheet configured; run: sheetsync config set-sheet <spreadsheet-id>")
	}
	return nil
}

// sheetsClient opens the row index for the configured sheet and an
// authorized Sheets client over it.
func (a *app) sheetsClient(ctx context.Context) (*google.SheetsClient, error) {
	if err := a.requireSheet(); err != nil {
		return nil, err
	}
	path, err := index.DefaultPath(a.cfg.Sheet.ID)
	if err != nil {
		return nil, err
	}
	idx, err := index.NewRowIndex(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load row index: %w", err)
	}
	return google.NewClient(ctx, a.cfg.Sheet.Tab, a.cfg.Sheet.Columns, idx, logging.New(a.logOut, "sheets"))
}

func (a *app) newSyncer(ctx context.Context, st *store.Store) (*syncer.Syncer, error) {
	sheet, err := a.sheetsClient(ctx)
	if err != nil {
		return nil, err
	}
	return syncer.New(sheet, st, st, syncer.Config{
		SheetID:            a.cfg.Sheet.ID,
		Concurrency:        a.cfg.Sync.Concurrency,
		RecordTimeout:      a.cfg.Sync.RecordTimeout,
		SnapshotTimeout:    a.cfg.Sync.SnapshotTimeout,
		Retention:          a.cfg.Retention(),
		LeaseTTL:           a.cfg.Sync.LeaseTTL,
		HardDeleteTerminal: a.cfg.Sync.HardDeleteTerminal,
		Owner:              a.cfg.Sync.Owner,
	}, logging.New(a.logOut, "sync")), nil
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
