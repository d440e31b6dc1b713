package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/api"
	"github.com/harrisonrobin/sheetsync/pkg/auth"
	"github.com/harrisonrobin/sheetsync/pkg/config"
	"github.com/harrisonrobin/sheetsync/pkg/google"
	"github.com/harrisonrobin/sheetsync/pkg/logging"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/rebalance"
	"github.com/harrisonrobin/sheetsync/pkg/schedule"
	"github.com/harrisonrobin/sheetsync/pkg/syncer"
	"github.com/harrisonrobin/sheetsync/pkg/translate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func authCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Sheets, replacing any cached token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if err := auth.ResetToken(); err != nil {
				return err
			}
			srv, err := auth.GetSheetsService(ctx)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Println(okStyle.Render("Authentication successful."))

			if a.cfg.Sheet.ID == "" {
				return nil
			}
			client := google.NewSheetsClient(srv, a.cfg.Sheet.Tab, a.cfg.Sheet.Columns, nil, logging.New(a.logOut, "sheets"))
			title, err := client.VerifySheet(ctx, a.cfg.Sheet.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Spreadsheet %q, tab %q is reachable.\n", title, a.cfg.Sheet.Tab)
			return nil
		},
	}
}

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync schedule",
		Long: `Serve the sync API and check the persisted schedule periodically.

Endpoints:
  POST /sync/now        {"direction": "bidirectional|pull-only|push-only"}
  GET  /sync/status
  POST /sync/scheduled
  GET  /sync/settings
  PUT  /sync/settings   {"enabled": true, "intervalMinutes": 30}
  GET  /sync/events     websocket stream of finished passes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			s, err := a.newSyncer(ctx, st)
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := api.NewServer(s, st, logging.New(a.logOut, "api"))
			s.OnResult = srv.Publish

			runner := schedule.NewRunner(s, a.cfg.Schedule.CheckEvery, logging.New(a.logOut, "schedule"))
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				runner.Run(ctx)
			}()

			err = srv.Serve(ctx, addr)
			cancel()
			wg.Wait()
			// A pass still settling records finishes before the store closes.
			s.Close()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func syncCmd(a *app) *cobra.Command {
	var direction string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := model.ParseDirection(direction)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			s, err := a.newSyncer(ctx, st)
			if err != nil {
				return err
			}

			res, err := s.Run(ctx, dir)
			if errors.Is(err, syncer.ErrAlreadyRunning) {
				fmt.Println(warnStyle.Render("A sync is already running."))
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(res)
			}
			fmt.Print(renderResult(res))
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", string(model.Bidirectional), "bidirectional, pull-only or push-only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task sync counts and the last pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.Counts(ctx)
			if err != nil {
				return err
			}
			settings, err := st.GetSyncSettings(ctx)
			if err != nil {
				return err
			}
			fmt.Print(renderStatus(a.cfg.Sheet.ID, counts, settings, time.Now()))
			return nil
		},
	}
}

func rebalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebalance",
		Short: "Move unfinished tasks planned in the past onto today",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			moved, err := rebalance.Sweep(cmd.Context(), st, time.Now(), logging.New(a.logOut, "rebalance"))
			if err != nil {
				return err
			}
			fmt.Print(renderMoved(moved))
			return nil
		},
	}
}

func scheduleCmd(a *app) *cobra.Command {
	var (
		enabled  bool
		interval int
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or change the periodic sync schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			settings, err := st.GetSyncSettings(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enabled") || cmd.Flags().Changed("interval") {
				if cmd.Flags().Changed("enabled") {
					settings.Enabled = enabled
				}
				if cmd.Flags().Changed("interval") {
					settings.IntervalMinutes = interval
				}
				if err := st.SaveSchedule(ctx, settings.Enabled, settings.IntervalMinutes); err != nil {
					return err
				}
			}
			fmt.Print(renderSchedule(settings, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "turn periodic sync on or off")
	cmd.Flags().IntVar(&interval, "interval", 0, "minutes between periodic passes")
	return cmd
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(a.cfg)
		},
	}

	var tab string
	setSheet := &cobra.Command{
		Use:   "set-sheet <spreadsheet-id>",
		Short: "Set the spreadsheet to sync with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Sheet.ID = strings.TrimSpace(args[0])
			if tab != "" {
				a.cfg.Sheet.Tab = tab
			}
			if err := config.SaveFile(a.configPath, a.cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("Default spreadsheet set to: %s (tab %q)\n", a.cfg.Sheet.ID, a.cfg.Sheet.Tab)
			return nil
		},
	}
	setSheet.Flags().StringVar(&tab, "tab", "", "tab holding the tasks")

	setColumn := &cobra.Command{
		Use:   "set-column <field> <header>",
		Short: "Map a task field to a sheet header; an empty header removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			field := strings.ToLower(strings.TrimSpace(args[0]))
			if _, known := config.DefaultColumns()[field]; !known && field != model.FieldModified {
				return fmt.Errorf("unknown field %q", field)
			}
			a.cfg.Sheet.Columns[field] = args[1]
			if err := config.SaveFile(a.configPath, a.cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("Column for %s set to %q\n", field, args[1])
			return nil
		},
	}

	cmd.AddCommand(setSheet, setColumn)
	return cmd
}

func taskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks in the local store",
	}

	var (
		notes, planned, priority, domain string
		estimate                         float64
	)
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a local task; the next push creates its row",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			t := model.Task{Title: strings.Join(args, " "), Notes: notes}
			if priority != "" {
				p, ok := translate.PriorityFromSheet(priority)
				if !ok {
					return fmt.Errorf("unknown priority %q", priority)
				}
				t.Priority = p
			}
			if domain != "" {
				d, ok := translate.DomainFromSheet(domain)
				if !ok {
					return fmt.Errorf("unknown domain %q", domain)
				}
				t.Domain = d
			}
			if estimate > 0 {
				h, clamped := translate.ClampEstimate(estimate)
				if clamped {
					fmt.Printf("Estimate %.2fh rounded to %sh\n", estimate, translate.FormatEstimate(h))
				}
				t.EstimatedHours = h
			}
			if planned != "" {
				d, _, err := translate.ParseDate(planned, time.Now())
				if err != nil {
					return fmt.Errorf("could not read planned date %q: %w", planned, err)
				}
				t.PlannedDate = d
			}
			created, err := st.CreateTask(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Printf("Created task %s\n", created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&notes, "notes", "", "notes")
	add.Flags().StringVar(&planned, "planned", "", "planned date, e.g. 2026-03-01 or \"next friday\"")
	add.Flags().StringVar(&priority, "priority", "", "critical, high, medium or low")
	add.Flags().StringVar(&domain, "domain", "", "work, personal, admin, finance, health or household")
	add.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List local tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.ListTasks(cmd.Context(), model.TaskFilter{})
			if err != nil {
				return err
			}
			if !all {
				open := tasks[:0]
				for _, t := range tasks {
					if !t.Status.IsTerminal() {
						open = append(open, t)
					}
				}
				tasks = open
			}
			fmt.Print(renderTasks(tasks))
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include finished tasks")

	done := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a local task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			t, err := st.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			f := t.Fields()
			f.Status = model.StatusCompleted
			if _, err := st.EditTask(ctx, t.ID, f); err != nil {
				return err
			}
			fmt.Printf("Completed %q\n", t.Title)
			return nil
		},
	}

	cmd.AddCommand(add, list, done)
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
