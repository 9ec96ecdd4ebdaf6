package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"manutenzioni/internal/app"
	"manutenzioni/internal/config"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/engine"
	"manutenzioni/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "manutenzioni",
	Short: "Calendario manutenzioni",
	Long: `Schedules recurring maintenance checklists per asset, groups what falls due
on the same day, and records completions with their successors and alerts.
- Scadenza: one due checklist item on one asset (programmata -> completata | riprogrammata).
- Gruppo: the open scadenze sharing civico, asset and due date; completed together.
- Frequenza: settimanale, bisettimanale, mensile, bimestrale, semestrale, annuale, biennale or nessuna.
- Alert: raised for notes, flagged answers, and urgent or overdue scadenze (see 'scan').`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MANUTENZIONI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded in the event log")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(scadenzeCmd())
	rootCmd.AddCommand(gruppiCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage manutenzioni.yml",
		Long:  "manutenzioni.yml holds the server settings, the checklist catalog with its answer options, and the alert sinks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default manutenzioni.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := overrides().Apply(cfg); err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "***"
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate manutenzioni.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := a.Close(ctx); err != nil {
					a.Logger.Warn("shutdown", zap.Error(err))
				}
			}()
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			addr := a.Config.Server.Addr
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			a.Logger.Info("serving manutenzioni API",
				zap.String("addr", addr),
				zap.String("base_path", a.Config.Server.BasePath),
				zap.Bool("auth", a.Config.Server.JWTSecret != ""))
			fmt.Printf("Serving Manutenzioni API on http://%s%s (Swagger UI at /docs, metrics at /metrics)\n", addr, a.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Count scadenze by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountByState(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Stato", "Scadenze"})
					for _, st := range []domain.State{domain.StateScheduled, domain.StateCompleted, domain.StateRescheduled} {
						tw.AppendRow(table.Row{st, counts[st]})
					}
				})
			})
		},
	}
}

func scadenzeCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:     "scadenze",
		Aliases: []string{"scadenza"},
		Short:   "Manage single scadenze",
	}
	sc.AddCommand(scadenzeListCmd())
	sc.AddCommand(scadenzeCreateCmd())
	sc.AddCommand(scadenzeCompleteCmd())
	sc.AddCommand(scadenzeCancelCmd())
	sc.AddCommand(scadenzeHistoryCmd())
	return sc
}

func scadenzeListCmd() *cobra.Command {
	var f repo.ScadenzaFilter
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scadenze",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.State = domain.State(state)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListScadenze(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Civico", "Asset", "Voce", "Scadenza", "Frequenza", "Stato"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Civico, s.AssetID, s.ChecklistItemID, s.DueDateString(), s.Recurrence, s.State})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "stato", "", "state filter (programmata, completata, riprogrammata)")
	cmd.Flags().StringVar(&f.Civico, "civico", "", "civico filter")
	cmd.Flags().StringVar(&f.AssetID, "asset", "", "asset filter")
	cmd.Flags().StringVar(&f.DueDate, "data", "", "due date filter (YYYY-MM-DD)")
	return cmd
}

func scadenzeCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a checklist item on an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateScadenza(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Scadenza", "Frequenza", "Preavviso"})
					tw.AppendRow(table.Row{s.ID, s.DueDateString(), s.Recurrence, s.LeadTimeDays})
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ChecklistItemID, "voce", "", "checklist item id")
	cmd.Flags().StringVar(&opts.Civico, "civico", "", "civico")
	cmd.Flags().StringVar(&opts.AssetID, "asset", "", "asset id")
	cmd.Flags().StringVar(&opts.AssetType, "asset-tipo", "", "asset type (defaults to the item's)")
	cmd.Flags().StringVar(&opts.DueDate, "data", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Recurrence, "frequenza", "nessuna", "recurrence")
	cmd.Flags().IntVar(&opts.LeadTimeDays, "preavviso", 0, "lead time in days")
	_ = cmd.MarkFlagRequired("voce")
	_ = cmd.MarkFlagRequired("civico")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func scadenzeCompleteCmd() *cobra.Command {
	var opts engine.CompleteOptions
	var checks []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete one scadenza",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ScadenzaID = args[0]
			entries, err := parseChecks(checks)
			if err != nil {
				return err
			}
			opts.Checklist = entries
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CompleteScadenza(ctx, opts)
				if err != nil {
					return err
				}
				return printCompletion(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Operator, "operatore", "", "operator who did the work")
	cmd.Flags().StringVar(&opts.Notes, "note", "", "notes (raise an alert)")
	cmd.Flags().StringArrayVar(&checks, "check", nil, "checklist answer as CODICE=ESITO (repeatable)")
	return cmd
}

func scadenzeCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Delete an open scadenza",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CancelScadenza(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"eliminate": []string{s.ID}})
				}
				fmt.Println("cancelled", s.ID)
				return nil
			})
		},
	}
}

func scadenzeHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show execution records of a scadenza",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Eseguita", "Operatore", "Esito", "Eseguito", "Note"})
					for _, r := range items {
						tw.AppendRow(table.Row{r.ExecutedAt, r.Operator, r.Answer, r.Done, r.Notes})
					}
				})
			})
		},
	}
}

func gruppiCmd() *cobra.Command {
	g := &cobra.Command{
		Use:     "gruppi",
		Aliases: []string{"gruppo"},
		Short:   "Work with grouped scadenze",
	}
	g.AddCommand(gruppiListCmd())
	g.AddCommand(gruppiCompleteCmd())
	g.AddCommand(gruppiCancelCmd())
	return g
}

func gruppiListCmd() *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open groups by due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := referenceDate(e, today)
				if err != nil {
					return err
				}
				groups, err := e.ListGroups(ctx, domain.StateScheduled, ref)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Civico", "Asset", "Scadenza", "Nome", "Voci", "Giorni", "Stato"})
				for _, g := range groups {
					tw.AppendRow(table.Row{g.Key.Civico, g.Key.AssetID, g.Key.DueDate, g.Name, len(g.Members), g.DaysRemaining, g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&today, "oggi", "", "reference date (YYYY-MM-DD), defaults to today")
	return cmd
}

func gruppiCompleteCmd() *cobra.Command {
	var civico, asset, due, operator, notes string
	var checks []string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete every open scadenza of a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parseChecks(checks)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.FormForGroup(ctx, civico, asset, due)
				if err != nil {
					return err
				}
				members := make([]engine.GroupMember, 0, len(rows))
				for _, r := range rows {
					members = append(members, engine.GroupMember{ScadenzaID: r.ScadenzaID})
				}
				res, err := e.CompleteGroup(ctx, engine.GroupCompleteOptions{
					Members:   members,
					Operator:  operator,
					Notes:     notes,
					Checklist: entries,
				})
				if err != nil {
					return err
				}
				return printCompletion(res)
			})
		},
	}
	cmd.Flags().StringVar(&civico, "civico", "", "civico")
	cmd.Flags().StringVar(&asset, "asset", "", "asset id")
	cmd.Flags().StringVar(&due, "data", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&operator, "operatore", "", "operator who did the work")
	cmd.Flags().StringVar(&notes, "note", "", "group notes (raise one alert)")
	cmd.Flags().StringArrayVar(&checks, "check", nil, "checklist answer as CODICE=ESITO (repeatable)")
	return cmd
}

func gruppiCancelCmd() *cobra.Command {
	var civico, asset, due string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Delete every open scadenza of a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				removed, err := e.CancelGroup(ctx, civico, asset, due, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(removed))
				for _, s := range removed {
					ids = append(ids, s.ID)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"eliminate": ids})
				}
				fmt.Printf("cancelled %d scadenze\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&civico, "civico", "", "civico")
	cmd.Flags().StringVar(&asset, "asset", "", "asset id")
	cmd.Flags().StringVar(&due, "data", "", "due date (YYYY-MM-DD)")
	return cmd
}

func scanCmd() *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Raise urgent and overdue alerts once per scadenza",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := referenceDate(e, today)
				if err != nil {
					return err
				}
				n, err := e.ScanAlerts(ctx, ref)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"alert_generati": n})
				}
				fmt.Printf("%d alert raised\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&today, "oggi", "", "reference date (YYYY-MM-DD), defaults to today")
	return cmd
}

func checklistCmd() *cobra.Command {
	var assetType string
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "List checklist items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ChecklistItems(ctx, assetType)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Asset", "Codice", "Voce", "Obbligatoria"})
					for _, it := range items {
						tw.AppendRow(table.Row{it.ID, it.AssetType, it.Code, it.Name, it.Required})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&assetType, "asset-tipo", "", "asset type filter")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
					for _, ev := range events {
						tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (scadenza, gruppo)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{
		Addr:      viper.GetString("addr"),
		BasePath:  viper.GetString("base-path"),
		JWTSecret: viper.GetString("jwt-secret"),
		LogLevel:  viper.GetString("log-level"),
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), overrides())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a.Engine)
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// parseChecks reads CODICE=ESITO pairs; a bare value answers a single-item
// checklist.
func parseChecks(raw []string) ([]engine.ChecklistEntry, error) {
	out := make([]engine.ChecklistEntry, 0, len(raw))
	for _, r := range raw {
		code, answer, ok := strings.Cut(r, "=")
		if !ok {
			if len(raw) > 1 {
				return nil, fmt.Errorf("--check %q: expected CODICE=ESITO", r)
			}
			code, answer = "", r
		}
		out = append(out, engine.ChecklistEntry{Code: strings.TrimSpace(code), Answer: strings.TrimSpace(answer)})
	}
	return out, nil
}

func referenceDate(e engine.Engine, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return e.Today(), nil
	}
	return engine.ParseDate(v)
}

func printCompletion(res engine.CompletionResult) error {
	return printJSONOrTable(res, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Scadenza", "Stato", "Successiva", "Esito"})
		for _, c := range res.Completions {
			next := ""
			if c.Successor != nil {
				next = c.Successor.DueDateString()
			}
			tw.AppendRow(table.Row{c.Scadenza.ID, c.Scadenza.State, next, c.Execution.Answer})
		}
		for _, a := range res.Alerts {
			tw.AppendFooter(table.Row{"alert", a.Kind, a.Severity, a.Message})
		}
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any, fill func(table.Writer)) error {
	if viper.GetBool("json") || fill == nil {
		return printJSON(v)
	}
	tw := newTable()
	fill(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
