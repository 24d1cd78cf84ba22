package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rota/internal/catalog"
	"rota/internal/config"
	"rota/internal/db"
	"rota/internal/domain"
	"rota/internal/migrate"
	"rota/internal/repo"
	"rota/internal/server"
	"rota/internal/store"
	"rota/internal/uploads"
	"rota/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "rota",
	Short: "Rota do Licenciamento CLI",
	Long: `Rota do Licenciamento tracks environmental licensing cases from intake to issuance.
Core concepts:
- Workspace: your .rota directory holding only the SQLite database; settings live in rota.yml.
- Activity: the catalog entry for what is being licensed (laticínio, posto de combustível, ...),
  carrying the document checklist and intake questions.
- Process: one licensing case with a PROC-YYYY-NNN protocol, a status, deadlines, and history.
- Statuses: aberto -> em_analise -> pendencia/vistoria_agendada -> emitido/indeferido.
- Clocks: the agency has 30 days from intake; the applicant has 15 days to resolve a pendência.
- Traffic light: green/yellow/red against whichever clock is running, gray once terminal.
- Event log: diary of everything that happened, view with 'rota log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROTA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				fmt.Printf("%s already exists (use --force to overwrite)\n", cfgPath)
				return nil
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", db.Path(workspace), cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing rota.yml")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Browse the activity catalog",
	}
	act.AddCommand(activityListCmd())
	act.AddCommand(activityShowCmd())
	return act
}

func activityListCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List licensable activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			items := cat.List()
			if group != "" {
				var filtered []domain.Activity
				for _, a := range items {
					if strings.EqualFold(a.Group, group) {
						filtered = append(filtered, a)
					}
				}
				items = filtered
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Group", "Risk", "Docs"})
			for _, a := range items {
				tw.AppendRow(table.Row{a.ID, a.Name, a.Group, a.RiskLevel, len(a.RequiredDocuments)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "filter by group")
	return cmd
}

func activityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an activity with its checklist and questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			a, ok := cat.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown activity %q", args[0])
			}
			return printJSONOrTable(a)
		},
	}
	return cmd
}

func processCmd() *cobra.Command {
	proc := &cobra.Command{
		Use:   "process",
		Short: "Manage licensing processes",
		Long:  "Processes are the licensing cases. They get a sequential PROC-YYYY-NNN protocol, start aberto with a 30-day agency clock, and move through review until emitido or indeferido.",
	}
	proc.AddCommand(processCreateCmd())
	proc.AddCommand(processListCmd())
	proc.AddCommand(processShowCmd())
	proc.AddCommand(processStatusCmd())
	proc.AddCommand(processSubmitCmd())
	proc.AddCommand(processHistoryCmd())
	proc.AddCommand(processUrgencyCmd())
	proc.AddCommand(processAnswersCmd())
	return proc
}

func processCreateCmd() *cobra.Command {
	var in store.Intake
	var answers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a licensing process",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseKeyValues(answers)
			if err != nil {
				return err
			}
			in.Answers = parsed
			if in.ApplicantID == "" {
				in.ApplicantID = viper.GetString("actor-id")
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.Create(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ApplicantID, "applicant-id", "", "applicant id (defaults to --actor-id)")
	cmd.Flags().StringVar(&in.ApplicantName, "applicant-name", "", "applicant name")
	cmd.Flags().StringVar(&in.ActivityID, "activity", "", "activity id from the catalog")
	cmd.Flags().StringArrayVar(&answers, "answer", []string{}, "intake answer key=value (repeatable)")
	_ = cmd.MarkFlagRequired("applicant-name")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func processListCmd() *cobra.Command {
	var f repo.ProcessFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				items, err := s.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Protocol", "Applicant", "Activity", "Status", "Light", "Deadline"})
				for _, p := range items {
					deadline := ""
					if p.Status == domain.StatusPendencia && p.ApplicantDeadline != nil {
						deadline = *p.ApplicantDeadline
					} else if p.AgencyDeadline != nil {
						deadline = *p.AgencyDeadline
					}
					light := workflow.TrafficLightWarn(p, now, s.WarnDays)
					tw.AppendRow(table.Row{p.ID, p.ApplicantName, p.ActivityName, p.Status.Label(), light, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ApplicantID, "applicant-id", "", "applicant filter")
	cmd.Flags().StringVar(&f.ActivityID, "activity", "", "activity filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (0 for all)")
	return cmd
}

func processShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <protocol>",
		Short: "Show a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				printProcess(s, p)
				return nil
			})
		},
	}
	return cmd
}

func processStatusCmd() *cobra.Command {
	var status, note, issuanceCode string
	cmd := &cobra.Command{
		Use:   "status <protocol>",
		Short: "Move a process to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.TransitionStatus(ctx, args[0], domain.Status(status), viper.GetString("actor-id"), note, workflow.Extras{IssuanceCode: issuanceCode})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (em_analise, pendencia, vistoria_agendada, emitido, indeferido)")
	cmd.Flags().StringVar(&note, "note", "", "history note")
	cmd.Flags().StringVar(&issuanceCode, "issuance-code", "", "license code suffix used when issuing")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func processSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <protocol>",
		Short: "Send a process to review (requires the full checklist)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.SubmitForReview(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func processHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <protocol>",
		Short: "Show a process timeline, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				entries, err := s.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Action", "Actor", "Note"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Date, e.Action, e.Actor, e.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func processUrgencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urgency <protocol>",
		Short: "Show the traffic light for a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				now := time.Now()
				light := workflow.TrafficLightWarn(p, now, s.WarnDays)
				out := map[string]any{"process_id": p.ID, "light": light}
				if days, ok := workflow.DaysRemaining(p, now); ok {
					out["days_remaining"] = days
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if days, ok := workflow.DaysRemaining(p, now); ok {
					fmt.Printf("%s: %s (%d days remaining)\n", p.ID, light, days)
				} else {
					fmt.Printf("%s: %s\n", p.ID, light)
				}
				return nil
			})
		},
	}
	return cmd
}

func processAnswersCmd() *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "answers <protocol>",
		Short: "Set intake answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseKeyValues(answers)
			if err != nil {
				return err
			}
			if len(parsed) == 0 {
				return fmt.Errorf("--answer required")
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.SetAnswers(ctx, args[0], parsed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", []string{}, "answer key=value (repeatable)")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage the document checklist",
	}
	doc.AddCommand(docReceivedCmd())
	return doc
}

func docReceivedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "received <protocol> <doc-id>",
		Short: "Mark a checklist document as received",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				p, err := s.MarkDocumentReceived(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s: %s received (%d%% complete)\n", p.ID, args[1], s.Completeness(p))
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook in rota.yml: agency name, SLA clocks, warn threshold, catalog URL, and auth material for the API.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate rota.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
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
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: intakes, transitions, documents, and submissions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, processID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ *config.Config) error {
				events, err := s.Repo.LatestEvents(ctx, n, processID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&processID, "process", "", "protocol filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cat, err := loadCatalogWith(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			s := store.New(conn, cfg, cat)
			tracker := uploads.NewTracker(s)
			if secret := os.Getenv("ROTA_JWT_SECRET"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or ROTA_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Store:    s,
				Catalog:  cat,
				Tracker:  tracker,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Auth.JWTSecret,
					APIKeys:                cfg.Auth.APIKeys,
					Roles:                  cfg.Role,
					AllowLegacyActorHeader: viper.GetBool("allow-legacy-actor-header"),
				},
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
				tracker.Wait()
			}()
			fmt.Printf("Serving Rota API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from rota.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().Bool("allow-legacy-actor-header", false, "accept the deprecated X-Actor-Id header")
	_ = viper.BindPFlag("allow-legacy-actor-header", cmd.Flags().Lookup("allow-legacy-actor-header"))
	return cmd
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, store.Store, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cat, err := loadCatalogWith(ctx, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, store.New(conn, cfg, cat), cfg)
}

func loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	return loadCatalogWith(ctx, cfg)
}

func loadCatalogWith(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	var src *catalog.HTTPSource
	if cfg.Catalog.URL != "" {
		src = &catalog.HTTPSource{URL: cfg.Catalog.URL}
	}
	return catalog.Load(ctx, src)
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid answer %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printProcess(s store.Store, p domain.Process) {
	now := time.Now()
	fmt.Printf("%s  %s (%s)\n", p.ID, p.ApplicantName, p.ActivityName)
	fmt.Printf("Status: %s  Light: %s  Complete: %d%%\n", p.Status.Label(), workflow.TrafficLightWarn(p, now, s.WarnDays), s.Completeness(p))
	if p.AgencyDeadline != nil {
		fmt.Printf("Agency deadline: %s\n", *p.AgencyDeadline)
	}
	if p.ApplicantDeadline != nil {
		fmt.Printf("Applicant deadline: %s\n", *p.ApplicantDeadline)
	}
	if p.IssuanceCode != "" {
		fmt.Printf("License: %s\n", p.IssuanceCode)
	}
	fmt.Println("Documents:")
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Doc", "Received"})
	for docID, received := range p.Documents {
		tw.AppendRow(table.Row{docID, received})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
