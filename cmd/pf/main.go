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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planifica/internal/app"
	"planifica/internal/config"
	"planifica/internal/db"
	"planifica/internal/domain"
	"planifica/internal/engine"
	"planifica/internal/migrate"
	"planifica/internal/repo"
	"planifica/internal/server"
	"planifica/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "Planifica CLI",
	Long: `Planifica validates monthly family-planning records and tracks coverage
against annual goals.
- Workspace: your .planifica directory with the database; planifica.yml
  holds thresholds, territories, and sync targets.
- Records: monthly per-method tallies submitted by field workers; they move
  pending -> in_review -> approved/rejected, with every step logged.
- Goals: annual targets per method and per community, set by managers and
  coordinators.
- Dashboard: coverage, compliance tiers, rankings, and trends scoped to
  what your role may see.
- Event log: diary of changes, view with 'pf log tail'.`,
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
	viper.SetEnvPrefix("PLANIFICA")
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
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace with database and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			fmt.Printf("workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage actors"}
	cmd.AddCommand(actorAddCmd())
	cmd.AddCommand(actorListCmd())
	return cmd
}

func actorAddCmd() *cobra.Command {
	var id, name, role, community, territory string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidRoles[domain.Role(role)] {
				return fmt.Errorf("invalid role %q (field_worker, supervisor, manager, coordinator)", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a := domain.Actor{
					ID:          id,
					DisplayName: name,
					Role:        domain.Role(role),
					Community:   community,
					Territory:   territory,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if a.ID == "" {
					a.ID = uuid.New().String()
				}
				if err := r.InsertActor(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "field_worker, supervisor, manager, coordinator")
	cmd.Flags().StringVar(&community, "community", "", "home community")
	cmd.Flags().StringVar(&territory, "territory", "", "home territory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActors(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Community", "Territory"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.DisplayName, a.Role, a.Community, a.Territory})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Monthly records"}
	cmd.AddCommand(recordSubmitCmd())
	cmd.AddCommand(recordListCmd())
	cmd.AddCommand(recordShowCmd())
	cmd.AddCommand(recordTransitionCmd())
	cmd.AddCommand(recordVerifyCmd())
	return cmd
}

func recordVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <record-id>",
		Short: "Check that the cached state matches the transition log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.VerifyReplay(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("ok: cached state matches replay")
				return nil
			})
		},
	}
}

func recordSubmitCmd() *cobra.Command {
	var community, period, tallyJSON string
	var total int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a monthly record",
		Long:  `Tally is a JSON object of method code to count, e.g. '{"iny_mensual":4,"pildoras":2,"diu":1}'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tally domain.Tally
			if err := json.Unmarshal([]byte(tallyJSON), &tally); err != nil {
				return fmt.Errorf("invalid --tally: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.SubmitOptions{
					ActorID:   viper.GetString("actor-id"),
					Community: community,
					Period:    period,
					Tally:     tally,
				}
				if cmd.Flags().Changed("total") {
					opts.DeclaredTotal = &total
				}
				rec, err := e.SubmitRecord(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&community, "community", "", "community name")
	cmd.Flags().StringVar(&period, "period", "", "period YYYY-MM")
	cmd.Flags().StringVar(&tallyJSON, "tally", "{}", "tally JSON")
	cmd.Flags().IntVar(&total, "total", 0, "declared total (checked against tally sum)")
	_ = cmd.MarkFlagRequired("community")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func recordListCmd() *cobra.Command {
	var f repo.RecordFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRecords(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Community", "Period", "Total", "State", "Owner"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, rec.Community, rec.Period, rec.Total, rec.State, rec.OwnerActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerActorID, "owner", "", "owner actor id")
	cmd.Flags().StringVar(&f.Community, "community", "", "community filter")
	cmd.Flags().StringVar(&f.Period, "period", "", "period filter")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func recordShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show a record with its transition log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetRecord(ctx, args[0])
				if err != nil {
					return err
				}
				log, err := r.ListTransitions(ctx, rec.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"record": rec, "transitions": log})
			})
		},
	}
	return cmd
}

func recordTransitionCmd() *cobra.Command {
	var event, comment string
	cmd := &cobra.Command{
		Use:   "transition <record-id>",
		Short: "Apply a review transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TransitionOptions{
					ActorID:  viper.GetString("actor-id"),
					RecordID: args[0],
					Event:    domain.TransitionEvent(event),
				}
				if comment != "" {
					opts.Comment = &comment
				}
				rec, err := e.TransitionRecord(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "start_review, approve, reject, request_revision")
	cmd.Flags().StringVar(&comment, "comment", "", "reviewer comment (required for reject and request_revision)")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Annual goals"}
	cmd.AddCommand(goalSetMethodCmd())
	cmd.AddCommand(goalSetCommunityCmd())
	cmd.AddCommand(goalListCmd())
	return cmd
}

func goalSetMethodCmd() *cobra.Command {
	var method string
	var year, target int
	cmd := &cobra.Command{
		Use:   "set-method",
		Short: "Set the annual target for a contraceptive method",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.SetMethodGoal(ctx, viper.GetString("actor-id"), domain.Method(method), year, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "method code")
	cmd.Flags().IntVar(&year, "year", time.Now().UTC().Year(), "goal year")
	cmd.Flags().IntVar(&target, "target", 0, "annual target")
	_ = cmd.MarkFlagRequired("method")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func goalSetCommunityCmd() *cobra.Command {
	var community string
	var year, target, mef int
	cmd := &cobra.Command{
		Use:   "set-community",
		Short: "Set the annual target for a community",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.SetCommunityGoal(ctx, viper.GetString("actor-id"), community, year, target, mef)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&community, "community", "", "community name")
	cmd.Flags().IntVar(&year, "year", time.Now().UTC().Year(), "goal year")
	cmd.Flags().IntVar(&target, "target", 0, "annual target")
	cmd.Flags().IntVar(&mef, "mef", 0, "MEF population")
	_ = cmd.MarkFlagRequired("community")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func goalListCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals for a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				methods, err := e.Repo.ListMethodGoals(cmd.Context(), year)
				if err != nil {
					return err
				}
				communities, err := e.Repo.ListCommunityGoals(cmd.Context(), year)
				if err != nil {
					return err
				}
				total, err := e.TotalAnnualTarget(cmd.Context(), year)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"year":                year,
					"methods":             methods,
					"communities":         communities,
					"total_annual_target": total,
				})
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().UTC().Year(), "goal year")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var scopeKind, scopeID string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Scoped coverage dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := workflow.New(e)
				d, err := c.GetDashboard(ctx, viper.GetString("actor-id"), workflow.Scope{
					Kind: workflow.ScopeKind(scopeKind),
					ID:   scopeID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Community", "Recorded", "Provisional", "Target", "Pct", "Tier"})
				for _, cv := range d.Communities {
					tw.AppendRow(table.Row{cv.Community, cv.Recorded, cv.Provisional, cv.Target,
						fmt.Sprintf("%.1f%%", cv.Pct), cv.Tier})
				}
				tw.Render()
				fmt.Printf("overall: %d/%d (%.1f%%, %s), %d pending review\n",
					d.Recorded, d.Target, d.Pct, d.Tier, d.PendingReview)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeKind, "scope", "", "self, community, territory, municipality (default per role)")
	cmd.Flags().StringVar(&scopeID, "scope-id", "", "community or territory name")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, transitions, goal changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name, actorID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the secret once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetActor(ctx, actorID); err != nil {
					return fmt.Errorf("actor %s: %w", actorID, err)
				}
				secret := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":     key.ID,
					"actor":  key.ActorID,
					"secret": secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
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
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PLANIFICA_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PLANIFICA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planifica API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "seed", Short: "Seed data"}
	cmd.AddCommand(seedDemoCmd())
	return cmd
}

func seedDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed demo actors, goals, and records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return seedDemo(ctx, e)
			})
		},
	}
	return cmd
}

func seedDemo(ctx context.Context, e engine.Engine) error {
	now := time.Now().UTC()
	year := now.Year()
	period := domain.FormatPeriod(now)

	actors := []domain.Actor{
		{ID: "coordinador-demo", DisplayName: "Coordinadora Regional", Role: domain.RoleCoordinator},
		{ID: "encargado-demo", DisplayName: "Encargado Municipal", Role: domain.RoleManager, Community: "San Pedro Necta"},
		{ID: "asistente-demo", DisplayName: "Asistente Técnico", Role: domain.RoleSupervisor, Territory: "norte"},
		{ID: "auxiliar-demo", DisplayName: "Auxiliar de Enfermería", Role: domain.RoleFieldWorker, Community: "San Pedro Necta"},
	}
	for _, a := range actors {
		a.CreatedAt = now.Format(time.RFC3339)
		if err := e.Repo.InsertActor(ctx, a); err != nil {
			return fmt.Errorf("insert actor %s: %w", a.ID, err)
		}
	}

	coordinator := "coordinador-demo"
	methodTargets := map[domain.Method]int{
		domain.MethodInyMensual:        300,
		domain.MethodInyBimensual:      250,
		domain.MethodInyTrimestral:     300,
		domain.MethodPildoras:          350,
		domain.MethodPildoraEmergencia: 70,
		domain.MethodDIU:               180,
		domain.MethodImplante:          140,
		domain.MethodCondonMasculino:   130,
		domain.MethodCondonFemenino:    50,
		domain.MethodMELA:              50,
		domain.MethodCollarCiclo:       40,
		domain.MethodAQVFemenina:       150,
		domain.MethodAQVMasculina:      90,
	}
	for method, target := range methodTargets {
		if _, err := e.SetMethodGoal(ctx, coordinator, method, year, target); err != nil {
			return fmt.Errorf("seed method goal %s: %w", method, err)
		}
	}

	communityGoals := []struct {
		community string
		target    int
		mef       int
	}{
		{"San Pedro Necta", 350, 1200},
		{"Todos Santos", 280, 980},
		{"Santa Bárbara", 220, 750},
		{"La Democracia", 190, 650},
	}
	for _, g := range communityGoals {
		if _, err := e.SetCommunityGoal(ctx, coordinator, g.community, year, g.target, g.mef); err != nil {
			return fmt.Errorf("seed community goal %s: %w", g.community, err)
		}
	}

	rec, err := e.SubmitRecord(ctx, engine.SubmitOptions{
		ActorID:   "auxiliar-demo",
		Community: "San Pedro Necta",
		Period:    period,
		Tally: domain.Tally{
			domain.MethodInyMensual: 4,
			domain.MethodPildoras:   2,
			domain.MethodDIU:        1,
		},
	})
	if err != nil {
		return fmt.Errorf("seed record: %w", err)
	}
	if _, err := e.TransitionRecord(ctx, engine.TransitionOptions{
		ActorID:  "asistente-demo",
		RecordID: rec.ID,
		Event:    domain.EventStartReview,
	}); err != nil {
		return fmt.Errorf("seed review: %w", err)
	}
	if _, err := e.TransitionRecord(ctx, engine.TransitionOptions{
		ActorID:  "asistente-demo",
		RecordID: rec.ID,
		Event:    domain.EventApprove,
	}); err != nil {
		return fmt.Errorf("seed approve: %w", err)
	}

	fmt.Println("demo data seeded: 4 actors, 13 method goals, 4 community goals, 1 approved record")
	return nil
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
