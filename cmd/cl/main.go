package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coachline/internal/app"
	"coachline/internal/config"
	"coachline/internal/domain"
	"coachline/internal/engine"
	"coachline/internal/ratelimit"
	"coachline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Coachline CLI",
	Long: `Coachline runs coaching assessments and turns their results into guidance.
- Workspace: the .coachline directory holding the database; quiz, stage and SOP content lives in coachline.yml and is imported explicitly.
- Invites: single-use links a coach sends to a customer; the token is shown once and only its hash is stored.
- Attempts: one open attempt per invite; answers merge until the attempt is submitted.
- Stages: every customer sits in pre, mid or post coaching.
- SOPs: playbooks matched by rules over the customer's stage and tags, with per-stage fallbacks.
- Event log: every change is journaled, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := os.Stat(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COACHLINE")
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
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(coachCmd())
	rootCmd.AddCommand(customerCmd())
	rootCmd.AddCommand(inviteCmd())
	rootCmd.AddCommand(attemptCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(sopCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, write starter content and import it",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path, err := app.WriteDefaultContent(workspace, force)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				sum, err := ws.SyncContent(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"content": path, "imported": sum})
				}
				fmt.Printf("Wrote %s and imported %d quiz(zes), %d stage(s), %d SOP(s)\n", path, sum.Quizzes, sum.Stages, sum.SOPs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing content file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var skipSync bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.LoadRuntime()
			if err != nil {
				return err
			}
			if err := rt.Validate(); err != nil {
				return err
			}
			logger := log.New(os.Stderr, "coachline ", log.LstdFlags)
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if !skipSync {
					if _, err := ws.SyncContent(ctx, "system"); err != nil {
						return fmt.Errorf("sync content: %w", err)
					}
				}
				cfg := server.Config{
					Engine:   ws.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: rt.JWTSecret, AdminAPIKey: rt.AdminAPIKey, Logger: logger},
				}
				if rt.RedisURL != "" {
					limiter, err := ratelimit.NewRedisLimiter(rt.RedisURL, rt.InviteRateLimit, rt.InviteRateWin)
					if err != nil {
						return err
					}
					defer limiter.Close()
					cfg.Limiter = limiter
				} else {
					logger.Printf("COACHLINE_REDIS_URL not set; invite routes are not rate limited")
				}
				handler, err := server.New(cfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Printf("serving on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&skipSync, "no-sync", false, "do not import coachline.yml on start")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, ev := range evts {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Credentials for the HTTP API"}
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token <coach-id>",
		Short: "Sign a bearer token for a coach with COACHLINE_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.LoadRuntime()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetCoach(ctx, args[0]); err != nil {
					return fmt.Errorf("coach %s: %w", args[0], err)
				}
				tok, err := server.SignCoachToken(rt.JWTSecret, args[0], ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"coach_id": args[0], "token": tok})
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	cmd.AddCommand(token)
	return cmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printInvites(items []domain.Invite) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Customer", "Quiz", "Status", "Expires")
	for _, inv := range items {
		tw.AppendRow(table.Row{inv.ID, inv.CustomerID, inv.Quiz.Version + "/" + inv.Quiz.Track, inv.Status, deref(inv.ExpiresAt)})
	}
	tw.Render()
	return nil
}
