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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportline/internal/bridge"
	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/orchestrator"
	"reportline/internal/roster"
	"reportline/internal/server"
	"reportline/internal/session"
	"reportline/internal/store"
	reportlinesdk "reportline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Reportline CLI",
	Long: `Reportline runs player reports through a staged intake and keeps them in
sync with a Discord review channel.
- Workspace: your .reportline directory holding the report snapshot and the
  roster/event database; reportline.yml next to it configures everything.
- Intake: reporting happens in steps (violator -> reason -> comment ->
  confirm); a cancel keyword or the intake timeout discards the session.
- Reports: confirmed intakes become Pending reports with REP-style ids;
  moderators approve, reject, call for check, or comment from Discord.
- Serve: 'rl serve' runs the daemon that owns the store and the bridge;
  the report commands talk to it over the HTTP API.
- Event log: diary of sessions and reviews, view with 'rl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := roster.EnsureWorkspace(workspace); err != nil {
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
	viper.SetEnvPrefix("REPORTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor display name")
	rootCmd.PersistentFlags().String("base-url", "http://127.0.0.1:8787/v0", "daemon API base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key for daemon requests")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the report daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			jwtSecret := cfg.Server.JWTSecret
			if jwtSecret == "" {
				jwtSecret = viper.GetString("jwt-secret")
			}
			if jwtSecret == "" {
				return fmt.Errorf("server.jwt-secret (or REPORTLINE_JWT_SECRET) is required for bearer auth")
			}

			conn, err := roster.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := roster.Migrate(conn); err != nil {
				return err
			}
			ros := roster.Roster{DB: conn}
			st, err := store.Open(store.Path(workspace))
			if err != nil {
				return err
			}
			writer := events.Writer{DB: conn}
			registry := session.NewRegistry(ros, cfg.FormTimeoutDuration(), cfg.Reports.CancelKeywords)
			orch := orchestrator.New(orchestrator.Options{
				Config:     cfg,
				Store:      st,
				Sessions:   registry,
				Identities: ros,
				Events:     &writer,
			})

			var br *bridge.Bridge
			if cfg.Discord.Enabled {
				br, err = bridge.New(bridge.Config{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID}, st, orch)
				if err != nil {
					return err
				}
				orch.SetBridge(br)
			}
			orch.Start()
			if br != nil {
				if err := br.Start(); err != nil {
					log.Printf("serve: discord connect: %v (reports stay local until it recovers)", err)
				}
			}

			handler, err := server.New(server.Config{
				Orchestrator: orch,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: jwtSecret, Roster: &ros},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for range hup {
					next, err := config.LoadOptional(workspace)
					if err != nil {
						log.Printf("serve: reload config: %v", err)
						continue
					}
					if err := next.Validate(); err != nil {
						log.Printf("serve: reload config: %v", err)
						continue
					}
					rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := orch.Reload(rctx, next); err != nil {
						log.Printf("serve: reload config: %v", err)
					}
					cancel()
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			fmt.Printf("Serving Reportline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := orch.Shutdown(sctx); err != nil {
				log.Printf("serve: shutdown flush: %v", err)
			}
			if br != nil {
				br.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config server.base-path)")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Drive a report intake against the daemon",
		Long:  "Intake runs in steps: begin, then feed inputs (violator name, reason, comment), then confirm or deny. Typing a cancel keyword as input also discards the session.",
	}
	rep.AddCommand(reportBeginCmd())
	rep.AddCommand(reportInputCmd())
	rep.AddCommand(reportConfirmCmd())
	rep.AddCommand(reportDenyCmd())
	rep.AddCommand(reportCancelCmd())
	return rep
}

func reportBeginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Start an intake session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := apiClient().StartIntake(cmd.Context(), viper.GetString("actor"))
			if err != nil {
				return err
			}
			return printJSONOrTable(sess)
		},
	}
	return cmd
}

func reportInputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "input <text>",
		Short: "Submit one intake input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			effect, err := apiClient().SubmitInput(cmd.Context(), viper.GetString("actor"), text)
			if err != nil {
				return err
			}
			return printJSONOrTable(effect)
		},
	}
	return cmd
}

func reportConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Accept the completed intake and file the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient().Confirm(cmd.Context(), viper.GetString("actor"), true)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if res.Created && res.Report != nil {
				fmt.Printf("Report %s filed against %s\n", res.Report.ID, res.Report.ViolatorName)
			}
			return nil
		},
	}
	return cmd
}

func reportDenyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deny",
		Short: "Discard the completed intake at the confirmation step",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient().Confirm(cmd.Context(), viper.GetString("actor"), false)
			if err != nil {
				return err
			}
			return printJSONOrTable(res)
		},
	}
	return cmd
}

func reportCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the intake session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient().Cancel(cmd.Context(), viper.GetString("actor"))
		},
	}
	return cmd
}

func reportsCmd() *cobra.Command {
	rep := &cobra.Command{Use: "reports", Short: "Inspect stored reports"}
	rep.AddCommand(reportsListCmd())
	rep.AddCommand(reportsShowCmd())
	return rep
}

func reportsListCmd() *cobra.Command {
	var actorName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports from the workspace snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			st, err := store.Open(store.Path(workspace))
			if err != nil {
				return err
			}
			items := st.All()
			if actorName != "" {
				err := withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
					actor, err := r.Resolve(ctx, actorName)
					if err != nil {
						return err
					}
					items = st.ListByReporter(actor.ID)
					return nil
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Reporter", "Violator", "Reason", "Status", "Created"})
			for _, r := range items {
				tw.AppendRow(table.Row{r.ID, r.Reporter.Name, r.ViolatorName, r.Reason, r.Status, r.CreatedAt.Format(time.RFC3339)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&actorName, "actor", "", "filter by reporter name")
	return cmd
}

func reportsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			st, err := store.Open(store.Path(workspace))
			if err != nil {
				return err
			}
			r, err := st.Get(args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(r)
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	var actorName string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			st, err := store.Open(store.Path(workspace))
			if err != nil {
				return err
			}
			reporterID := ""
			if actorName != "" {
				err := withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
					actor, err := r.Resolve(ctx, actorName)
					if err != nil {
						return err
					}
					reporterID = actor.ID
					return nil
				})
				if err != nil {
					return err
				}
			}
			counts := st.CountByStatus(reporterID)
			if viper.GetBool("json") {
				return printJSON(counts)
			}
			total := 0
			for _, status := range domain.Statuses() {
				fmt.Printf("%s: %d\n", status, counts[status])
				total += counts[status]
			}
			fmt.Printf("total: %d\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorName, "actor", "", "scope counts to one reporter")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: sessions opened and cancelled, reports filed, reviews applied.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
				writer := events.Writer{DB: r.DB}
				items, err := writer.Tail(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func rosterCmd() *cobra.Command {
	ros := &cobra.Command{
		Use:   "roster",
		Short: "Manage known actors",
		Long:  "The roster maps display names to stable identities. Violator names are validated against it and API keys are bound to its entries.",
	}
	ros.AddCommand(rosterAddCmd())
	ros.AddCommand(rosterListCmd())
	return ros
}

func rosterAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Enroll an actor (or refresh last-seen)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
				actor, err := r.Touch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(actor)
			})
		},
	}
	return cmd
}

func rosterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
				actors, err := r.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Last seen"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Name, a.LastSeenAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorName, keyName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorName == "" {
				return fmt.Errorf("--actor-name required")
			}
			return withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
				actor, err := r.Touch(ctx, actorName)
				if err != nil {
					return err
				}
				plaintext := uuid.NewString()
				key := roster.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor.ID,
					Name:    keyName,
					KeyHash: roster.HashAPIKey(plaintext),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor.ID, "key": plaintext})
				}
				fmt.Printf("API key for %s (shown once):\n%s\n", actor.Name, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorName, "actor-name", "", "actor display name")
	cmd.Flags().StringVar(&keyName, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor-name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoster(cmd.Context(), func(ctx context.Context, r roster.Roster) error {
				actorID := ""
				if actorName != "" {
					actor, err := r.Resolve(ctx, actorName)
					if err != nil {
						return err
					}
					actorID = actor.ID
				}
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorName, "actor-name", "", "filter by actor name")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook (reportline.yml): intake limits and timeout, cancel keywords, the Discord bridge, and the HTTP server.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default reportline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

// --- helpers ---

func apiClient() *reportlinesdk.Client {
	c := reportlinesdk.New(viper.GetString("base-url"))
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	return c
}

func withRoster(ctx context.Context, fn func(context.Context, roster.Roster) error) error {
	workspace := viper.GetString("workspace")
	conn, err := roster.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := roster.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, roster.Roster{DB: conn})
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
