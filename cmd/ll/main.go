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

	"leadline/internal/app"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/engine"
	"leadline/internal/repo"
	"leadline/internal/server"
	"leadline/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Leadline CLI",
	Long: `Leadline tracks sales leads through a pipeline with scoring and escalation.
- Contacts move new -> contacted -> qualified -> proposal -> negotiation -> won/lost.
- Every interaction is logged append-only and feeds the priority score.
- The escalation sweep flags stale contacts, notifies hot leads and marks
  overdue tasks; it runs under a lease so only one sweep runs at a time.
- Campaign opens and clicks are recorded via the tracking pixel endpoint.`,
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
	viper.SetEnvPrefix("LEADLINE")
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
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func contactCmd() *cobra.Command {
	c := &cobra.Command{Use: "contact", Short: "Manage contacts"}
	c.AddCommand(contactAddCmd())
	c.AddCommand(contactListCmd())
	c.AddCommand(contactShowCmd())
	c.AddCommand(contactMoveCmd())
	c.AddCommand(contactLogCmd())
	return c
}

func contactAddCmd() *cobra.Command {
	var name, source, agent string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateContact(ctx, engine.ContactCreateOptions{
					Name:          name,
					Source:        source,
					AssignedAgent: agent,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contact name")
	cmd.Flags().StringVar(&source, "source", "", "lead source (referral, website, ...)")
	cmd.Flags().StringVar(&agent, "agent", "", "assigned agent")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func contactListCmd() *cobra.Command {
	var stage, source, agent string
	var active bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContacts(ctx, repo.ContactFilters{
					Stage:         stage,
					Source:        source,
					AssignedAgent: agent,
					ActiveOnly:    active,
					Limit:         limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Score", "Source", "Agent", "Last Touch"})
				for _, c := range items {
					agent := ""
					if c.AssignedAgent != nil {
						agent = *c.AssignedAgent
					}
					last := ""
					if c.LastInteractionAt != nil {
						last = *c.LastInteractionAt
					}
					tw.AppendRow(table.Row{c.ID, c.Name, c.Stage, fmt.Sprintf("%.1f", c.Score), c.Source, agent, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&source, "source", "", "source filter")
	cmd.Flags().StringVar(&agent, "agent", "", "agent filter")
	cmd.Flags().BoolVar(&active, "active", false, "exclude won and lost")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func contactShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <contact-id>",
		Short: "Show a contact with its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTimeline(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func contactMoveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "move <contact-id> <stage>",
		Short: "Move a contact to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.MoveToStage(ctx, engine.MoveOptions{
					ContactID:   args[0],
					ToStage:     args[1],
					LostReason:  reason,
					PerformedBy: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "lost reason, required when moving to lost")
	return cmd
}

func contactLogCmd() *cobra.Command {
	var kind, payload, occurredAt string
	cmd := &cobra.Command{
		Use:   "log <contact-id>",
		Short: "Log an interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var occurred time.Time
			if occurredAt != "" {
				var err error
				occurred, err = time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.AddInteraction(ctx, engine.InteractionOptions{
					ContactID:  args[0],
					Type:       kind,
					Payload:    payload,
					OccurredAt: occurred,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "interaction type (call, email, whatsapp, meeting, note)")
	cmd.Flags().StringVar(&payload, "note", "", "free-form payload")
	cmd.Flags().StringVar(&occurredAt, "at", "", "when it happened, RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func taskCmd() *cobra.Command {
	c := &cobra.Command{Use: "task", Short: "Manage follow-up tasks"}
	c.AddCommand(taskAddCmd())
	c.AddCommand(taskListCmd())
	c.AddCommand(taskDoneCmd())
	return c
}

func taskAddCmd() *cobra.Command {
	var title, contactID, assignedTo, priority, due string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var dueAt time.Time
			if due != "" {
				var err error
				dueAt, err = time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("--due must be RFC 3339: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					Title:      title,
					ContactID:  contactID,
					AssignedTo: assignedTo,
					Priority:   priority,
					DueDate:    dueAt,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().StringVar(&assignedTo, "assignee", "", "agent id")
	cmd.Flags().StringVar(&priority, "priority", "normal", "low, normal or high")
	cmd.Flags().StringVar(&due, "due", "", "due date, RFC 3339")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var contactID, assignedTo, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					ContactID:  contactID,
					AssignedTo: assignedTo,
					Status:     status,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
				for _, t := range items {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedTo, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contactID, "contact", "", "contact filter")
	cmd.Flags().StringVar(&assignedTo, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&status, "status", "", "pending, done or overdue")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func scoreCmd() *cobra.Command {
	c := &cobra.Command{Use: "score", Short: "Scoring and predictions"}
	c.AddCommand(scoreShowCmd())
	c.AddCommand(scoreBatchCmd())
	c.AddCommand(scorePredictCmd())
	c.AddCommand(scoreScriptCmd())
	c.AddCommand(scoreTopCmd())
	return c
}

func scoreScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script <contact-id>",
		Short: "Suggest a call script for a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.BuildCallScript(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Println(s.Opening)
				for _, p := range s.TalkingPoints {
					fmt.Println("  - " + p)
				}
				fmt.Println(s.Closing)
				return nil
			})
		},
	}
	return cmd
}

func scoreShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <contact-id>",
		Short: "Compute a contact's priority score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CalculateScore(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func scoreBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Recalculate scores for every active contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.BatchRecalculateScores(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func scorePredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <contact-id>",
		Short: "Predict a contact's close probability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.PredictScore(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func scoreTopCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank active contacts by close probability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.TopPredictions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Contact", "Probability", "Low Confidence"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ContactID, fmt.Sprintf("%.2f", p.Probability), p.LowConfidence})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max rows")
	return cmd
}

func pipelineCmd() *cobra.Command {
	c := &cobra.Command{Use: "pipeline", Short: "Pipeline views"}
	c.AddCommand(pipelineBoardCmd())
	c.AddCommand(pipelineMetricsCmd())
	return c
}

func pipelineBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Kanban board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cols, err := e.KanbanSnapshot(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				for _, col := range cols {
					fmt.Printf("%s (%d)\n", strings.ToUpper(col.Stage), len(col.Contacts))
					for _, c := range col.Contacts {
						fmt.Printf("  %-36s %-24s %.1f\n", c.ID, c.Name, c.Score)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func pipelineMetricsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Funnel conversion and velocity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if to == "" {
					to = time.Now().UTC().Format(time.RFC3339)
				}
				if from == "" {
					from = time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339)
				}
				report, err := e.PipelineMetrics(ctx, from, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC 3339")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC 3339")
	return cmd
}

func escalateCmd() *cobra.Command {
	c := &cobra.Command{Use: "escalate", Short: "Escalation sweep"}
	c.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one escalation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunEscalationCycle(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})
	return c
}

func campaignCmd() *cobra.Command {
	c := &cobra.Command{Use: "campaign", Short: "Campaign tracking"}
	c.AddCommand(&cobra.Command{
		Use:   "stats <campaign-id>",
		Short: "Show open/click counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.GetCampaignStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	})
	return c
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage leadline.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default leadline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Audit event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(app.Options{
				Workspace:   viper.GetString("workspace"),
				Environment: os.Getenv("LEADLINE_ENV"),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("LEADLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LEADLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Logger:   a.Log,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go a.Recompute.Run(ctx)
			interval := sweepInterval
			if !cmd.Flags().Changed("sweep-interval") && a.Config.Escalation.IntervalMinutes > 0 {
				interval = time.Duration(a.Config.Escalation.IntervalMinutes) * time.Minute
			}
			if interval > 0 {
				go worker.NewScheduler(a.Engine, a.Log, interval).Run(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Leadline API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "escalation sweep interval, 0 disables")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Open(app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
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
