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
	"go.uber.org/zap"

	"strategist/internal/app"
	"strategist/internal/config"
	"strategist/internal/db"
	"strategist/internal/directive"
	"strategist/internal/domain"
	"strategist/internal/migrate"
	"strategist/internal/repo"
	"strategist/internal/server"
	"strategist/internal/strategist"
)

var rootCmd = &cobra.Command{
	Use:   "cst",
	Short: "Career strategist CLI",
	Long: `cst watches a job search and decides when to intervene.
Core concepts:
- Workspace: your .strategist directory holding the database; config lives in the DB and is imported explicitly.
- Activity: applications, interviews, and skill verifications recorded as they happen.
- Patterns: statistically detected signals (skill gap clusters, declining scores, stalls, milestones).
- Directives: persisted instructions for other subsystems, with priorities, expiry, and an execution lifecycle.
- Runs: one full analysis pass (detect -> decide -> issue), recorded with everything it found.
- Event log: diary of every issued directive and detected signal, view with 'cst log tail'.`,
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
	viper.SetEnvPrefix("CST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("user", "", "user id (overrides config default)")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(directiveCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one analysis pass",
		Long:  "Detect patterns, decide on interventions, issue directives, sweep expiry, and record the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				res, err := o.Run(ctx, o.Config.User.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Run %s: %s\n", res.Run.ID, res.Run.Status)
				fmt.Printf("Patterns: %d  Decisions: %d  Directives issued: %d  Expired: %d\n",
					len(res.Patterns), len(res.Decisions), len(res.Directives), res.Expired)
				for _, p := range res.Patterns {
					fmt.Printf("  [%s] %s: %s\n", p.Severity, p.Type, p.Description)
				}
				for _, d := range res.Directives {
					fmt.Printf("  issued %s (%s, %s): %s\n", d.ID, d.Type, d.Priority, d.Title)
				}
				if res.Narrative.Summary != "" {
					fmt.Printf("Summary: %s\n", res.Narrative.Summary)
				}
				return nil
			})
		},
	}
	run.AddCommand(runHistoryCmd())
	return run
}

func runHistoryCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				runs, err := o.Repo.ListRuns(ctx, o.Config.User.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(runs)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show search status",
		Long:  "The scoreboard: open directives, velocity, stall state, and the last run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				userID := o.Config.User.ID
				active, err := o.Directives.GetActive(ctx, userID, directive.ActiveFilters{})
				if err != nil {
					return err
				}
				report, err := o.Velocity.GenerateReport(ctx, userID)
				if err != nil {
					return err
				}
				stall, err := o.Velocity.IsStalled(ctx, userID)
				if err != nil {
					return err
				}
				runs, err := o.Repo.ListRuns(ctx, userID, 1)
				if err != nil {
					return err
				}
				out := map[string]any{
					"user_id":          userID,
					"open_directives":  len(active),
					"velocity_overall": report.Overall,
					"velocity_score":   report.VelocityScore,
					"stalled":          stall.Stalled,
				}
				if len(runs) > 0 {
					out["last_run"] = runs[0]
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("User: %s\n", userID)
				fmt.Printf("Velocity: %s (%.0f)\n", report.Overall, report.VelocityScore)
				if stall.Stalled {
					fmt.Printf("Stalled: yes (%d days inactive)\n", stall.DaysInactive)
				} else {
					fmt.Println("Stalled: no")
				}
				fmt.Printf("Open directives: %d\n", len(active))
				for _, d := range active {
					fmt.Printf("  %s [%s/%s] %s\n", d.ID, d.Priority, d.Status, d.Title)
				}
				if len(runs) > 0 {
					fmt.Printf("Last run: %s (%s) at %s\n", runs[0].ID, runs[0].Status, runs[0].StartedAt)
				}
				return nil
			})
		},
	}
	return cmd
}

func directiveCmd() *cobra.Command {
	dir := &cobra.Command{
		Use:   "directive",
		Short: "Manage directives",
		Long:  "Directives are persisted instructions for other subsystems. They flow pending -> active -> completed/failed; issuing a new one supersedes the open one of the same type.",
	}
	dir.AddCommand(directiveListCmd())
	dir.AddCommand(directiveGetCmd())
	dir.AddCommand(directiveIssueCmd())
	dir.AddCommand(directiveCancelCmd())
	dir.AddCommand(directiveStartCmd())
	dir.AddCommand(directiveCompleteCmd())
	dir.AddCommand(directiveHistoryCmd())
	dir.AddCommand(directiveExpireCmd())
	return dir
}

func directiveListCmd() *cobra.Command {
	var f directive.ActiveFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active directives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				items, err := o.Directives.GetActive(ctx, o.Config.User.ID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Priority", "Status", "Title", "Expires"})
				for _, d := range items {
					expires := ""
					if d.ExpiresAt != nil {
						expires = *d.ExpiresAt
					}
					tw.AppendRow(table.Row{d.ID, d.Type, d.Priority, d.Status, d.Title, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.Target, "target", "", "target subsystem filter")
	cmd.Flags().StringVar(&f.MinPriority, "min-priority", "", "minimum priority (low, medium, high, critical)")
	return cmd
}

func directiveGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get directive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				d, err := o.Directives.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func directiveIssueCmd() *cobra.Command {
	var opts directive.IssueOptions
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue directive",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				if opts.UserID == "" {
					opts.UserID = o.Config.User.ID
				}
				d, err := o.Directives.Issue(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "user id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "directive type")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Reasoning, "reasoning", "", "reasoning")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target subsystem")
	cmd.Flags().StringVar(&opts.ActionRequired, "action-required", "", "action required")
	cmd.Flags().StringVar(&opts.ContextJSON, "context-json", "", "context JSON")
	cmd.Flags().StringVar(&opts.ExpiresAt, "expires-at", "", "expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func directiveCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel directive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				d, err := o.Directives.Cancel(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func directiveStartCmd() *cobra.Command {
	var executedBy string
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start directive execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				if executedBy == "" {
					executedBy = viper.GetString("actor-id")
				}
				log, err := o.Directives.StartExecution(ctx, args[0], executedBy)
				if err != nil {
					return err
				}
				return printJSONOrTable(log)
			})
		},
	}
	cmd.Flags().StringVar(&executedBy, "executed-by", "", "executing subsystem")
	return cmd
}

func directiveCompleteCmd() *cobra.Command {
	var opts directive.CompleteOptions
	var failed bool
	cmd := &cobra.Command{
		Use:   "complete <directive-id> <execution-id>",
		Short: "Complete directive execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DirectiveID = args[0]
			opts.ExecutionID = args[1]
			opts.Success = !failed
			opts.ActorID = viper.GetString("actor-id")
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				d, err := o.Directives.CompleteExecution(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the execution as failed")
	cmd.Flags().StringVar(&opts.Result, "result", "", "result description")
	cmd.Flags().StringVar(&opts.ImpactJSON, "impact-json", "", "impact metrics JSON")
	cmd.Flags().StringVar(&opts.Logs, "logs", "", "execution logs")
	cmd.Flags().StringVar(&opts.ErrorMsg, "error", "", "error message")
	return cmd
}

func directiveHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List execution attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				logs, err := o.Directives.ExecutionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(logs)
			})
		},
	}
	return cmd
}

func directiveExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Sweep expired directives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				n, err := o.Directives.ExpireDue(ctx, o.Config.User.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"expired": n})
				}
				fmt.Printf("expired %d directive(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Analysis reports",
		Long:  "Read-only views over the same detectors the run uses: velocity, hope, raw patterns, and the narrative summary.",
	}
	rep.AddCommand(reportVelocityCmd())
	rep.AddCommand(reportHopeCmd())
	rep.AddCommand(reportPatternsCmd())
	return rep
}

func reportVelocityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "velocity",
		Short: "Momentum report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				report, err := o.Velocity.GenerateReport(ctx, o.Config.User.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("Velocity: %s (score %.0f)\n", report.Overall, report.VelocityScore)
				fmt.Printf("This period: %d applications, %d interviews, %d skills verified\n",
					report.Current.Applications, report.Current.Interviews, report.Current.SkillsVerified)
				for _, rec := range report.Recommendations {
					fmt.Printf("  - %s\n", rec)
				}
				return nil
			})
		},
	}
	return cmd
}

func reportHopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hope",
		Short: "Application hope report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				apps, err := o.Repo.ListApplications(ctx, repo.ActivityFilters{UserID: o.Config.User.ID})
				if err != nil {
					return err
				}
				report := o.Hope.Report(o.Config.User.ID, apps)
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Application", "Company", "Score", "Tier", "Days"})
				for _, s := range report.Scores {
					tw.AppendRow(table.Row{s.ApplicationID, s.Company, fmt.Sprintf("%.0f", s.Score), s.Tier, s.DaysSinceApplied})
				}
				tw.Render()
				for _, rec := range report.Recommendations {
					fmt.Printf("  - %s\n", rec)
				}
				return nil
			})
		},
	}
	return cmd
}

func reportPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Detected patterns",
		Long:  "Runs pattern detection without deciding or issuing anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				patterns := o.Detector.DetectAll(ctx, o.Config.User.ID)
				if viper.GetBool("json") {
					return printJSON(patterns)
				}
				if len(patterns) == 0 {
					fmt.Println("no patterns detected")
					return nil
				}
				for _, p := range patterns {
					fmt.Printf("[%s] %s: %s\n", p.Severity, p.Type, p.Description)
				}
				return nil
			})
		},
	}
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Record search activity",
		Long:  "Applications, interviews, and skill verifications are the raw material detectors read. Ingestion normally comes from upstream trackers; these commands exist for seeding and manual use.",
	}
	act.AddCommand(activityApplyCmd())
	act.AddCommand(activityInterviewCmd())
	act.AddCommand(activityVerifyCmd())
	act.AddCommand(activityListCmd())
	return act
}

func activityApplyCmd() *cobra.Command {
	var a domain.Application
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Record an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Company == "" || a.Role == "" {
				return fmt.Errorf("--company and --role required")
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if a.ID == "" {
					a.ID = uuid.NewString()
				}
				if a.UserID == "" {
					a.UserID = o.Config.User.ID
				}
				if a.Status == "" {
					a.Status = domain.AppStatusApplied
				}
				if a.AppliedAt == "" {
					a.AppliedAt = now
				}
				a.CreatedAt = now
				a.UpdatedAt = now
				if err := o.Repo.InsertApplication(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "application id")
	cmd.Flags().StringVar(&a.Company, "company", "", "company")
	cmd.Flags().StringVar(&a.Role, "role", "", "role")
	cmd.Flags().StringVar(&a.Platform, "platform", "", "platform")
	cmd.Flags().StringVar(&a.Status, "status", "", "status (applied, interviewing, rejected, ...)")
	cmd.Flags().StringVar(&a.Feedback, "feedback", "", "feedback text")
	cmd.Flags().StringVar(&a.AppliedAt, "applied-at", "", "applied at (RFC3339)")
	return cmd
}

func activityInterviewCmd() *cobra.Command {
	var iv domain.Interview
	var appID string
	var score float64
	var completedAt string
	var gaps []string
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Record an interview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if iv.ID == "" {
					iv.ID = uuid.NewString()
				}
				if iv.UserID == "" {
					iv.UserID = o.Config.User.ID
				}
				if iv.Status == "" {
					iv.Status = domain.InterviewStatusScheduled
				}
				if appID != "" {
					iv.ApplicationID = &appID
				}
				if cmd.Flags().Changed("score") {
					iv.Score = &score
				}
				if completedAt != "" {
					iv.CompletedAt = &completedAt
				} else if iv.Status == domain.InterviewStatusCompleted {
					iv.CompletedAt = &now
				}
				iv.SkillGaps = gaps
				iv.CreatedAt = now
				iv.UpdatedAt = now
				if err := o.Repo.InsertInterview(ctx, iv); err != nil {
					return err
				}
				return printJSONOrTable(iv)
			})
		},
	}
	cmd.Flags().StringVar(&iv.ID, "id", "", "interview id")
	cmd.Flags().StringVar(&appID, "application-id", "", "application id")
	cmd.Flags().StringVar(&iv.Kind, "kind", "", "kind (phone, technical, onsite, ...)")
	cmd.Flags().StringVar(&iv.Status, "status", "", "status (scheduled, completed, cancelled)")
	cmd.Flags().Float64Var(&score, "score", 0, "score 0-100")
	cmd.Flags().StringVar(&iv.Feedback, "feedback", "", "feedback text")
	cmd.Flags().StringArrayVar(&gaps, "skill-gap", []string{}, "skill gap annotations")
	cmd.Flags().StringVar(&completedAt, "completed-at", "", "completed at (RFC3339)")
	return cmd
}

func activityVerifyCmd() *cobra.Command {
	var v domain.SkillVerification
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Record a skill verification or module completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v.Skill == "" {
				return fmt.Errorf("--skill required")
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if v.ID == "" {
					v.ID = uuid.NewString()
				}
				if v.UserID == "" {
					v.UserID = o.Config.User.ID
				}
				if v.Kind == "" {
					v.Kind = domain.VerificationKindSkill
				}
				if v.Status == "" {
					v.Status = domain.VerificationStatusVerified
				}
				if v.Status == domain.VerificationStatusVerified && v.VerifiedAt == nil {
					v.VerifiedAt = &now
				}
				v.CreatedAt = now
				v.UpdatedAt = now
				if err := o.Repo.InsertVerification(ctx, v); err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&v.ID, "id", "", "verification id")
	cmd.Flags().StringVar(&v.Kind, "kind", "", "kind (skill, module)")
	cmd.Flags().StringVar(&v.Skill, "skill", "", "skill or module name")
	cmd.Flags().StringVar(&v.Status, "status", "", "status (pending, verified, failed)")
	return cmd
}

func activityListCmd() *cobra.Command {
	var f repo.ActivityFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				if f.UserID == "" {
					f.UserID = o.Config.User.ID
				}
				apps, err := o.Repo.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Company", "Role", "Status", "Applied"})
				for _, a := range apps {
					tw.AppendRow(table.Row{a.ID, a.Company, a.Role, a.Status, a.AppliedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect user config",
		Long:  "Config is the rulebook (stored in DB): detection thresholds, milestone checkpoints, velocity and hope tuning. Import from strategist.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				return printJSONOrTable(o.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				return o.Config.Validate()
			})
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

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import user config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				userID := cfg.User.ID
				if override := viper.GetString("user"); override != "" {
					userID = override
				}
				if userID == "" {
					return fmt.Errorf("config has no user.id; pass --user")
				}
				if err := r.UpsertUserConfig(ctx, userID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default strategist.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if userID == "" {
				userID = viper.GetString("user")
			}
			if userID == "" {
				userID = "local-user"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(userID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id to seed")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: directives issued and settled, critical patterns, milestones, and runs.",
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
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				events, err := o.Repo.LatestEvents(ctx, n, o.Config.User.ID, evtType, entityKind, entityID)
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
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *strategist.Orchestrator) error {
				handler, err := server.New(server.Config{Orch: o, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Strategist API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withOrchestrator(ctx context.Context, fn func(context.Context, *strategist.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveUserAndConfig(ctx, workspace, viper.GetString("user"), r)
	if err != nil {
		return err
	}
	o := strategist.New(conn, cfg, buildLogger())
	return fn(ctx, o)
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

func buildLogger() *zap.Logger {
	if viper.GetBool("verbose") {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
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
