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

	"stageline/internal/app"
	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/repo"
	"stageline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stageline CLI",
	Long: `Stageline moves projects through a department pipeline with approval
gates, QA rounds and a per-project work log.
- Workspace: the .stageline directory holding the database; stageline.yml
  next to it configures review thresholds, the bug classifier and webhooks.
- Departments: intake -> design -> markup -> one build branch -> qa ->
  delivery. Each visit is a history entry with its own work status.
- Gates: leaving design needs client sign-off; leaving qa needs a passed
  testing round. 'sl workflow' shows what is still missing.
- Project code: one letter per completed department, in the order the
  project actually passed through them.
- Event log: diary of changes, view with 'sl log tail'.`,
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
	viper.SetEnvPrefix("STAGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the workspace's only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(qaCmd())
	rootCmd.AddCommand(correctionCmd())
	rootCmd.AddCommand(reassignCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default stageline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
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
			fmt.Printf("Initialized workspace: wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "id", "", "default project id for the config")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.OwnerID == "" {
				opts.OwnerID = opts.ActorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, sideEffects, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				for _, se := range sideEffects {
					if se.Err != nil {
						fmt.Fprintf(os.Stderr, "warning: %s: %v\n", se.Name, se.Err)
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (php, react, wordpress)")
	cmd.Flags().StringVar(&opts.InitialDepartment, "department", "", "initial department (defaults to intake)")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.CoordinatorID, "coordinator", "", "coordinator actor id")
	cmd.Flags().StringVar(&opts.TeamLeadID, "team-lead", "", "team lead actor id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Department", "Status", "Code"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CurrentDepartment, p.Status, p.ProjectCode})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Show workflow status",
		Long:  "See where the project sits, its work status, the legal next moves and which gate requirements are still missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				ws, err := e.GetWorkflowStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ws)
				}
				fmt.Printf("Project: %s\n", projectID)
				fmt.Printf("Department: %s (%s)\n", ws.CurrentDepartment, ws.WorkStatus)
				if ws.ProjectCode != "" {
					fmt.Printf("Code: %s\n", ws.ProjectCode)
				}
				fmt.Printf("Next moves: %s\n", joinDepartments(ws.AllowedNext))
				if ws.Gate.Satisfied {
					fmt.Println("Gate: satisfied")
				} else {
					fmt.Println("Gate: blocked")
					for _, m := range ws.Gate.Missing {
						fmt.Printf("  - %s\n", m)
					}
				}
				fmt.Printf("Path so far: %s\n", joinDepartments(ws.Sequence))
				return nil
			})
		},
	}
	return cmd
}

func moveCmd() *cobra.Command {
	var plannedDays int
	var notes, authorizedBy string
	cmd := &cobra.Command{
		Use:   "move <department>",
		Short: "Move the project to a department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.MoveOptions{
					ProjectID:    projectID,
					To:           args[0],
					ActorID:      viper.GetString("actor-id"),
					AuthorizedBy: authorizedBy,
					Notes:        notes,
				}
				if cmd.Flags().Changed("planned-days") {
					opts.PlannedDays = &plannedDays
				}
				p, err := e.MoveToDepartment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&plannedDays, "planned-days", 0, "planned days in the department")
	cmd.Flags().StringVar(&notes, "notes", "", "move notes")
	cmd.Flags().StringVar(&authorizedBy, "authorized-by", "", "actor who signed off on the move")
	return cmd
}

func statusCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "status <work-status>",
		Short: "Update the current department's work status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				entry, err := e.UpdateWorkStatus(ctx, engine.StatusUpdateOptions{
					ProjectID: projectID,
					Status:    args[0],
					ActorID:   viper.GetString("actor-id"),
					Notes:     notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "status notes")
	return cmd
}

func validateCmd() *cobra.Command {
	var target, status, action string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Dry-run a move, status change or permission check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				actorID := viper.GetString("actor-id")
				var result engine.ValidationResult
				switch {
				case target != "":
					result, err = e.ValidateTransition(ctx, projectID, target, actorID)
				case status != "":
					result, err = e.ValidateStatusUpdate(ctx, projectID, status, actorID)
				case action != "":
					result, err = e.ValidateWorkflowPermission(ctx, projectID, action, actorID)
				default:
					return fmt.Errorf("one of --to, --status or --action is required")
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target department to test")
	cmd.Flags().StringVar(&status, "status", "", "work status to test")
	cmd.Flags().StringVar(&action, "action", "", "workflow action to test (move_department, update_status, approve, start_qa)")
	return cmd
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approval", Short: "Manage approvals"}
	ap.AddCommand(approvalRequestCmd())
	ap.AddCommand(approvalDecideCmd())
	ap.AddCommand(approvalListCmd())
	return ap
}

func approvalRequestCmd() *cobra.Command {
	var approvalType, comments, attachment string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request an approval on the current department entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.RequestApproval(ctx, engine.ApprovalRequestOptions{
					ProjectID:     projectID,
					Type:          approvalType,
					ActorID:       viper.GetString("actor-id"),
					Comments:      comments,
					AttachmentURL: attachment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&approvalType, "type", "", "approval type (client_approval, pre_delivery_qa)")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&attachment, "attachment", "", "attachment URL")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func approvalDecideCmd() *cobra.Command {
	var decision, comments, reason string
	cmd := &cobra.Command{
		Use:   "decide <approval-id>",
		Short: "Approve or reject a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitApproval(ctx, engine.ApprovalDecisionOptions{
					ApprovalID:      args[0],
					Decision:        decision,
					ActorID:         viper.GetString("actor-id"),
					Comments:        comments,
					RejectionReason: reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required when rejecting)")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func approvalListCmd() *cobra.Command {
	var historyID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals on a department entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				id := historyID
				if id == 0 {
					latest, err := e.Repo.LatestHistory(ctx, projectID)
					if err != nil {
						return err
					}
					id = latest.ID
				}
				items, err := e.Repo.ListApprovalsByHistory(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Requested By", "Reviewed By"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Type, a.Status, a.RequestedBy, stringOrDash(a.ReviewedBy)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&historyID, "history-id", 0, "history entry id (defaults to the current entry)")
	return cmd
}

func reviewCmd() *cobra.Command {
	rv := &cobra.Command{Use: "review", Short: "Manager reviews"}
	rv.AddCommand(reviewRequestCmd())
	rv.AddCommand(reviewDecideCmd())
	return rv
}

func reviewRequestCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a manager review (only when thresholds fire)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.RequestManagerReview(ctx, engine.ReviewRequestOptions{
					ProjectID: projectID,
					ActorID:   viper.GetString("actor-id"),
					Comments:  comments,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	return cmd
}

func reviewDecideCmd() *cobra.Command {
	var verdict, comments string
	cmd := &cobra.Command{
		Use:   "decide <approval-id>",
		Short: "Record a manager review verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitManagerReview(ctx, engine.ReviewDecisionOptions{
					ApprovalID: args[0],
					Verdict:    verdict,
					ActorID:    viper.GetString("actor-id"),
					Comments:   comments,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "proceed, revise or cancel")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func qaCmd() *cobra.Command {
	qa := &cobra.Command{Use: "qa", Short: "QA rounds and bugs"}
	qa.AddCommand(qaStartCmd())
	qa.AddCommand(qaCompleteCmd())
	qa.AddCommand(qaBugCmd())
	qa.AddCommand(qaListCmd())
	return qa
}

func qaStartCmd() *cobra.Command {
	var qaType, tester string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a QA round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				round, err := e.StartQARound(ctx, engine.QAStartOptions{
					ProjectID: projectID,
					QAType:    qaType,
					TesterID:  tester,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(round)
			})
		},
	}
	cmd.Flags().StringVar(&qaType, "type", "general", "round type (general, pre_delivery)")
	cmd.Flags().StringVar(&tester, "tester", "", "tester actor id (defaults to --actor-id)")
	return cmd
}

func qaCompleteCmd() *cobra.Command {
	var outcome, results, reason string
	cmd := &cobra.Command{
		Use:   "complete <round-id>",
		Short: "Complete a QA round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				round, err := e.CompleteQARound(ctx, engine.QACompleteOptions{
					RoundID:         args[0],
					Outcome:         outcome,
					ActorID:         viper.GetString("actor-id"),
					Results:         results,
					RejectionReason: reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(round)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "passed or failed")
	cmd.Flags().StringVar(&results, "results", "", "test results summary")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required when failing)")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func qaBugCmd() *cobra.Command {
	var opts engine.BugCreateOptions
	cmd := &cobra.Command{
		Use:   "bug <round-id>",
		Short: "Report a bug in a QA round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RoundID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bug, err := e.CreateBug(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(bug)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "bug title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "bug description")
	cmd.Flags().StringVar(&opts.Severity, "severity", "medium", "severity (low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.Steps, "steps", "", "reproduction steps")
	cmd.Flags().StringVar(&opts.ScreenshotURL, "screenshot", "", "screenshot URL")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee actor id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func qaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List QA rounds across the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				rounds, err := e.Repo.ListRoundsByProject(ctx, e.DB, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rounds)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Round", "Type", "Status", "Tester", "Bugs", "Critical"})
				for _, r := range rounds {
					tw.AppendRow(table.Row{r.ID, r.RoundNumber, r.QAType, r.Status, r.TesterID, r.BugCount, r.CriticalBugs})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func correctionCmd() *cobra.Command {
	co := &cobra.Command{Use: "correction", Short: "Corrections"}
	co.AddCommand(correctionCreateCmd())
	co.AddCommand(correctionUpdateCmd())
	co.AddCommand(correctionListCmd())
	return co
}

func correctionCreateCmd() *cobra.Command {
	var opts engine.CorrectionCreateOptions
	var estimatedHours int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Request a correction on the current department entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("estimated-hours") {
				opts.EstimatedHours = &estimatedHours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				opts.ProjectID = projectID
				c, err := e.CreateCorrection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "correction type")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what needs to change")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee actor id")
	cmd.Flags().IntVar(&estimatedHours, "estimated-hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func correctionUpdateCmd() *cobra.Command {
	var opts engine.CorrectionUpdateOptions
	var actualHours int
	cmd := &cobra.Command{
		Use:   "update <correction-id>",
		Short: "Progress or resolve a correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CorrectionID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("actual-hours") {
				opts.ActualHours = &actualHours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateCorrection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "open, in_progress or resolved")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee actor id")
	cmd.Flags().IntVar(&actualHours, "actual-hours", 0, "actual hours spent")
	cmd.Flags().StringVar(&opts.ResolutionNotes, "notes", "", "resolution notes")
	return cmd
}

func correctionListCmd() *cobra.Command {
	var historyID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List corrections on a department entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				id := historyID
				if id == 0 {
					latest, err := e.Repo.LatestHistory(ctx, projectID)
					if err != nil {
						return err
					}
					id = latest.ID
				}
				items, err := e.Repo.ListCorrectionsByHistory(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Priority", "Assigned To"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Type, c.Status, c.Priority, stringOrDash(c.AssignedTo)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&historyID, "history-id", 0, "history entry id (defaults to the current entry)")
	return cmd
}

func reassignCmd() *cobra.Command {
	var opts engine.ReassignOptions
	cmd := &cobra.Command{
		Use:   "reassign",
		Short: "Reassign the project's coordinator or team lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				opts.ProjectID = projectID
				a, err := e.Reassign(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AssignmentType, "type", "", "coordinator or team_lead")
	cmd.Flags().StringVar(&opts.NewUserID, "to", "", "new holder's actor id")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "handover reason")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func actorCmd() *cobra.Command {
	ac := &cobra.Command{Use: "actor", Short: "Manage actors"}
	ac.AddCommand(actorRegisterCmd())
	ac.AddCommand(actorListCmd())
	return ac
}

func actorRegisterCmd() *cobra.Command {
	var actor domain.Actor
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				registered, err := e.RegisterActor(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(registered)
			})
		},
	}
	cmd.Flags().StringVar(&actor.ID, "id", "", "actor id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&actor.Name, "name", "", "display name")
	cmd.Flags().StringVar(&actor.Role, "role", "", "role")
	cmd.Flags().StringVar(&actor.Department, "department", "", "home department")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Department"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Department})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyIssueCmd())
	return ak
}

func apikeyIssueCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plaintext, key, err := e.IssueAPIKey(ctx, actorID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("API key for %s (shown once): %s\n", key.ActorID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show department history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				entries, err := e.Repo.ListHistory(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "To", "Status", "Days", "Corrections"})
				for _, entry := range entries {
					days := ""
					if entry.ActualDays != nil {
						days = fmt.Sprintf("%d", *entry.ActualDays)
					}
					tw.AppendRow(table.Row{entry.ID, stringOrDash(entry.FromDepartment), entry.ToDepartment, entry.Status, days, entry.CorrectionCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				events, err := e.Repo.ListEvents(ctx, repo.EventFilter{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += "/" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.ActorID})
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
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
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(viper.GetString("project"))
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("STAGELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STAGELINE_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Stageline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header (local use only)")
	return cmd
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
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default(viper.GetString("project"))
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

// resolveProject prefers the --project flag, then the workspace config's
// project id, then a single-project workspace.
func resolveProject(ctx context.Context, e engine.Engine) (string, error) {
	override := viper.GetString("project")
	if override == "" && e.Config != nil {
		override = e.Config.Project.ID
	}
	return app.ResolveProject(ctx, override, e.Repo)
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

func joinDepartments[T ~string](items []T) string {
	if len(items) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(items))
	for _, d := range items {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, ", ")
}

func stringOrDash(ptr *string) string {
	if ptr == nil || *ptr == "" {
		return "-"
	}
	return *ptr
}
