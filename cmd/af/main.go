package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auditflow/internal/app"
	"auditflow/internal/config"
	"auditflow/internal/db"
	"auditflow/internal/migrate"
	"auditflow/internal/ordering"
	"auditflow/internal/repo"
	"auditflow/internal/server"
	"auditflow/internal/storage"
	"auditflow/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "af",
	Short: "Auditflow CLI",
	Long: `Auditflow runs audit engagements as a step-locked workflow.
- Workspace: the .auditflow directory holding the database and uploaded files.
- Project: one engagement; it moves draft -> in_progress -> completed.
- Steps: ordered phases (planning, fieldwork, review). A step unlocks only
  when every required task of the previous step is completed.
- Tasks: work items inside a step with a role approval chain
  (member < team_leader < supervisor < manager < partner).
- Submissions: a preparer submits documents, each chain role approves in
  order, or rejects with a comment to return the work.
- Client documents: tasks can hand off to the external client for uploads,
  then the firm accepts the reply or requests a re-upload.
- Event log: every change is recorded, view with 'af log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if viper.GetString("project") == "" {
			if id := envFileValue(filepath.Join(workspace, ".env"), "AUDITFLOW_DEFAULT_PROJECT"); id != "" {
				viper.SetDefault("project", id)
			}
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
	viper.SetEnvPrefix("AUDITFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage engagements"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectOverviewCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an engagement",
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
			store, err := storage.New(storageRoot(workspace))
			if err != nil {
				return err
			}
			cfg := config.Default(id)
			e := workflow.New(conn, cfg, store)
			p, err := e.InitProject(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "engagement id")
	cmd.Flags().StringVar(&name, "name", "", "engagement name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engagements",
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
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
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
		Short: "Show an engagement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Advance engagement status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.SetProjectStatus(ctx, e.Config.Project.ID, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (in_progress, completed)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func projectOverviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Show steps, gating and task statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				ov, err := e.ProjectOverview(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ov)
				}
				fmt.Printf("Engagement: %s (%s)\n", ov.Project.ID, ov.Project.Status)
				for _, s := range ov.Steps {
					lock := " "
					if s.Locked {
						lock = "L"
					}
					fmt.Printf("[%s] %d. %s  required %d/%d (%d%%)\n",
						lock, s.Position, s.Name,
						s.Progress.Completed, s.Progress.Total, s.Progress.Percentage)
					for _, t := range s.Tasks {
						status := t.Status
						if t.PendingRole != "" {
							status += " (pending " + t.PendingRole + ")"
						}
						fmt.Printf("      %d. %s [%s]\n", t.Position, t.Name, status)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current engagement for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "AUDITFLOW_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set AUDITFLOW_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage the engagement team"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var userRef, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a team member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				m, err := e.AddTeamMember(ctx, e.Config.Project.ID, userRef, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userRef, "user", "", "user reference")
	cmd.Flags().StringVar(&role, "role", "", "role (member, team_leader, supervisor, manager, partner)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListTeamMembers(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Role"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.UserRef, m.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stepCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "step",
		Short: "Manage steps",
		Long:  "Steps are the ordered phases of the engagement. A step is locked until every required task of the previous step is completed.",
	}
	s.AddCommand(stepCreateCmd())
	s.AddCommand(stepListCmd())
	s.AddCommand(stepRenameCmd())
	s.AddCommand(stepDeleteCmd())
	s.AddCommand(stepReorderCmd())
	return s
}

func stepCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a step at the end of the sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.CreateStep(ctx, e.Config.Project.ID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "step name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stepListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List steps with gate verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				steps, err := e.Repo.ListSteps(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				states, err := e.StepGate(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				locked := map[string]bool{}
				for _, st := range states {
					locked[st.ID] = st.Locked
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"steps": steps, "gate": states})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "ID", "Name", "Locked"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Position, s.ID, s.Name, locked[s.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stepRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <id>",
		Short: "Rename a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.RenameStep(ctx, args[0], name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stepDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a step and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.DeleteStep(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func stepReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <id=position> ...",
		Short: "Reorder steps from a full snapshot",
		Long:  "Pass every step as id=position. Partial snapshots are rejected so concurrent edits cannot drop steps.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]ordering.Item, 0, len(args))
			for _, arg := range args {
				id, pos, err := splitAssignment(arg)
				if err != nil {
					return err
				}
				items = append(items, ordering.Item{ID: id, Position: pos})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				steps, err := e.ReorderSteps(ctx, e.Config.Project.ID, items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(steps)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks live inside steps and carry a role approval chain. Their review status is derived from the latest submission.",
	}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskDeleteCmd())
	t.AddCommand(taskAssignCmd())
	t.AddCommand(taskMoveCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var stepID, name, interact, preset, approvalType string
	var required, multiple bool
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.CreateTask(ctx, workflow.TaskCreateOptions{
					StepID:         stepID,
					Name:           name,
					IsRequired:     required,
					ClientInteract: interact,
					MultipleFiles:  multiple,
					Preset:         preset,
					ApprovalRoles:  roles,
					ApprovalType:   approvalType,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().BoolVar(&required, "required", false, "required for unlocking the next step")
	cmd.Flags().StringVar(&interact, "interact", "", "client interaction (read_only, restricted, upload, approval)")
	cmd.Flags().BoolVar(&multiple, "multiple-files", false, "allow multiple documents per submission")
	cmd.Flags().StringVar(&preset, "preset", "", "approval preset from config")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "approval chain role (repeatable)")
	cmd.Flags().StringVar(&approvalType, "approval-type", "", "approval type (once, all_attempts)")
	_ = cmd.MarkFlagRequired("step")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	var stepID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				tasks, err := e.Repo.ListTasksByStep(ctx, stepID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "ID", "Name", "Required", "Completion", "Chain"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.Position, t.ID, t.Name, t.IsRequired, t.CompletionStatus, strings.Join(t.ApprovalRoles, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its submission history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				d, err := e.GetTaskDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				status := d.Status
				if d.PendingRole != "" {
					status += " (pending " + d.PendingRole + ")"
				}
				fmt.Printf("%s [%s]\n", d.Name, status)
				for _, sub := range d.Submissions {
					fmt.Printf("  round %d: %s", sub.Seq, sub.Stage)
					if sub.OutcomeComment != "" {
						fmt.Printf("  %q", sub.OutcomeComment)
					}
					fmt.Println()
					for _, doc := range sub.Documents {
						fmt.Printf("    doc %s\n", doc.Name)
					}
					for _, cd := range sub.ClientDocs {
						state := "pending"
						if cd.FileRef != nil {
							state = "uploaded"
						}
						fmt.Printf("    client doc %s [%s]\n", cd.Description, state)
					}
					for _, a := range sub.Approvals {
						fmt.Printf("    %s by %s (%s)\n", a.Decision, a.Role, a.ActorID)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var name, interact, approvalType string
	var required, multiple bool
	var roles []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := workflow.TaskUpdateOptions{
				TaskID:  args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("required") {
				opts.IsRequired = &required
			}
			if cmd.Flags().Changed("interact") {
				opts.ClientInteract = &interact
			}
			if cmd.Flags().Changed("multiple-files") {
				opts.MultipleFiles = &multiple
			}
			if cmd.Flags().Changed("role") {
				opts.ApprovalRoles = roles
			}
			if cmd.Flags().Changed("approval-type") {
				opts.ApprovalType = &approvalType
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().BoolVar(&required, "required", false, "required flag")
	cmd.Flags().StringVar(&interact, "interact", "", "client interaction mode")
	cmd.Flags().BoolVar(&multiple, "multiple-files", false, "allow multiple documents")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "approval chain role (repeatable)")
	cmd.Flags().StringVar(&approvalType, "approval-type", "", "approval type")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var members []string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign workers to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.AssignWorkers(ctx, args[0], members, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringArrayVar(&members, "member", []string{}, "team member id (repeatable)")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <id=step:position> ...",
		Short: "Reorder tasks, optionally across steps",
		Long:  "Pass every task of the affected steps as id=step:position. The snapshot must be complete per step.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]ordering.TaskItem, 0, len(args))
			for _, arg := range args {
				id, rest, found := strings.Cut(arg, "=")
				if !found {
					return fmt.Errorf("expected id=step:position, got %q", arg)
				}
				stepID, posStr, found := strings.Cut(rest, ":")
				if !found {
					return fmt.Errorf("expected id=step:position, got %q", arg)
				}
				pos, err := strconv.Atoi(posStr)
				if err != nil {
					return fmt.Errorf("bad position in %q: %w", arg, err)
				}
				items = append(items, ordering.TaskItem{ID: id, StepID: stepID, Position: pos})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.ReorderTasks(ctx, e.Config.Project.ID, items, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func workCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "work",
		Short: "Submit and review work",
		Long:  "The review loop: submit documents, then each chain role approves in order or rejects with a comment to return the work to the preparer.",
	}
	w.AddCommand(workSubmitCmd())
	w.AddCommand(workApproveCmd())
	w.AddCommand(workRejectCmd())
	return w
}

func workSubmitCmd() *cobra.Command {
	var taskID, notes string
	var files, clientRequests []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit work for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make([]workflow.FileUpload, 0, len(files))
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				docs = append(docs, workflow.FileUpload{Name: filepath.Base(f), Data: data})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				sub, err := e.SubmitWork(ctx, workflow.SubmitOptions{
					TaskID:         taskID,
					ActorID:        viper.GetString("actor-id"),
					Notes:          notes,
					Documents:      docs,
					ClientRequests: clientRequests,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&notes, "notes", "", "submission notes")
	cmd.Flags().StringArrayVar(&files, "file", []string{}, "document to attach (repeatable)")
	cmd.Flags().StringArrayVar(&clientRequests, "request-client-doc", []string{}, "document to request from the client (repeatable)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func workApproveCmd() *cobra.Command {
	var taskID, role, comment string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the active submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if err := e.Approve(ctx, workflow.DecisionOptions{
					TaskID:  taskID,
					Role:    role,
					ActorID: viper.GetString("actor-id"),
					Comment: comment,
				}); err != nil {
					return err
				}
				d, err := e.GetTaskDetail(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&role, "role", "", "deciding role")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func workRejectCmd() *cobra.Command {
	var taskID, role, comment string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject the active submission and return the work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if err := e.Reject(ctx, workflow.DecisionOptions{
					TaskID:  taskID,
					Role:    role,
					ActorID: viper.GetString("actor-id"),
					Comment: comment,
				}); err != nil {
					return err
				}
				d, err := e.GetTaskDetail(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&role, "role", "", "deciding role")
	cmd.Flags().StringVar(&comment, "comment", "", "rejection comment (required)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "client",
		Short: "Client document hand-off",
		Long:  "After the chain approves a task that requests client documents, the task waits on the client. Attach uploads, then accept the reply or request a re-upload.",
	}
	c.AddCommand(clientUploadCmd())
	c.AddCommand(clientAcceptCmd())
	c.AddCommand(clientReuploadCmd())
	return c
}

func clientUploadCmd() *cobra.Command {
	var docID, file, comment string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Attach the client's file to a requested document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.AttachClientUpload(ctx, workflow.ClientUploadOptions{
					ClientDocID: docID,
					Data:        data,
					Comment:     comment,
					ActorID:     viper.GetString("actor-id"),
				})
			})
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "client document id")
	cmd.Flags().StringVar(&file, "file", "", "file to upload")
	cmd.Flags().StringVar(&comment, "comment", "", "client comment")
	_ = cmd.MarkFlagRequired("doc")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func clientAcceptCmd() *cobra.Command {
	var taskID, comment string
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Accept the client's reply and complete the task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if err := e.AcceptClientDocuments(ctx, taskID, viper.GetString("actor-id"), comment); err != nil {
					return err
				}
				d, err := e.GetTaskDetail(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func clientReuploadCmd() *cobra.Command {
	var taskID, reason string
	cmd := &cobra.Command{
		Use:   "reupload",
		Short: "Reject the client's reply and request fresh uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				sub, err := e.RequestReupload(ctx, taskID, viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&reason, "reason", "", "why the uploads are rejected (required)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect engagement config",
		Long:  "Config holds approval presets (which roles review which kind of task), webhook endpoints, and the default engagement id. Import from auditflow.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
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

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				return e.Config.Validate()
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

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, decisions, client replies, step unlocks.",
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
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
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
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				key, rec, err := server.MintAPIKey(ctx, e, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": rec.ID, "actor_id": rec.ActorID, "key": key})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", rec.ID, rec.ActorID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
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
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			store, err := storage.New(storageRoot(workspace))
			if err != nil {
				return err
			}
			e := workflow.New(conn, cfg, store)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("AUDITFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AUDITFLOW_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Auditflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func storageRoot(workspace string) string {
	return filepath.Join(workspace, ".auditflow", "files")
}

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
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
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	store, err := storage.New(storageRoot(workspace))
	if err != nil {
		return err
	}
	e := workflow.New(conn, cfg, store)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func splitAssignment(arg string) (string, int, error) {
	id, posStr, found := strings.Cut(arg, "=")
	if !found {
		return "", 0, fmt.Errorf("expected id=position, got %q", arg)
	}
	pos, err := strconv.Atoi(posStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad position in %q: %w", arg, err)
	}
	return id, pos, nil
}

func envFileValue(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, key+"="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
