package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/scheduler"
	"github.com/lodestar-dev/lodestar/internal/types"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

func init() {
	rootCmd.AddCommand(taskListCmd, taskGetCmd, taskNextCmd, taskCreateCmd, taskUpdateCmd,
		taskDeleteCmd, taskClaimCmd, taskRenewCmd, taskReleaseCmd, taskDoneCmd, taskVerifyCmd,
		taskCompleteCmd, taskContextCmd, taskGraphCmd)

	taskListCmd.Flags().Bool("include-deleted", false, "include soft-deleted tasks")

	taskNextCmd.Flags().Int("limit", 5, "maximum candidates to return")
	taskNextCmd.Flags().String("agent-id", "", "personalize ranking to this agent")

	taskCreateCmd.Flags().String("title", "", "task title (required)")
	taskCreateCmd.Flags().String("description", "", "task description")
	taskCreateCmd.Flags().String("acceptance-criteria", "", "acceptance criteria")
	taskCreateCmd.Flags().Int("priority", 0, "priority (lower claims first)")
	taskCreateCmd.Flags().StringSlice("label", nil, "label (repeatable)")
	taskCreateCmd.Flags().StringSlice("depends-on", nil, "task ID this depends on (repeatable)")
	taskCreateCmd.Flags().StringSlice("lock", nil, "advisory lock glob (repeatable)")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskUpdateCmd.Flags().String("title", "", "new title")
	taskUpdateCmd.Flags().String("description", "", "new description")
	taskUpdateCmd.Flags().String("acceptance-criteria", "", "new acceptance criteria")
	taskUpdateCmd.Flags().Int("priority", 0, "new priority")
	taskUpdateCmd.Flags().StringSlice("label", nil, "replacement label set")
	taskUpdateCmd.Flags().StringSlice("depends-on", nil, "replacement depends_on set")
	taskUpdateCmd.Flags().StringSlice("lock", nil, "replacement locks set")

	taskDeleteCmd.Flags().Bool("cascade", false, "propagate deletion to strict dependents")
	taskDeleteCmd.Flags().Bool("yes", false, "skip the cascade confirmation prompt")

	taskClaimCmd.Flags().Duration("ttl", lease.DefaultTTL, "lease duration, clamped to [60s, 2h]")
	taskClaimCmd.Flags().Bool("force", false, "force-claim over an expired lease")

	taskRenewCmd.Flags().Duration("ttl", lease.DefaultTTL, "new lease duration")

	taskReleaseCmd.Flags().String("reason", "", "free-text release reason")

	taskContextCmd.Flags().Int("budget", 4000, "character budget for the PRD body (0 = unbounded)")
}

var taskListCmd = &cobra.Command{
	Use:     "task-list",
	GroupID: "task",
	Short:   "List tasks in the spec",
	Run: func(cmd *cobra.Command, args []string) {
		includeDeleted, _ := cmd.Flags().GetBool("include-deleted")
		runOp("task.list", explainTaskList,
			func(ctx context.Context, c *coordinator.Coordinator) ([]*types.Task, []envelope.Intent, []string, error) {
				tasks, err := c.ListTasks(ctx, includeDeleted)
				return tasks, nil, nil, err
			},
			renderTaskTable)
	},
}

const explainTaskList = `task.list returns every non-deleted task in the spec, or every task
including soft-deleted ones with --include-deleted.`

var taskGetCmd = &cobra.Command{
	Use:     "task-get <task-id>",
	GroupID: "task",
	Short:   "Get a single task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]
		runOp("task.get", explainTaskGet,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Task, []envelope.Intent, []string, error) {
				t, err := c.GetTask(ctx, taskID)
				return t, nil, nil, err
			},
			func(t *types.Task) { renderTaskTable([]*types.Task{t}) })
	},
}

const explainTaskGet = `task.get returns a single task by ID, or TaskNotFound.`

var taskNextCmd = &cobra.Command{
	Use:     "task-next",
	GroupID: "task",
	Short:   "List the best claimable tasks",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		agentID, _ := cmd.Flags().GetString("agent-id")
		runOp("task.next", explainTaskNext,
			func(ctx context.Context, c *coordinator.Coordinator) ([]scheduler.Candidate, []envelope.Intent, []string, error) {
				cands, err := c.Next(ctx, limit, agentID)
				return cands, nil, nil, err
			},
			func(cands []scheduler.Candidate) {
				if len(cands) == 0 {
					fmt.Println(ui.TableHintStyle.Render("No claimable tasks."))
					return
				}
				for _, cand := range cands {
					fmt.Printf("%s  %s — %s\n", cand.Task.ID, cand.Task.Title, cand.Rationale)
				}
			})
	},
}

const explainTaskNext = `task.next ranks claimable tasks by priority, then creation time, then
task ID, per the scheduler's deterministic ordering.`

var taskCreateCmd = &cobra.Command{
	Use:     "task-create <task-id>",
	GroupID: "task",
	Short:   "Create a new ready task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		in := coordinator.CreateTaskInput{ID: args[0]}
		in.Title, _ = cmd.Flags().GetString("title")
		in.Description, _ = cmd.Flags().GetString("description")
		in.AcceptanceCriteria, _ = cmd.Flags().GetString("acceptance-criteria")
		in.Priority, _ = cmd.Flags().GetInt("priority")
		in.Labels, _ = cmd.Flags().GetStringSlice("label")
		in.DependsOn, _ = cmd.Flags().GetStringSlice("depends-on")
		in.Locks, _ = cmd.Flags().GetStringSlice("lock")

		runOp("task.create", explainTaskCreate,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Task, []envelope.Intent, []string, error) {
				t, err := c.CreateTask(ctx, in)
				return t, []envelope.Intent{{Intent: "claim", Cmd: "lodestar task-claim " + in.ID}}, nil, err
			},
			func(t *types.Task) { renderTaskTable([]*types.Task{t}) })
	},
}

const explainTaskCreate = `task.create inserts a new ready task into the spec plane. depends_on
entries that do not (yet) name an existing task are rejected as
SpecInvariantViolation{missing_dep} once any task references them.`

var taskUpdateCmd = &cobra.Command{
	Use:     "task-update <task-id>",
	GroupID: "task",
	Short:   "Overwrite a task's mutable fields",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		in := coordinator.UpdateTaskInput{ID: args[0]}
		in.Title, _ = cmd.Flags().GetString("title")
		in.Description, _ = cmd.Flags().GetString("description")
		in.AcceptanceCriteria, _ = cmd.Flags().GetString("acceptance-criteria")
		in.Priority, _ = cmd.Flags().GetInt("priority")
		in.Labels, _ = cmd.Flags().GetStringSlice("label")
		in.DependsOn, _ = cmd.Flags().GetStringSlice("depends-on")
		in.Locks, _ = cmd.Flags().GetStringSlice("lock")

		runOp("task.update", explainTaskUpdate,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Task, []envelope.Intent, []string, error) {
				t, err := c.UpdateTask(ctx, in)
				return t, nil, nil, err
			},
			func(t *types.Task) { renderTaskTable([]*types.Task{t}) })
	},
}

const explainTaskUpdate = `task.update overwrites a task's title, description, acceptance
criteria, priority, labels, depends_on, and locks. Fields are replaced
wholesale, not merged — pass every field you want to keep.`

var taskDeleteCmd = &cobra.Command{
	Use:     "task-delete <task-id>",
	GroupID: "task",
	Short:   "Soft-delete a task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]
		cascade, _ := cmd.Flags().GetBool("cascade")
		yes, _ := cmd.Flags().GetBool("yes")
		if cascade && !yes && !jsonOutput && ui.IsTerminal() {
			question := fmt.Sprintf("delete %s and cascade to its live dependents?", taskID)
			if !ui.Confirm(question, false) {
				fmt.Println("aborted")
				os.Exit(0)
			}
		}
		runOp("task.delete", explainTaskDelete,
			func(ctx context.Context, c *coordinator.Coordinator) (any, []envelope.Intent, []string, error) {
				return nil, nil, nil, c.DeleteTask(ctx, taskID, cascade)
			},
			func(any) { fmt.Printf("deleted %s\n", taskID) })
	},
}

const explainTaskDelete = `task.delete soft-deletes a task. If live dependents exist, it is
rejected with TaskStateConflict unless --cascade is passed. On a
terminal, --cascade asks for confirmation unless --yes or --json is set.`

var taskClaimCmd = &cobra.Command{
	Use:     "task-claim <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Claim a lease on a claimable task",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		ttl, _ := cmd.Flags().GetDuration("ttl")
		force, _ := cmd.Flags().GetBool("force")

		runOp("task.claim", explainTaskClaim,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Lease, []envelope.Intent, []string, error) {
				if force {
					l, err := c.ForceClaimTask(ctx, taskID, agentID, ttl)
					return l, nil, nil, err
				}
				l, warnings, err := c.ClaimTask(ctx, taskID, agentID, ttl)
				return l, nil, warnings, err
			},
			func(l *types.Lease) {
				fmt.Printf("claimed %s for %s until %s\n", l.TaskID, l.AgentID, l.ExpiresAt.Format(time.RFC3339))
			})
	},
}

const explainTaskClaim = `task.claim acquires a runtime-plane lease on a claimable task. --force
only succeeds if any existing lease has already expired.`

var taskRenewCmd = &cobra.Command{
	Use:     "task-renew <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Extend the acting agent's active lease",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		ttl, _ := cmd.Flags().GetDuration("ttl")
		runOp("task.renew", explainTaskRenew,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Lease, []envelope.Intent, []string, error) {
				l, err := c.RenewTask(ctx, taskID, agentID, ttl)
				return l, nil, nil, err
			},
			func(l *types.Lease) {
				fmt.Printf("renewed %s for %s until %s\n", l.TaskID, l.AgentID, l.ExpiresAt.Format(time.RFC3339))
			})
	},
}

const explainTaskRenew = `task.renew extends the acting agent's active lease by ttl from now.
Fails with TaskLeaseNotHeld if the agent does not hold the active
lease.`

var taskReleaseCmd = &cobra.Command{
	Use:     "task-release <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Release the acting agent's active lease",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		reason, _ := cmd.Flags().GetString("reason")
		runOp("task.release", explainTaskRelease,
			func(ctx context.Context, c *coordinator.Coordinator) (any, []envelope.Intent, []string, error) {
				return nil, nil, nil, c.ReleaseTask(ctx, taskID, agentID, reason)
			},
			func(any) { fmt.Printf("released %s\n", taskID) })
	},
}

const explainTaskRelease = `task.release releases the acting agent's active lease on a task,
making it immediately claimable again.`

var taskDoneCmd = &cobra.Command{
	Use:     "task-done <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Transition ready -> done",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		runOp("task.done", explainTaskDone,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Task, []envelope.Intent, []string, error) {
				t, err := c.DoneTask(ctx, taskID, agentID)
				return t, []envelope.Intent{{Intent: "verify", Cmd: "lodestar task-verify " + taskID + " " + agentID}}, nil, err
			},
			func(t *types.Task) { renderTaskTable([]*types.Task{t}) })
	},
}

const explainTaskDone = `task.done transitions a task from ready to done. Requires the acting
agent to hold the task's active lease.`

var taskVerifyCmd = &cobra.Command{
	Use:     "task-verify <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Transition done -> verified",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		runOp("task.verify", explainTaskVerify,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.VerifyResult, []envelope.Intent, []string, error) {
				res, err := c.VerifyTask(ctx, taskID, agentID)
				return res, nil, nil, err
			},
			renderVerifyResult)
	},
}

const explainTaskVerify = `task.verify transitions a task from done to verified. No lease is
required — the verifying agent may be the one that completed the task.
Returns newly_ready_task_ids, the dependents now satisfying is_claimable.`

var taskCompleteCmd = &cobra.Command{
	Use:     "task-complete <task-id> <agent-id>",
	GroupID: "task",
	Short:   "Transition ready -> verified atomically",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID, agentID := args[0], args[1]
		runOp("task.complete", explainTaskComplete,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.VerifyResult, []envelope.Intent, []string, error) {
				res, err := c.CompleteTask(ctx, taskID, agentID)
				return res, nil, nil, err
			},
			renderVerifyResult)
	},
}

const explainTaskComplete = `task.complete performs ready -> verified in one spec write, the
recommended combinator over done-then-verify since it cannot strand a
task in done if a process crashes between the two steps. Requires the
acting agent to hold the active lease.`

var taskContextCmd = &cobra.Command{
	Use:     "task-context <task-id>",
	GroupID: "task",
	Short:   "Deliver a task's bound PRD context",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]
		budget, _ := cmd.Flags().GetInt("budget")

		type contextResult struct {
			FrozenExcerpt string   `json:"frozen_excerpt"`
			Body          string   `json:"body"`
			Truncated     bool     `json:"truncated"`
			DriftChanged  bool     `json:"drift_changed"`
			AffectedRefs  []string `json:"affected_refs,omitempty"`
		}

		runOp("task.context", explainTaskContext,
			func(ctx context.Context, c *coordinator.Coordinator) (*contextResult, []envelope.Intent, []string, error) {
				delivery, drift, err := c.TaskContext(ctx, taskID, budget)
				if err != nil {
					return nil, nil, nil, err
				}
				res := &contextResult{FrozenExcerpt: delivery.FrozenExcerpt, Body: delivery.Body, Truncated: delivery.Truncated}
				var warnings []string
				if drift != nil {
					res.DriftChanged = drift.Changed
					res.AffectedRefs = drift.AffectedRefs
					if drift.Changed {
						warnings = append(warnings, fmt.Sprintf("PRD source has changed since this binding was recorded (refs affected: %v)", drift.AffectedRefs))
					}
				}
				return res, nil, warnings, nil
			},
			func(res *contextResult) {
				body := res.Body
				if body == "" {
					body = res.FrozenExcerpt
				}
				if rendered, err := glamour.Render(body, "auto"); err == nil {
					fmt.Print(rendered)
				} else {
					fmt.Println(body)
				}
				if res.Truncated {
					fmt.Println(ui.TableHintStyle.Render("(truncated to the requested budget)"))
				}
			})
	},
}

const explainTaskContext = `task.context extracts the live PRD sections bound to a task up to
--budget characters (the frozen excerpt is shown when no live text is
extracted; an unreadable source is an error), and reports whether the
source has drifted since the binding was recorded.`

var taskGraphCmd = &cobra.Command{
	Use:     "task-graph",
	GroupID: "task",
	Short:   "Show the task dependency graph",
	Run: func(cmd *cobra.Command, args []string) {
		runOp("task.graph", explainTaskGraph,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.TaskGraphResult, []envelope.Intent, []string, error) {
				g, err := c.TaskGraph(ctx)
				return g, nil, nil, err
			},
			func(g *coordinator.TaskGraphResult) {
				fmt.Println(ui.RenderTaskGraph(ui.TaskGraphView{TopoOrder: g.TopoOrder, Dependents: g.Dependents}))
			})
	},
}

const explainTaskGraph = `task.graph returns a topological ordering of every task in the spec,
soft-deleted ones included, plus a
reverse-dependency index (what depends on each task), for graph export
or rendering.`

func renderTaskTable(tasks []*types.Task) {
	if len(tasks) == 0 {
		fmt.Println(ui.TableHintStyle.Render("No tasks found."))
		return
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.ID, string(t.Status), fmt.Sprintf("%d", t.Priority), t.Title})
	}
	tbl := ui.NewSearchTable(width()).
		Headers("Task", "Status", "Pri", "Title").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ui.TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(tbl.String())
}

func renderVerifyResult(res *coordinator.VerifyResult) {
	renderTaskTable([]*types.Task{res.Task})
	if len(res.NewlyReadyTaskIDs) > 0 {
		fmt.Println(ui.TableSuccessStyle.Render(fmt.Sprintf("newly ready: %v", res.NewlyReadyTaskIDs)))
	}
}
