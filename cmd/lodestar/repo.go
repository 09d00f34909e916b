package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

func init() {
	rootCmd.AddCommand(repoStatusCmd, healthCheckCmd, exportSnapshotCmd, initCmd)

	repoStatusCmd.Flags().String("protocol-version", "", "protocol version this caller advertises, e.g. v1.0.0")
	initCmd.Flags().String("project-name", "", "project name (prompted interactively on a TTY if omitted)")
	initCmd.Flags().String("default-branch", "main", "default branch recorded in the spec")
}

var repoStatusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "repo",
	Short:   "Summarize repository state across both planes",
	Run: func(cmd *cobra.Command, args []string) {
		callerVersion, _ := cmd.Flags().GetString("protocol-version")
		runOp("repo.status", explainRepoStatus,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.StatusResult, []envelope.Intent, []string, error) {
				res, warnings, err := c.Status(ctx, callerVersion)
				return res, nil, warnings, err
			},
			func(res *coordinator.StatusResult) {
				fmt.Printf("%s  (%s)\n", res.ProjectName, res.Root)
				fmt.Printf("tasks: %d ready, %d done, %d verified, %d deleted (of %d)\n",
					res.ReadyCount, res.DoneCount, res.VerifiedCount, res.DeletedCount, res.TaskCount)
				fmt.Printf("agents: %d\n", res.AgentCount)
				fmt.Printf("protocol: %s (%s)\n", res.ProtocolVersion, res.SchemaCompat)
			})
	},
}

const explainRepoStatus = `repo.status summarizes both planes: task counts by status, the
registered agent count, and this engine's protocol version. Pass
--protocol-version to check compatibility against the caller's own.`

var healthCheckCmd = &cobra.Command{
	Use:     "health",
	GroupID: "repo",
	Short:   "Confirm both planes are reachable",
	Run: func(cmd *cobra.Command, args []string) {
		runOp("health.check", explainHealthCheck,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.HealthResult, []envelope.Intent, []string, error) {
				return c.HealthCheck(ctx), nil, nil, nil
			},
			func(res *coordinator.HealthResult) {
				status := "unhealthy"
				if res.OK {
					status = "healthy"
				}
				fmt.Printf("%s: spec readable=%v runtime queryable=%v\n", status, res.SpecReadable, res.RuntimeQueryable)
			})
	},
}

const explainHealthCheck = `health.check opens the spec file and runs a no-op runtime transaction,
reporting whether both planes are currently reachable.`

var exportSnapshotCmd = &cobra.Command{
	Use:     "export",
	GroupID: "events",
	Short:   "Export a point-in-time snapshot of both planes",
	Run: func(cmd *cobra.Command, args []string) {
		runOp("export.snapshot", explainExportSnapshot,
			func(ctx context.Context, c *coordinator.Coordinator) (*coordinator.SnapshotResult, []envelope.Intent, []string, error) {
				res, err := c.ExportSnapshot(ctx)
				return res, nil, nil, err
			},
			func(res *coordinator.SnapshotResult) {
				fmt.Printf("snapshot taken at %s: %d tasks, %d agents\n",
					res.TakenAt.Format("2006-01-02T15:04:05Z07:00"), len(res.Spec.Tasks), len(res.Agents))
			})
	},
}

const explainExportSnapshot = `export.snapshot returns a read-only point-in-time view of the spec
plane and the agent roster, suitable for archiving or hand-off to a
tool outside the engine. It is not a backup format the engine reloads.`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "repo",
	Short:   "Initialize a new repository anchor",
	Run: func(cmd *cobra.Command, args []string) {
		if explainFlag {
			fmt.Println(explainInit)
			os.Exit(0)
		}
		if schemaFlag {
			printSchema("init")
			os.Exit(0)
		}

		projectName, _ := cmd.Flags().GetString("project-name")
		defaultBranch, _ := cmd.Flags().GetString("default-branch")
		if projectName == "" {
			projectName = promptProjectName()
		}

		ctx := context.Background()
		c, err := coordinator.Init(ctx, ".", projectName, defaultBranch, config.LockTimeout(), config.BusyTimeout())
		if err != nil {
			emitErr[*coordinator.InitResult](err)
		}
		defer c.Close()

		res := &coordinator.InitResult{
			Root:          c.Repo.Root,
			ProjectName:   projectName,
			DefaultBranch: defaultBranch,
			SpecPath:      c.Repo.SpecPath(),
			RuntimePath:   c.Repo.RuntimePath(),
		}
		env := envelope.Ok[*coordinator.InitResult](res)
		emit(env, func(res *coordinator.InitResult) {
			fmt.Println(ui.RenderInitReport(ui.InitResult{
				Root:          res.Root,
				ProjectName:   res.ProjectName,
				DefaultBranch: res.DefaultBranch,
				SpecPath:      res.SpecPath,
				RuntimePath:   res.RuntimePath,
			}, width()))
		})
	},
}

const explainInit = `init creates the .lodestar directory, writes an empty spec.yaml with
the given project name and default branch, and opens the runtime
database for the first time.`
