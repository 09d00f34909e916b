package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/types"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

func init() {
	rootCmd.AddCommand(agentJoinCmd, agentListCmd, agentFindCmd, agentHeartbeatCmd, agentLeaveCmd)

	agentJoinCmd.Flags().String("display-name", "", "human-readable name for this agent")
	agentJoinCmd.Flags().String("role", "", "role label, e.g. reviewer, implementer")
	agentJoinCmd.Flags().StringSlice("capability", nil, "capability tag (repeatable)")

	agentListCmd.Flags().String("role", "", "filter by role")
}

var agentJoinCmd = &cobra.Command{
	Use:     "agent-join <agent-id>",
	GroupID: "agent",
	Short:   "Register a new agent",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		displayName, _ := cmd.Flags().GetString("display-name")
		role, _ := cmd.Flags().GetString("role")
		capabilities, _ := cmd.Flags().GetStringSlice("capability")
		agentID := args[0]

		runOp("agent.join", explainAgentJoin,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Agent, []envelope.Intent, []string, error) {
				agent, err := c.JoinAgent(ctx, agentID, displayName, role, capabilities)
				return agent, nil, nil, err
			},
			func(a *types.Agent) {
				fmt.Printf("joined %s (role=%s)\n", a.AgentID, a.Role)
			})
	},
}

const explainAgentJoin = `agent.join registers a new runtime-plane agent. Fails with
AgentAlreadyExists if agent_id is already registered.`

var agentListCmd = &cobra.Command{
	Use:     "agent-list",
	GroupID: "agent",
	Short:   "List registered agents",
	Run: func(cmd *cobra.Command, args []string) {
		role, _ := cmd.Flags().GetString("role")
		runOp("agent.list", explainAgentList,
			func(ctx context.Context, c *coordinator.Coordinator) ([]*types.Agent, []envelope.Intent, []string, error) {
				agents, err := c.ListAgents(ctx, role)
				return agents, nil, nil, err
			},
			renderAgentTable)
	},
}

const explainAgentList = `agent.list returns every registered agent, optionally filtered by
role.`

var agentFindCmd = &cobra.Command{
	Use:     "agent-find <agent-id>",
	GroupID: "agent",
	Short:   "Find a single agent by ID",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]
		runOp("agent.find", explainAgentFind,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Agent, []envelope.Intent, []string, error) {
				agent, err := c.FindAgent(ctx, agentID)
				return agent, nil, nil, err
			},
			func(a *types.Agent) { renderAgentTable([]*types.Agent{a}) })
	},
}

const explainAgentFind = `agent.find returns a single agent by ID, or AgentNotRegistered.`

var agentHeartbeatCmd = &cobra.Command{
	Use:     "agent-heartbeat <agent-id>",
	GroupID: "agent",
	Short:   "Record a liveness heartbeat",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]
		runOp("agent.heartbeat", explainAgentHeartbeat,
			func(ctx context.Context, c *coordinator.Coordinator) (any, []envelope.Intent, []string, error) {
				return nil, nil, nil, c.Heartbeat(ctx, agentID)
			},
			func(any) { fmt.Printf("heartbeat recorded for %s\n", agentID) })
	},
}

const explainAgentHeartbeat = `agent.heartbeat updates last_seen_at only; it does not extend any
lease the agent holds (leases expire independently of liveness).`

var agentLeaveCmd = &cobra.Command{
	Use:     "agent-leave <agent-id>",
	GroupID: "agent",
	Short:   "Record a graceful departure",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]
		runOp("agent.leave", explainAgentLeave,
			func(ctx context.Context, c *coordinator.Coordinator) (any, []envelope.Intent, []string, error) {
				return nil, nil, nil, c.LeaveAgent(ctx, agentID)
			},
			func(any) { fmt.Printf("%s left\n", agentID) })
	},
}

const explainAgentLeave = `agent.leave records a graceful departure; the agent row and any
leases it holds persist (see RemoveAgent in the runtime store for the
administrative out-of-band removal orphan cleanup expects).`

func renderAgentTable(agents []*types.Agent) {
	if len(agents) == 0 {
		fmt.Println(ui.TableHintStyle.Render("No agents found."))
		return
	}
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{a.AgentID, a.Role, strings.Join(a.Capabilities, ","), a.LastSeenAt.Format("15:04:05")})
	}
	t := ui.NewSearchTable(width()).
		Headers("Agent", "Role", "Capabilities", "Last seen").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ui.TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.String())
}
