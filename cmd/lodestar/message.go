package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

func init() {
	rootCmd.AddCommand(messageSendCmd, messageListCmd, messageThreadCmd, messageSearchCmd, messageAckCmd)

	messageSendCmd.Flags().String("to-agent", "", "recipient agent ID")
	messageSendCmd.Flags().String("to-task", "", "recipient task ID (posts to the task's thread)")
	messageSendCmd.Flags().String("subject", "", "message subject")
	messageSendCmd.Flags().String("severity", "info", "severity: info, warn, or error")
	messageSendCmd.Flags().String("task-id", "", "task this message is about, if any")

	messageListCmd.Flags().Bool("unread-only", false, "only unread messages")
	messageListCmd.Flags().String("from", "", "filter by sender agent ID")
	messageListCmd.Flags().Int("limit", 50, "maximum messages to return")
	messageListCmd.Flags().Bool("mark-read", false, "mark returned messages as read")

	messageThreadCmd.Flags().Int("limit", 50, "maximum messages to return")

	messageSearchCmd.Flags().String("keyword", "", "case-insensitive body substring")
	messageSearchCmd.Flags().String("from", "", "filter by sender agent ID")
	messageSearchCmd.Flags().Int("limit", 50, "maximum messages to return")
}

var messageSendCmd = &cobra.Command{
	Use:     "message-send <from-agent-id> <body>",
	GroupID: "message",
	Short:   "Send a message to an agent or a task's thread",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fromAgentID, body := args[0], args[1]
		toAgent, _ := cmd.Flags().GetString("to-agent")
		toTask, _ := cmd.Flags().GetString("to-task")
		subject, _ := cmd.Flags().GetString("subject")
		severity, _ := cmd.Flags().GetString("severity")
		taskID, _ := cmd.Flags().GetString("task-id")

		in := messaging.SendInput{FromAgentID: fromAgentID, Body: body, Subject: subject, Severity: severity, TaskID: taskID}
		switch {
		case toAgent != "":
			in.ToType, in.ToID = types.RecipientAgent, toAgent
		case toTask != "":
			in.ToType, in.ToID = types.RecipientTask, toTask
		}

		runOp("message.send", explainMessageSend,
			func(ctx context.Context, c *coordinator.Coordinator) (*types.Message, []envelope.Intent, []string, error) {
				m, err := c.SendMessage(ctx, in)
				return m, nil, nil, err
			},
			func(m *types.Message) { fmt.Printf("sent #%d to %s:%s\n", m.MessageID, m.ToType, m.ToID) })
	},
}

const explainMessageSend = `message.send inserts a message addressed to an agent (--to-agent) or
to a task's thread (--to-task). Body is capped at 16KiB
(MessageTooLarge past that).`

var messageListCmd = &cobra.Command{
	Use:     "message-list <agent-id>",
	GroupID: "message",
	Short:   "List messages addressed to an agent",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]
		var filter runtime.MessageFilter
		filter.UnreadOnly, _ = cmd.Flags().GetBool("unread-only")
		filter.FromAgentID, _ = cmd.Flags().GetString("from")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.MarkRead, _ = cmd.Flags().GetBool("mark-read")

		runOp("message.list", explainMessageList,
			func(ctx context.Context, c *coordinator.Coordinator) ([]*types.Message, []envelope.Intent, []string, error) {
				msgs, err := c.ListMessages(ctx, agentID, filter)
				return msgs, nil, nil, err
			},
			renderMessageTable)
	},
}

const explainMessageList = `message.list returns messages addressed to an agent directly, newest
first; messages sent to a task's thread are not included (see
message.thread). --mark-read acks every returned message as a side effect.`

var messageThreadCmd = &cobra.Command{
	Use:     "message-thread <task-id>",
	GroupID: "message",
	Short:   "List a task's message thread",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]
		limit, _ := cmd.Flags().GetInt("limit")
		runOp("message.thread", explainMessageThread,
			func(ctx context.Context, c *coordinator.Coordinator) ([]*types.Message, []envelope.Intent, []string, error) {
				msgs, err := c.ThreadMessages(ctx, taskID, time.Time{}, limit)
				return msgs, nil, nil, err
			},
			renderMessageTable)
	},
}

const explainMessageThread = `message.thread returns every message addressed to a task, in
chronological order.`

var messageSearchCmd = &cobra.Command{
	Use:     "message-search",
	GroupID: "message",
	Short:   "Search messages by keyword and/or sender",
	Run: func(cmd *cobra.Command, args []string) {
		var in messaging.SearchInput
		in.Keyword, _ = cmd.Flags().GetString("keyword")
		in.From, _ = cmd.Flags().GetString("from")
		in.Limit, _ = cmd.Flags().GetInt("limit")

		runOp("message.search", explainMessageSearch,
			func(ctx context.Context, c *coordinator.Coordinator) ([]*types.Message, []envelope.Intent, []string, error) {
				msgs, err := c.SearchMessages(ctx, in)
				return msgs, nil, nil, err
			},
			func(msgs []*types.Message) {
				items := make([]ui.SearchResultItem, 0, len(msgs))
				for _, m := range msgs {
					items = append(items, ui.SearchResultItem{
						MessageID: m.MessageID, FromAgentID: m.FromAgentID, Subject: m.Subject, BodyPreview: preview(m.Body),
					})
				}
				if len(items) == 0 {
					fmt.Println(ui.RenderNoResults(in.Keyword, nil, width()))
					return
				}
				fmt.Println(ui.RenderResults(in.Keyword, items, width()))
			})
	},
}

const explainMessageSearch = `message.search requires at least one of --keyword, --from, or a
since/until window and returns matching messages, newest first.`

var messageAckCmd = &cobra.Command{
	Use:     "message-ack <agent-id> <message-id>",
	GroupID: "message",
	Short:   "Mark a message read",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]
		var messageID int64
		fmt.Sscanf(args[1], "%d", &messageID)

		runOp("message.ack", explainMessageAck,
			func(ctx context.Context, c *coordinator.Coordinator) (bool, []envelope.Intent, []string, error) {
				acked, err := c.AckMessage(ctx, agentID, messageID)
				return acked, nil, nil, err
			},
			func(acked bool) {
				if acked {
					fmt.Printf("message %d acked\n", messageID)
				} else {
					fmt.Printf("message %d was already read\n", messageID)
				}
			})
	},
}

const explainMessageAck = `message.ack records that an agent has read a message. Acking an
already-read message is a no-op, not an error.`

func renderMessageTable(msgs []*types.Message) {
	if len(msgs) == 0 {
		fmt.Println(ui.TableHintStyle.Render("No messages found."))
		return
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []string{fmt.Sprintf("%d", m.MessageID), m.FromAgentID, string(m.ToType) + ":" + m.ToID, m.Subject, preview(m.Body)})
	}
	t := ui.NewSearchTable(width()).
		Headers("#", "From", "To", "Subject", "Body").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ui.TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.String())
}

func preview(body string) string {
	const max = 60
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}
