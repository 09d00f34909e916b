package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/types"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

func init() {
	rootCmd.AddCommand(eventsPullCmd)

	eventsPullCmd.Flags().Int64("since", 0, "cursor to pull after (0 = from the beginning)")
	eventsPullCmd.Flags().Int("limit", 100, "maximum events to return")
	eventsPullCmd.Flags().StringSlice("type", nil, "event type to include (repeatable, default: all)")
}

// eventsPullResult wraps PullEvents' payload and next-cursor together so
// a caller polling this operation can feed next_cursor straight back
// into --since on the following call.
type eventsPullResult struct {
	Events     []*types.Event `json:"events"`
	NextCursor int64          `json:"next_cursor"`
}

var eventsPullCmd = &cobra.Command{
	Use:     "events-pull",
	GroupID: "events",
	Short:   "Pull events after a cursor",
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetInt64("since")
		limit, _ := cmd.Flags().GetInt("limit")
		rawTypes, _ := cmd.Flags().GetStringSlice("type")
		var eventTypes []types.EventType
		for _, t := range rawTypes {
			eventTypes = append(eventTypes, types.EventType(t))
		}

		runOp("events.pull", explainEventsPull,
			func(ctx context.Context, c *coordinator.Coordinator) (*eventsPullResult, []envelope.Intent, []string, error) {
				events, next, err := c.PullEvents(ctx, since, limit, eventTypes)
				if err != nil {
					return nil, nil, nil, err
				}
				intents := []envelope.Intent{{Intent: "pull-more", Cmd: fmt.Sprintf("lodestar events-pull --since %d", next)}}
				return &eventsPullResult{Events: events, NextCursor: next}, intents, nil, nil
			},
			renderEvents)
	},
}

const explainEventsPull = `events.pull returns events after a cursor, oldest first, up to
--limit entries, and the next cursor to resume from. The log is
monotonic and append-only: polling with --since next_cursor never
misses or repeats an event.`

func renderEvents(res *eventsPullResult) {
	if len(res.Events) == 0 {
		fmt.Println(ui.TableHintStyle.Render("No new events."))
		return
	}
	rows := make([][]string, 0, len(res.Events))
	for _, e := range res.Events {
		rows = append(rows, []string{fmt.Sprintf("%d", e.ID), string(e.Type), e.ActorAgentID, e.TaskID, e.CreatedAt.Format("15:04:05")})
	}
	t := ui.NewSearchTable(width()).
		Headers("#", "Type", "Actor", "Task", "At").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ui.TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.String())
	fmt.Println(ui.TableHintStyle.Render(fmt.Sprintf("next cursor: %d", res.NextCursor)))
}
