package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "serve",
	Short:   "Run a JSON-RPC-ish adapter over stdio for host editors",
	Long: `serve re-exposes every coordinator operation as a newline-delimited
request/response pair over stdin/stdout. It holds no engine invariants
of its own: it deserializes an rpcRequest, calls the coordinator,
serializes the resulting envelope. The only state it owns is a small
PRD-excerpt cache invalidated by an fsnotify watch on the spec file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// rpcRequest is the stdio adapter's request envelope, grounded on the
// teacher's rpc.Request shape: an operation name plus raw args, with
// an optional request_id echoed back so a host editor can correlate
// out-of-order responses.
type rpcRequest struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id,omitempty"`
}

// rpcResponse wraps the operation's envelope with the echoed request_id.
type rpcResponse struct {
	RequestID string          `json:"request_id,omitempty"`
	Envelope  json.RawMessage `json:"envelope"`
}

func runServe(ctx context.Context) error {
	c, err := coordinator.Open(ctx, ".", config.LockTimeout(), config.BusyTimeout())
	if err != nil {
		return err
	}
	defer c.Close()

	cache := newPRDCache()
	stopWatch, err := watchSpecFile(c.Repo.SpecPath(), cache.invalidateAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: PRD cache invalidation watch disabled: %v\n", err)
	} else {
		defer stopWatch()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(out, rpcResponse{Envelope: marshalEnvelope(envelope.Err[any](
				engineerr.Newf(engineerr.InvalidInput, "malformed request: %v", err)))})
			continue
		}
		env := dispatch(ctx, c, cache, req.Operation, req.Args)
		writeResponse(out, rpcResponse{RequestID: req.RequestID, Envelope: env})
		out.Flush()
	}
	return scanner.Err()
}

func writeResponse(out *bufio.Writer, resp rpcResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(b)
	out.WriteByte('\n')
}

func marshalEnvelope[T any](env envelope.Envelope[T]) json.RawMessage {
	b, err := json.Marshal(env)
	if err != nil {
		return json.RawMessage(`{"ok":false,"error":{"code":"InvalidInput","message":"envelope marshal failure"}}`)
	}
	return b
}

// dispatch routes one rpcRequest to its coordinator method, mirroring
// the stable operation names of spec.md §6.3. Unknown operations come
// back as InvalidInput rather than panicking the adapter.
func dispatch(ctx context.Context, c *coordinator.Coordinator, cache *prdCache, op string, args json.RawMessage) json.RawMessage {
	switch op {
	case "repo.status":
		var in struct {
			CallerVersion string `json:"caller_version"`
		}
		_ = json.Unmarshal(args, &in)
		res, warnings, err := c.Status(ctx, in.CallerVersion)
		return respond(res, warnings, err)

	case "health.check":
		return respond(c.HealthCheck(ctx), nil, nil)

	case "export.snapshot":
		res, err := c.ExportSnapshot(ctx)
		return respond(res, nil, err)

	case "agent.join":
		var in struct {
			AgentID      string   `json:"agent_id"`
			DisplayName  string   `json:"display_name"`
			Role         string   `json:"role"`
			Capabilities []string `json:"capabilities"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		a, err := c.JoinAgent(ctx, in.AgentID, in.DisplayName, in.Role, in.Capabilities)
		return respond(a, nil, err)

	case "agent.list":
		var in struct {
			Role string `json:"role"`
		}
		_ = json.Unmarshal(args, &in)
		agents, err := c.ListAgents(ctx, in.Role)
		return respond(agents, nil, err)

	case "agent.find":
		var in struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		a, err := c.FindAgent(ctx, in.AgentID)
		return respond(a, nil, err)

	case "agent.heartbeat":
		var in struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		err := c.Heartbeat(ctx, in.AgentID)
		return respond[any](nil, nil, err)

	case "agent.leave":
		var in struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		err := c.LeaveAgent(ctx, in.AgentID)
		return respond[any](nil, nil, err)

	case "task.list":
		var in struct {
			IncludeDeleted bool `json:"include_deleted"`
		}
		_ = json.Unmarshal(args, &in)
		tasks, err := c.ListTasks(ctx, in.IncludeDeleted)
		return respond(tasks, nil, err)

	case "task.get":
		var in struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		t, err := c.GetTask(ctx, in.TaskID)
		return respond(t, nil, err)

	case "task.next":
		var in struct {
			Limit   int    `json:"limit"`
			AgentID string `json:"agent_id"`
		}
		_ = json.Unmarshal(args, &in)
		cands, err := c.Next(ctx, in.Limit, in.AgentID)
		return respond(cands, nil, err)

	case "task.create":
		var in coordinator.CreateTaskInput
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		t, err := c.CreateTask(ctx, in)
		return respond(t, nil, err)

	case "task.update":
		var in coordinator.UpdateTaskInput
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		t, err := c.UpdateTask(ctx, in)
		return respond(t, nil, err)

	case "task.delete":
		var in struct {
			TaskID  string `json:"task_id"`
			Cascade bool   `json:"cascade"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		err := c.DeleteTask(ctx, in.TaskID, in.Cascade)
		return respond[any](nil, nil, err)

	case "task.claim":
		var in struct {
			TaskID  string        `json:"task_id"`
			AgentID string        `json:"agent_id"`
			TTL     time.Duration `json:"ttl"`
			Force   bool          `json:"force"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		if in.Force {
			l, err := c.ForceClaimTask(ctx, in.TaskID, in.AgentID, in.TTL)
			return respond(l, nil, err)
		}
		l, warnings, err := c.ClaimTask(ctx, in.TaskID, in.AgentID, in.TTL)
		return respond(l, warnings, err)

	case "task.renew":
		var in struct {
			TaskID  string        `json:"task_id"`
			AgentID string        `json:"agent_id"`
			TTL     time.Duration `json:"ttl"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		l, err := c.RenewTask(ctx, in.TaskID, in.AgentID, in.TTL)
		return respond(l, nil, err)

	case "task.release":
		var in struct {
			TaskID  string `json:"task_id"`
			AgentID string `json:"agent_id"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		err := c.ReleaseTask(ctx, in.TaskID, in.AgentID, in.Reason)
		return respond[any](nil, nil, err)

	case "task.done":
		var in struct {
			TaskID  string `json:"task_id"`
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		t, err := c.DoneTask(ctx, in.TaskID, in.AgentID)
		return respond(t, nil, err)

	case "task.verify":
		var in struct {
			TaskID  string `json:"task_id"`
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		res, err := c.VerifyTask(ctx, in.TaskID, in.AgentID)
		return respond(res, nil, err)

	case "task.complete":
		var in struct {
			TaskID  string `json:"task_id"`
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		res, err := c.CompleteTask(ctx, in.TaskID, in.AgentID)
		return respond(res, nil, err)

	case "task.context":
		var in struct {
			TaskID string `json:"task_id"`
			Budget int    `json:"budget"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		delivery, drift, err := cache.deliver(ctx, c, in.TaskID, in.Budget)
		if err != nil {
			return respond[any](nil, nil, err)
		}
		var warnings []string
		if drift != nil && drift.Changed {
			warnings = append(warnings, fmt.Sprintf("PRD source has changed since binding was recorded (refs affected: %v)", drift.AffectedRefs))
		}
		return respond(delivery, warnings, nil)

	case "task.graph":
		g, err := c.TaskGraph(ctx)
		return respond(g, nil, err)

	case "message.send":
		var in messaging.SendInput
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		m, err := c.SendMessage(ctx, in)
		return respond(m, nil, err)

	case "message.list":
		var in struct {
			AgentID string                `json:"agent_id"`
			Filter  runtime.MessageFilter `json:"filter"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		msgs, err := c.ListMessages(ctx, in.AgentID, in.Filter)
		return respond(msgs, nil, err)

	case "message.thread":
		var in struct {
			TaskID string    `json:"task_id"`
			Since  time.Time `json:"since"`
			Limit  int       `json:"limit"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		msgs, err := c.ThreadMessages(ctx, in.TaskID, in.Since, in.Limit)
		return respond(msgs, nil, err)

	case "message.search":
		var in messaging.SearchInput
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		msgs, err := c.SearchMessages(ctx, in)
		return respond(msgs, nil, err)

	case "message.ack":
		var in struct {
			AgentID   string `json:"agent_id"`
			MessageID int64  `json:"message_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		acked, err := c.AckMessage(ctx, in.AgentID, in.MessageID)
		return respond(acked, nil, err)

	case "events.pull":
		var in struct {
			Since int64             `json:"since"`
			Limit int               `json:"limit"`
			Types []types.EventType `json:"types"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return badArgs(err)
		}
		events, next, err := c.PullEvents(ctx, in.Since, in.Limit, in.Types)
		if err != nil {
			return respond[any](nil, nil, err)
		}
		return respond(struct {
			Events     []*types.Event `json:"events"`
			NextCursor int64          `json:"next_cursor"`
		}{events, next}, nil, nil)

	default:
		return marshalEnvelope(envelope.Err[any](engineerr.Newf(engineerr.InvalidInput, "unknown operation %q", op)))
	}
}

func respond[T any](data T, warnings []string, err error) json.RawMessage {
	if err != nil {
		return marshalEnvelope(envelope.Err[T](err))
	}
	return marshalEnvelope(envelope.Ok(data, envelope.WithWarnings[T](warnings...)))
}

func badArgs(err error) json.RawMessage {
	return marshalEnvelope(envelope.Err[any](engineerr.Newf(engineerr.InvalidInput, "malformed args: %v", err)))
}

// prdCache holds the last Delivery/DriftResult computed per task so
// repeated task.context calls between spec edits avoid re-reading and
// re-hashing the PRD source file. Invalidated wholesale on any write
// to the spec file, never partially, since a single commit can touch
// bindings for many tasks at once.
type prdCache struct {
	mu      sync.Mutex
	entries map[string]prdCacheEntry
}

type prdCacheEntry struct {
	delivery *prd.Delivery
	drift    *prd.DriftResult
}

func newPRDCache() *prdCache {
	return &prdCache{entries: make(map[string]prdCacheEntry)}
}

func (p *prdCache) invalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]prdCacheEntry)
}

func (p *prdCache) deliver(ctx context.Context, c *coordinator.Coordinator, taskID string, budget int) (*prd.Delivery, *prd.DriftResult, error) {
	p.mu.Lock()
	if e, ok := p.entries[taskID]; ok {
		p.mu.Unlock()
		return e.delivery, e.drift, nil
	}
	p.mu.Unlock()

	delivery, drift, err := c.TaskContext(ctx, taskID, budget)
	if err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	p.entries[taskID] = prdCacheEntry{delivery: delivery, drift: drift}
	p.mu.Unlock()
	return delivery, drift, nil
}

// watchSpecFile invalidates the PRD cache whenever the spec file is
// written, so a committed edit to a PRD binding is picked up by the
// next task.context call without restarting the adapter. The watcher
// never mutates engine state; it only drops cache entries.
func watchSpecFile(specPath string, onChange func()) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The spec store replaces the file by rename, so the watch is on the
	// containing directory and events are filtered to the spec file name.
	specPath = filepath.Clean(specPath)
	if err := w.Add(filepath.Dir(specPath)); err != nil {
		w.Close()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == specPath && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		w.Close()
	}, nil
}
