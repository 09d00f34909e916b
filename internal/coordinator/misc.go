package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/runtime"
	"github.com/lodestar-dev/lodestar/internal/types"
)

// ProtocolVersion is the engine's own envelope/schema version (spec.md
// §4.L: "payload shapes are published as schemas and are stable within
// a major version"). Bump the major component whenever a published
// schema shape changes incompatibly.
const ProtocolVersion = "v1.0.0"

// StatusResult is the payload for repo.status.
type StatusResult struct {
	Root            string `json:"root"`
	ProjectName     string `json:"project_name"`
	TaskCount       int    `json:"task_count"`
	ReadyCount      int    `json:"ready_count"`
	DoneCount       int    `json:"done_count"`
	VerifiedCount   int    `json:"verified_count"`
	DeletedCount    int    `json:"deleted_count"`
	AgentCount      int    `json:"agent_count"`
	ProtocolVersion string `json:"protocol_version"`
	SchemaCompat    string `json:"schema_compat"`
}

// Status summarizes repository state across both planes. callerVersion
// is the protocol version the caller advertises (empty to skip the
// check, matching older callers). A major-version mismatch is rejected
// with InvalidInput; a minor-version mismatch is reported in
// warnings but does not fail the call, following the teacher's
// checkVersionCompatibility precedent.
func (c *Coordinator) Status(ctx context.Context, callerVersion string) (*StatusResult, []string, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, nil, err
	}
	out := &StatusResult{Root: c.Repo.Root, ProjectName: spec.Project.Name, ProtocolVersion: ProtocolVersion}
	for _, t := range spec.Tasks {
		out.TaskCount++
		switch t.Status {
		case types.StatusReady:
			out.ReadyCount++
		case types.StatusDone:
			out.DoneCount++
		case types.StatusVerified:
			out.VerifiedCount++
		case types.StatusDeleted:
			out.DeletedCount++
		}
	}

	agents, err := c.ListAgents(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	out.AgentCount = len(agents)

	var warnings []string
	compat, warning, err := checkSchemaCompat(callerVersion)
	if err != nil {
		return nil, nil, err
	}
	out.SchemaCompat = compat
	if warning != "" {
		warnings = append(warnings, warning)
	}
	return out, warnings, nil
}

// checkSchemaCompat compares callerVersion against ProtocolVersion,
// returning a compatibility label ("compatible", "minor-mismatch", or
// "unchecked" when either side isn't valid semver). A major-version
// mismatch is rejected outright.
func checkSchemaCompat(callerVersion string) (compat, warning string, err error) {
	if callerVersion == "" {
		return "unchecked", "", nil
	}
	engineVer := normalizeSemver(ProtocolVersion)
	callerVer := normalizeSemver(callerVersion)
	if !semver.IsValid(engineVer) || !semver.IsValid(callerVer) {
		return "unchecked", "", nil
	}

	if semver.Major(engineVer) != semver.Major(callerVer) {
		return "", "", engineerr.Newf(engineerr.InvalidInput,
			"protocol major version %q is incompatible with engine version %q", callerVersion, ProtocolVersion)
	}
	if semver.Compare(engineVer, callerVer) != 0 {
		warning := fmt.Sprintf("caller protocol version %s differs from engine version %s (minor/patch mismatch, proceeding)", callerVersion, ProtocolVersion)
		return "minor-mismatch", warning, nil
	}
	return "compatible", "", nil
}

func normalizeSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// HealthResult is the payload for health.check.
type HealthResult struct {
	OK               bool   `json:"ok"`
	RepoRoot         string `json:"repo_root"`
	SpecReadable     bool   `json:"spec_readable"`
	RuntimeQueryable bool   `json:"runtime_queryable"`
}

// HealthCheck confirms both planes are reachable.
func (c *Coordinator) HealthCheck(ctx context.Context) *HealthResult {
	h := &HealthResult{RepoRoot: c.Repo.Root}
	if _, err := c.Spec.Load(); err == nil {
		h.SpecReadable = true
	}
	if err := c.Runtime.RunInTransaction(ctx, func(tx *runtime.Tx) error { return nil }); err == nil {
		h.RuntimeQueryable = true
	}
	h.OK = h.SpecReadable && h.RuntimeQueryable
	return h
}

// SnapshotResult is the payload for export.snapshot: a point-in-time
// view of both planes, suitable for archiving or hand-off to a tool
// outside the engine (e.g. a dashboard). It is a read-only export, not
// a backup format the engine itself reloads.
type SnapshotResult struct {
	TakenAt time.Time      `json:"taken_at"`
	Spec    *types.Spec    `json:"spec"`
	Agents  []*types.Agent `json:"agents"`
}

// ExportSnapshot returns a combined view of the spec plane and the
// current agent roster.
func (c *Coordinator) ExportSnapshot(ctx context.Context) (*SnapshotResult, error) {
	spec, err := c.Spec.Load()
	if err != nil {
		return nil, err
	}
	agents, err := c.ListAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	return &SnapshotResult{TakenAt: c.now(), Spec: spec, Agents: agents}, nil
}

// InitResult is the payload for init: the paths and project metadata
// the new repository anchor was bootstrapped with.
type InitResult struct {
	Root          string `json:"root"`
	ProjectName   string `json:"project_name"`
	DefaultBranch string `json:"default_branch"`
	SpecPath      string `json:"spec_path"`
	RuntimePath   string `json:"runtime_path"`
}

// Init bootstraps a new repository anchor at root and opens a
// Coordinator over it.
func Init(ctx context.Context, root string, projectName, defaultBranch string, lockTimeout, busyTimeout time.Duration) (*Coordinator, error) {
	if _, err := anchor.Init(root); err != nil {
		return nil, err
	}
	c, err := Open(ctx, root, lockTimeout, busyTimeout)
	if err != nil {
		return nil, err
	}
	_, err = c.Spec.Save(ctx, func(spec *types.Spec) error {
		spec.Project.Name = projectName
		spec.Project.DefaultBranch = defaultBranch
		return nil
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
