// Package access decides which console actions a staff role may perform.
// The decision table is a Rego policy evaluated with OPA; the built-in policy
// is embedded and can be replaced by a directory of .rego files.
package access

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policy/*.rego
var builtinPolicies embed.FS

// Console actions gated by the policy.
const (
	ActionDashboard      = "dashboard"
	ActionCheckIn        = "checkin"
	ActionPOS            = "pos"
	ActionUsers          = "users"
	ActionUsersManage    = "users.manage"
	ActionBranches       = "branches"
	ActionBranchesManage = "branches.manage"
	ActionZones          = "zones"
	ActionZonesManage    = "zones.manage"
	ActionGuides         = "guides"
)

const (
	allowQuery   = "data.playdesk.access.allow"
	actionsQuery = "data.playdesk.access.allowed_actions"
)

// Checker is the decision interface used by the console.
type Checker interface {
	Allowed(ctx context.Context, role, action string) (bool, error)
	Actions(ctx context.Context, role string) ([]string, error)
}

// Engine evaluates the access policy.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	allow   rego.PreparedEvalQuery
	actions rego.PreparedEvalQuery
}

// NewEngine loads the policy from policyDir, or the built-in policy when
// policyDir is empty.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "access").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "builtin"
	}
	e.logger.Info().Str("policy_source", source).Msg("Access policy loaded")

	return e, nil
}

// load parses and prepares all modules, swapping them in only when every step
// succeeds.
func (e *Engine) load() error {
	modules, err := e.readModules()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	allow, err := prepare(allowQuery, modules)
	if err != nil {
		return err
	}
	actions, err := prepare(actionsQuery, modules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.allow = allow
	e.actions = actions
	e.mu.Unlock()

	return nil
}

// readModules returns the raw source of every policy module keyed by file
// name. Each module is parsed first so syntax errors name the file.
func (e *Engine) readModules() (map[string]string, error) {
	var (
		fsys    fs.FS
		pattern string
	)
	if e.policyDir == "" {
		fsys, pattern = builtinPolicies, "policy/*.rego"
	} else {
		fsys, pattern = os.DirFS(e.policyDir), "*.rego"
	}

	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.describeSource())
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = string(content)
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

func (e *Engine) describeSource() string {
	if e.policyDir == "" {
		return "embedded policy"
	}
	return filepath.Clean(e.policyDir)
}

func prepare(query string, modules map[string]string) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, source := range modules {
		opts = append(opts, rego.Module(name, source))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare %s: %w", query, err)
	}
	return prepared, nil
}

// Allowed reports whether role may perform action. Unknown actions and empty
// roles are denied.
func (e *Engine) Allowed(ctx context.Context, role, action string) (bool, error) {
	start := time.Now()

	e.mu.RLock()
	query := e.allow
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":   role,
		"action": action,
	}))
	if err != nil {
		metrics.AccessDecisions.WithLabelValues(action, "error").Inc()
		return false, fmt.Errorf("access evaluation failed: %w", err)
	}

	allowed := false
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		allowed, _ = results[0].Expressions[0].Value.(bool)
	}

	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	metrics.AccessDecisions.WithLabelValues(action, outcome).Inc()

	e.logger.Debug().
		Str("role", role).
		Str("action", action).
		Bool("allowed", allowed).
		Dur("duration", time.Since(start)).
		Msg("Access evaluated")

	return allowed, nil
}

// Actions lists every action role may perform, sorted.
func (e *Engine) Actions(ctx context.Context, role string) ([]string, error) {
	e.mu.RLock()
	query := e.actions
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(map[string]interface{}{"role": role}))
	if err != nil {
		return nil, fmt.Errorf("access evaluation failed: %w", err)
	}

	actions := []string{}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return actions, nil
	}

	values, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("allowed actions is not a set: %T", results[0].Expressions[0].Value)
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			actions = append(actions, s)
		}
	}
	sort.Strings(actions)

	return actions, nil
}

// Reload re-reads the policy. On failure the previous policy stays active.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading access policy")

	if err := e.load(); err != nil {
		metrics.PolicyReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload access policy: %w", err)
	}

	metrics.PolicyReloads.WithLabelValues("ok").Inc()
	e.logger.Info().Msg("Access policy reloaded successfully")

	return nil
}
