package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/opsloop/internal/config"
	"github.com/kiranshivaraju/opsloop/internal/metrics"
	"github.com/kiranshivaraju/opsloop/internal/policy"
	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// Ledger is the subset of the incident ledger the pipeline writes to.
type Ledger interface {
	Append(ctx context.Context, inc models.Incident) error
	IncrementRestartCount(ctx context.Context, e models.EntityRef) (int, error)
	RestartCount(ctx context.Context, e models.EntityRef) int
	PurgeOlderThan(ctx context.Context, days int) (int, error)
}

// FixProposer produces a code fix for an escalated issue.
type FixProposer interface {
	Propose(ctx context.Context, req models.FixRequest) (models.FixProposal, error)
}

// Config holds the tunables for one pipeline.
type Config struct {
	Namespace      string
	MemoryInstance string
	Thresholds     Thresholds
	Policy         policy.Thresholds
	DashboardID    int
	BaseBranch     string
	RetentionDays  int
}

// NewConfig extracts the pipeline settings from the service configuration.
func NewConfig(c *config.Config) Config {
	return Config{
		Namespace:      c.Monitor.Namespace,
		MemoryInstance: c.Monitor.MemoryInstance,
		Thresholds: Thresholds{
			CPU:    c.Policy.CPUThreshold,
			Memory: c.Policy.MemoryThreshold,
		},
		Policy: policy.Thresholds{
			Analysis:    c.Policy.AnalysisThreshold,
			MaxRestarts: c.Policy.MaxRestartsPerDay,
		},
		DashboardID:   c.Remediation.DashboardID,
		BaseBranch:    c.Remediation.BaseBranch,
		RetentionDays: c.Ledger.RetentionDays,
	}
}

// Pipeline wires the stages to their collaborators.
type Pipeline struct {
	tools   toolgateway.Invoker
	ledger  Ledger
	fixes   FixProposer
	status  StatusSource
	resolve EntityResolver
	cfg     Config
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStatusSource enables the secondary memory source.
func WithStatusSource(s StatusSource) Option {
	return func(p *Pipeline) { p.status = s }
}

// WithResolver replaces SubstringResolver.
func WithResolver(r EntityResolver) Option {
	return func(p *Pipeline) { p.resolve = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a Pipeline.
func New(tools toolgateway.Invoker, ledger Ledger, fixes FixProposer, cfg Config, opts ...Option) *Pipeline {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "develop"
	}
	p := &Pipeline{
		tools:   tools,
		ledger:  ledger,
		fixes:   fixes,
		resolve: SubstringResolver,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives one traversal of the pipeline to a response. It never fails;
// errors are reported in the response.
func (p *Pipeline) Run(ctx context.Context) models.RunResponse {
	start := p.now()
	p.purge(ctx)

	action, err := p.execute(ctx)
	resp := Report(action, err, p.now())

	p.logger.Info("run finished",
		"component", "report",
		"status", resp.Status,
		"action", resp.Action,
		"incident_id", resp.IncidentID,
		"error", resp.Error,
	)
	metrics.ObserveRun(p.now().Sub(start), resp.Status, resp.Action)
	return resp
}

func (p *Pipeline) execute(ctx context.Context) (Action, error) {
	obs, err := p.Observe(ctx)
	if err != nil {
		return Action{}, wrapStage("monitoring metrics", err)
	}

	analysis := Analyze(obs, p.cfg.Thresholds, p.resolve)
	p.logger.Info("analysis complete", "component", "analyze", "issues", len(analysis.Issues))

	decision := p.Decide(ctx, analysis)
	switch decision.Outcome {
	case policy.OutcomeRemediate:
		action, err := p.Remediate(ctx, decision, analysis)
		if err != nil {
			return action, wrapStage("remediating issue", err)
		}
		return action, nil
	case policy.OutcomeAnalyzeCode:
		action, err := p.AnalyzeCode(ctx, decision)
		if err != nil {
			return action, wrapStage("analyzing code", err)
		}
		return action, nil
	default:
		return Action{Kind: ActionNone}, nil
	}
}

// Decide applies the escalation policy using the ledger's restart counts.
func (p *Pipeline) Decide(ctx context.Context, a Analysis) policy.Decision {
	lookup := func(e models.EntityRef) int { return p.ledger.RestartCount(ctx, e) }
	d := policy.Decide(a.Issues, lookup, p.cfg.Policy)

	logger := p.logger.With("component", "decide", "outcome", string(d.Outcome))
	if d.Outcome == policy.OutcomeNoAction {
		logger.Info("no issues found")
		return d
	}
	logger.Info("decided",
		"pod", d.Issue.Entity.String(),
		"kind", string(d.Issue.Kind),
		"severity", string(d.Issue.Severity),
		"restart_count", d.RestartCount,
	)
	if d.AtRestartCap {
		logger.Warn("restart cap reached below analysis threshold, restarting again",
			"pod", d.Issue.Entity.String(),
			"max_restarts", p.cfg.Policy.MaxRestarts,
			"analysis_threshold", p.cfg.Policy.Analysis,
		)
	}
	return d
}

func (p *Pipeline) purge(ctx context.Context) {
	if p.cfg.RetentionDays <= 0 {
		return
	}
	n, err := p.ledger.PurgeOlderThan(ctx, p.cfg.RetentionDays)
	if err != nil {
		p.logger.Warn("purging restart counts failed", "component", "ledger", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("purged restart counts", "component", "ledger", "buckets", n)
	}
}
