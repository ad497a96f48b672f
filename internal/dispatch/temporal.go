package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/resilience"
	"github.com/sells-group/rankgrid/internal/runner"
)

const (
	// DefaultTaskQueue is the Temporal task queue for rank jobs.
	DefaultTaskQueue = "rankgrid"
	// WorkflowName is the registered name of RankReportWorkflow.
	WorkflowName = "RankReportWorkflow"
	// ActivityName is the registered name of the run activity.
	ActivityName = "ExecuteRankRun"

	// ErrTypeReportNotFound marks activity failures for deleted reports.
	ErrTypeReportNotFound = "ReportNotFound"
	// ErrTypePermanent marks activity failures no retry can fix.
	ErrTypePermanent = "PermanentRunError"
)

// WorkflowInput starts RankReportWorkflow.
type WorkflowInput struct {
	ReportID string             `json:"report_id"`
	Policy   runner.RetryPolicy `json:"policy"`
	Timeout  time.Duration      `json:"timeout"`
}

// RunSummary is the activity and workflow result.
type RunSummary struct {
	RunID   string          `json:"run_id"`
	Attempt int             `json:"attempt"`
	Status  model.RunStatus `json:"status"`
	Stats   model.RunStats  `json:"stats"`
}

// ActivityRetryPolicy translates the job retry policy into Temporal terms.
func ActivityRetryPolicy(p runner.RetryPolicy) *temporal.RetryPolicy {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &temporal.RetryPolicy{
		InitialInterval:        backoff,
		BackoffCoefficient:     1,
		MaximumInterval:        backoff,
		MaximumAttempts:        int32(p.MaxAttempts()),
		NonRetryableErrorTypes: []string{ErrTypeReportNotFound, ErrTypePermanent},
	}
}

// RankReportWorkflow runs the rank activity once, with the job's retry policy
// and per-attempt timeout applied by Temporal.
func RankReportWorkflow(ctx workflow.Context, in WorkflowInput) (*RunSummary, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = runner.DefaultJobTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         ActivityRetryPolicy(in.Policy),
	})

	var out RunSummary
	if err := workflow.ExecuteActivity(ctx, ActivityName, in.ReportID).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Error("rank run failed", "report_id", in.ReportID, "error", err)
		return nil, err
	}
	return &out, nil
}

// Executor runs a single attempt for a report.
type Executor interface {
	Execute(ctx context.Context, reportID string) (*model.Run, error)
}

// Activities holds the activity implementations registered on a worker.
type Activities struct {
	Exec Executor
}

// ExecuteRankRun runs one attempt. The Temporal attempt number becomes the
// run's attempt; non-retryable failures are tagged so the policy stops.
func (a *Activities) ExecuteRankRun(ctx context.Context, reportID string) (*RunSummary, error) {
	ctx = resilience.WithAttempt(ctx, max(int(activity.GetInfo(ctx).Attempt), 1))

	run, err := a.Exec.Execute(ctx, reportID)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrReportNotFound):
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeReportNotFound, err)
		case resilience.IsPermanent(err):
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
		}
		return nil, err
	}
	return &RunSummary{RunID: run.ID, Attempt: run.Attempt, Status: run.Status, Stats: run.Stats}, nil
}

// Register adds the workflow and activity to a worker.
func Register(w worker.Registry, exec Executor) {
	w.RegisterWorkflowWithOptions(RankReportWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions((&Activities{Exec: exec}).ExecuteRankRun, activity.RegisterOptions{Name: ActivityName})
}

// NewWorker creates a worker on taskQueue serving rank jobs.
func NewWorker(c client.Client, taskQueue string, exec Executor, concurrency int) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
	})
	Register(w, exec)
	return w
}

// TemporalConfig configures the Temporal dispatcher.
type TemporalConfig struct {
	TaskQueue string
	Policy    runner.RetryPolicy
	Timeout   time.Duration
}

// Temporal starts one workflow per job on a Temporal cluster.
type Temporal struct {
	client client.Client
	cfg    TemporalConfig
}

var _ Dispatcher = (*Temporal)(nil)

// NewTemporal creates a Temporal dispatcher.
func NewTemporal(c client.Client, cfg TemporalConfig) *Temporal {
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = runner.DefaultJobTimeout
	}
	return &Temporal{client: c, cfg: cfg}
}

// Dispatch starts RankReportWorkflow. A running workflow for the same report
// yields ErrAlreadyRunning; a closed one is replaced.
func (t *Temporal) Dispatch(ctx context.Context, reportID string) error {
	opts := client.StartWorkflowOptions{
		ID:                                       JobID(reportID),
		TaskQueue:                                t.cfg.TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	in := WorkflowInput{ReportID: reportID, Policy: t.cfg.Policy, Timeout: t.cfg.Timeout}

	if _, err := t.client.ExecuteWorkflow(ctx, opts, WorkflowName, in); err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return ErrAlreadyRunning
		}
		return eris.Wrapf(err, "dispatch: start workflow for report %s", reportID)
	}

	zap.L().Info("dispatch: workflow started",
		zap.String("report_id", reportID),
		zap.String("workflow_id", opts.ID),
		zap.String("task_queue", opts.TaskQueue),
	)
	return nil
}

// InFlight reports whether the report's workflow is running.
func (t *Temporal) InFlight(ctx context.Context, reportID string) (bool, error) {
	resp, err := t.client.DescribeWorkflowExecution(ctx, JobID(reportID), "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, eris.Wrapf(err, "dispatch: describe workflow for report %s", reportID)
	}
	info := resp.GetWorkflowExecutionInfo()
	return info.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, nil
}

// DialOptions configures the Temporal client connection.
type DialOptions struct {
	HostPort  string
	Namespace string
}

// Dial connects to Temporal, logging through the global zap logger.
func Dial(opts DialOptions) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    zapLogger{l: zap.L().Sugar()},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: dial temporal %s", opts.HostPort)
	}
	return c, nil
}
