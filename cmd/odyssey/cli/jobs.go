// Package cli implements the operator subcommands of the odyssey binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// Enqueuer is the subset of *asynq.Client used to trigger jobs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector is the subset of *asynq.Inspector used for queue reports.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI triggers and inspects background jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	out       io.Writer
}

// NewJobsCLI connects to the queue described by opts and writes reports to out.
func NewJobsCLI(opts asynq.RedisClientOpt, out io.Writer) (*JobsCLI, error) {
	if opts.Addr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts), out: out}, nil
}

// Close releases the client and inspector.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Run dispatches `trigger <name> [args]`, `stats` and `scheduled`.
func (c *JobsCLI) Run(ctx context.Context, args []string) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	if len(args) == 0 {
		return errors.New("usage: jobs trigger <name> [args] | stats | scheduled")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: jobs trigger <name> [args]")
		}
		task, err := BuildTask(args[1], args[2:])
		if err != nil {
			return err
		}
		info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
		if err != nil {
			return fmt.Errorf("jobs cli: enqueue %s: %w", args[1], err)
		}
		fmt.Fprintf(c.out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
		if err != nil {
			return fmt.Errorf("jobs cli: queue info: %w", err)
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", info.Queue, info.Pending, info.Active, info.Scheduled, info.Retry, info.Archived)
		return tw.Flush()
	case "scheduled":
		tasks, err := c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(20), asynq.Page(1))
		if err != nil {
			return fmt.Errorf("jobs cli: scheduled tasks: %w", err)
		}
		for _, t := range tasks {
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
	default:
		return fmt.Errorf("jobs cli: unknown command %q", args[0])
	}
	return nil
}

// BuildTask builds the task for name. audit:prune takes an optional retention
// in days; authz:warmup takes optional user ids.
func BuildTask(name string, args []string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskAuditPrune:
		days := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("jobs cli: retention days must be a positive integer, got %q", args[0])
			}
			days = n
		}
		return jobs.NewAuditPruneTask(days)
	case jobs.TaskAccessWarmup:
		ids := make([]int64, 0, len(args))
		for _, raw := range args {
			for _, part := range strings.Split(raw, ",") {
				if part == "" {
					continue
				}
				id, err := strconv.ParseInt(part, 10, 64)
				if err != nil || id <= 0 {
					return nil, fmt.Errorf("jobs cli: invalid user id %q", part)
				}
				ids = append(ids, id)
			}
		}
		return jobs.NewAccessWarmupTask(ids...)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}
