package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/jobs"
)

type fakeQueue struct {
	enqueued []*asynq.Task
	info     *asynq.QueueInfo
	err      error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f *fakeQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskAuditPrune, NextProcessAt: time.Date(2026, 3, 1, 1, 20, 0, 0, time.UTC)}}, f.err
}

func (f *fakeQueue) Close() error { return nil }

func newTestCLI(q *fakeQueue) (*JobsCLI, *bytes.Buffer) {
	var out bytes.Buffer
	return &JobsCLI{client: q, inspector: q, out: &out}, &out
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskAuditPrune, []string{"7"})
	require.NoError(t, err)
	var prune jobs.AuditPrunePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &prune))
	assert.Equal(t, 7, prune.RetentionDays)

	task, err = BuildTask(jobs.TaskAccessWarmup, []string{"3,4", "9"})
	require.NoError(t, err)
	var warm jobs.AccessWarmupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &warm))
	assert.Equal(t, []int64{3, 4, 9}, warm.UserIDs)

	for _, bad := range [][]string{{jobs.TaskAuditPrune, "0"}, {jobs.TaskAccessWarmup, "x"}, {"mail:send"}} {
		_, err := BuildTask(bad[0], bad[1:])
		assert.Error(t, err, bad)
	}
}

func TestRunTriggerAndReports(t *testing.T) {
	q := &fakeQueue{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2}}
	c, out := newTestCLI(q)
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, []string{"trigger", jobs.TaskAccessWarmup, "5"}))
	require.Len(t, q.enqueued, 1)
	assert.Contains(t, out.String(), "enqueued authz:warmup id=t1")

	out.Reset()
	require.NoError(t, c.Run(ctx, []string{"stats"}))
	assert.Contains(t, out.String(), "PENDING")
	assert.Contains(t, out.String(), "default")

	out.Reset()
	require.NoError(t, c.Run(ctx, []string{"scheduled"}))
	assert.Contains(t, out.String(), "s1\taudit:prune\t2026-03-01T01:20:00Z")

	require.Error(t, c.Run(ctx, []string{"purge"}))
	require.Error(t, c.Run(ctx, nil))
}

func TestRunPropagatesQueueErrors(t *testing.T) {
	c, _ := newTestCLI(&fakeQueue{err: errors.New("redis down")})
	require.Error(t, c.Run(context.Background(), []string{"trigger", jobs.TaskAuditPrune}))
	require.Error(t, c.Run(context.Background(), []string{"stats"}))
}

func TestNewJobsCLIRequiresAddr(t *testing.T) {
	_, err := NewJobsCLI(asynq.RedisClientOpt{}, nil)
	require.Error(t, err)

	var nilCLI *JobsCLI
	require.Error(t, nilCLI.Run(context.Background(), []string{"stats"}))
}
