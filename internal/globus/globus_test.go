package globus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Client = (*HTTPClient)(nil)

// fakeClient drives MonitorTransfer's polling logic (pollUntilDone)
// without a network dependency: QueryStatus returns the next entry in
// statuses on each call.
type fakeClient struct {
	HTTPClient
	statuses []Status
	calls    int
}

func (f *fakeClient) QueryStatus(ctx context.Context, taskID string) (Status, error) {
	if f.calls >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	s := f.statuses[f.calls]
	f.calls++
	return s, nil
}

func (f *fakeClient) MonitorTransfer(ctx context.Context, taskID string, pollInterval time.Duration) (Status, error) {
	return pollUntilDone(ctx, f.QueryStatus, taskID, pollInterval)
}

func TestMonitorTransferSucceeds(t *testing.T) {
	f := &fakeClient{statuses: []Status{StatusActive, StatusActive, StatusSucceeded}}
	status, err := f.MonitorTransfer(context.Background(), "task-1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
}

func TestMonitorTransferFails(t *testing.T) {
	f := &fakeClient{statuses: []Status{StatusActive, StatusFailed}}
	_, err := f.MonitorTransfer(context.Background(), "task-1", time.Millisecond)
	assert.ErrorIs(t, err, ErrTransferFailed)
}

func TestMonitorTransferRespectsContextCancellation(t *testing.T) {
	f := &fakeClient{statuses: []Status{StatusActive}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := f.MonitorTransfer(ctx, "task-1", time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
