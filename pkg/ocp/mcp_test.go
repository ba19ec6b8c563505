package ocp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPWaiterObservesRolloutThenSettles(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("get mcp",
		ok("master   False   True    False"),
		ok("master   True    False   False"),
	)

	w := &MCPWaiter{OC: runner, Timeout: time.Second, Interval: 5 * time.Millisecond, Grace: time.Minute}
	require.NoError(t, w.Wait(context.Background()))
}

// An API that stops answering mid-rollout is the node rebooting, not a
// failure, and it counts as having seen the rollout begin.
func TestMCPWaiterUnreachableAPICountsAsRollout(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("get mcp",
		unreachable(),
		ok("master   True   False   False"),
	)

	w := &MCPWaiter{OC: runner, Timeout: time.Second, Interval: 5 * time.Millisecond, Grace: time.Minute}
	require.NoError(t, w.Wait(context.Background()))
}

// When no rollout is ever observed, success waits for the grace period
// so a poll landing just before the rollout starts does not pass early.
func TestMCPWaiterGracePeriodForNoopChanges(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("get mcp", ok("master   True   False   False"))

	w := &MCPWaiter{OC: runner, Timeout: time.Second, Interval: 5 * time.Millisecond, Grace: 100 * time.Millisecond}
	start := time.Now()
	require.NoError(t, w.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMCPWaiterDegradedPoolWarnsOnly(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("get mcp",
		ok("master   False   True    True"),
		ok("master   True    False   True"),
	)

	w := &MCPWaiter{OC: runner, Timeout: time.Second, Interval: 5 * time.Millisecond, Grace: time.Minute}
	require.NoError(t, w.Wait(context.Background()))
}

func TestMCPWaiterTimesOut(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("get mcp", ok("master   False   True   False"))

	w := &MCPWaiter{OC: runner, Timeout: 50 * time.Millisecond, Interval: 5 * time.Millisecond, Grace: time.Minute}
	err := w.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not settle")
}

func TestParsePools(t *testing.T) {
	pools := parsePools("master   True   False   False\nworker   False   True   False\n")
	require.Len(t, pools, 2)
	assert.Equal(t, "master", pools[0].Name)
	assert.Equal(t, "True", pools[0].Updated)
	assert.Equal(t, "True", pools[1].Updating)
}
