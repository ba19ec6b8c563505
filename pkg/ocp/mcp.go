package ocp

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"ocpdeployer/pkg/oc"
)

const mcpColumns = `custom-columns=NAME:.metadata.name,UPDATED:.status.conditions[?(@.type=="Updated")].status,UPDATING:.status.conditions[?(@.type=="Updating")].status,DEGRADED:.status.conditions[?(@.type=="Degraded")].status`

type poolState struct {
	Name     string
	Updated  string
	Updating string
	Degraded string
}

func parsePools(out string) []poolState {
	var pools []poolState
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pools = append(pools, poolState{Name: fields[0], Updated: fields[1], Updating: fields[2], Degraded: fields[3]})
	}
	return pools
}

// MCPWaiter waits for machine config pools to finish rolling out a
// configuration change. On single node clusters the rollout reboots the
// node, so an unreachable API is treated as the rollout being underway
// rather than a failure.
type MCPWaiter struct {
	OC oc.Runner

	// Timeout for the whole rollout. Zero means 15 minutes.
	Timeout time.Duration
	// Interval between polls. Zero means 20 seconds.
	Interval time.Duration
	// Grace is how long to keep polling for a rollout to begin before
	// concluding the change was a no-op. Zero means 60 seconds.
	Grace time.Duration
}

// Wait blocks until every pool reports Updated=True with no update in
// flight. It requires either observing the rollout in progress or the
// grace period passing, so a poll that lands just before the rollout
// starts does not declare success early.
func (w *MCPWaiter) Wait(ctx context.Context) error {
	timeout := w.Timeout
	if timeout == 0 {
		timeout = 15 * time.Minute
	}
	interval := w.Interval
	if interval == 0 {
		interval = 20 * time.Second
	}
	grace := w.Grace
	if grace == 0 {
		grace = 60 * time.Second
	}

	start := time.Now()
	sawUpdating := false

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		res := w.OC.Oc(time.Minute, "get", "mcp", "-o", mcpColumns, "--no-headers")
		if !res.Ok() {
			sawUpdating = true
			logrus.Info("machine config pools unreadable, rollout likely restarting the API server")
			return false, nil
		}
		pools := parsePools(res.Stdout)
		if len(pools) == 0 {
			return false, nil
		}

		allUpdated := true
		for _, p := range pools {
			if p.Degraded == "True" {
				logrus.Warnf("machine config pool %s is degraded", p.Name)
			}
			if p.Updating == "True" {
				sawUpdating = true
				logrus.Infof("machine config pool %s is updating", p.Name)
				allUpdated = false
				continue
			}
			if p.Updated != "True" {
				allUpdated = false
			}
		}
		if !allUpdated {
			return false, nil
		}
		if !sawUpdating && time.Since(start) < grace {
			logrus.Debug("pools look settled but rollout may not have started yet")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return errors.Errorf("machine config pools did not settle within %s", timeout)
	}
	logrus.Infof("machine config pools settled after %s", time.Since(start).Round(time.Second))
	return nil
}
