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

const coColumns = `custom-columns=NAME:.metadata.name,AVAILABLE:.status.conditions[?(@.type=="Available")].status,PROGRESSING:.status.conditions[?(@.type=="Progressing")].status,DEGRADED:.status.conditions[?(@.type=="Degraded")].status`

// StabilityWaiter confirms the cluster is healthy end to end: every
// node Ready and every cluster operator available, settled and not
// degraded. Used after disruptive changes before moving on.
type StabilityWaiter struct {
	OC oc.Runner

	// Timeout for the whole check. Zero means 10 minutes.
	Timeout time.Duration
	// Interval between polls. Zero means 20 seconds.
	Interval time.Duration
}

// Wait blocks until the cluster is stable or timeout passes.
func (w *StabilityWaiter) Wait(ctx context.Context) error {
	timeout := w.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	interval := w.Interval
	if interval == 0 {
		interval = 20 * time.Second
	}

	start := time.Now()
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if !w.nodesReady() {
			return false, nil
		}
		return w.operatorsHealthy(), nil
	})
	if err != nil {
		return errors.Errorf("cluster did not stabilize within %s", timeout)
	}
	logrus.Infof("cluster stable after %s", time.Since(start).Round(time.Second))
	return nil
}

func (w *StabilityWaiter) nodesReady() bool {
	res := w.OC.Oc(time.Minute, "get", "nodes", "--no-headers")
	if !res.Ok() {
		logrus.Debugf("nodes not readable: %s", strings.TrimSpace(res.Stderr))
		return false
	}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] != "Ready" {
			logrus.Infof("node %s is %s", fields[0], fields[1])
			return false
		}
	}
	return true
}

func (w *StabilityWaiter) operatorsHealthy() bool {
	res := w.OC.Oc(time.Minute, "get", "clusteroperators", "-o", coColumns, "--no-headers")
	if !res.Ok() {
		logrus.Debugf("cluster operators not readable: %s", strings.TrimSpace(res.Stderr))
		return false
	}
	healthy := true
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		name, available, progressing, degraded := fields[0], fields[1], fields[2], fields[3]
		if available != "True" || progressing == "True" || degraded == "True" {
			logrus.Infof("operator %s: available=%s progressing=%s degraded=%s", name, available, progressing, degraded)
			healthy = false
		}
	}
	return healthy
}
