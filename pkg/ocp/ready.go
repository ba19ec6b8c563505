package ocp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"ocpdeployer/pkg/libssh"
	"ocpdeployer/pkg/oc"
)

// ReadyWaiter watches a freshly created cluster until its API answers
// and the cluster version operator reports the rollout finished.
type ReadyWaiter struct {
	SSH libssh.Client
	OC  oc.Runner

	// Interval between polls. Zero means 30 seconds.
	Interval time.Duration
}

// Wait blocks until the cluster at apiIP is fully ready or timeout
// passes. Readiness has two gates that are crossed in order: first the
// API endpoint must serve /version, then the clusterversion object must
// be Available and no longer Progressing.
func (w *ReadyWaiter) Wait(ctx context.Context, apiIP string, timeout time.Duration) error {
	interval := w.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	start := time.Now()
	apiUp := false

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if !apiUp {
			if !w.apiResponds(apiIP) {
				logrus.Infof("waiting for API at %s:6443 (%s elapsed)", apiIP, time.Since(start).Round(time.Second))
				return false, nil
			}
			apiUp = true
			logrus.Infof("API at %s:6443 is up, waiting for cluster operators", apiIP)
		}
		return w.versionSettled(), nil
	})
	if err != nil {
		return errors.Errorf("cluster not ready after %s: %v", time.Since(start).Round(time.Second), err)
	}
	logrus.Infof("cluster ready after %s", time.Since(start).Round(time.Second))
	return nil
}

// apiResponds checks the API endpoint directly from the hypervisor
// host, before any kubeconfig-based access is possible.
func (w *ReadyWaiter) apiResponds(apiIP string) bool {
	cmd := fmt.Sprintf("curl -sk https://%s:6443/version", apiIP)
	res, err := w.SSH.Run(cmd, time.Minute)
	if err != nil {
		logrus.Debugf("API probe transport failure: %v", err)
		return false
	}
	return res.Ok() && strings.Contains(res.Stdout, "gitVersion")
}

// versionSettled reports whether the clusterversion shows
// Available=True and Progressing=False.
func (w *ReadyWaiter) versionSettled() bool {
	res := w.OC.Oc(time.Minute, "get", "clusterversion", "--no-headers")
	if !res.Ok() {
		logrus.Debugf("clusterversion not readable yet: %s", strings.TrimSpace(res.Stderr))
		return false
	}
	fields := strings.Fields(res.Stdout)
	// NAME VERSION AVAILABLE PROGRESSING SINCE [STATUS...]
	if len(fields) < 4 {
		logrus.Debugf("unexpected clusterversion output: %q", strings.TrimSpace(res.Stdout))
		return false
	}
	available, progressing := fields[2], fields[3]
	if available == "True" && progressing == "False" {
		return true
	}
	logrus.Infof("clusterversion: available=%s progressing=%s", available, progressing)
	w.logNodes()
	return false
}

func (w *ReadyWaiter) logNodes() {
	res := w.OC.Oc(time.Minute, "get", "nodes")
	if res.Ok() {
		logrus.Debugf("nodes:\n%s", strings.TrimSpace(res.Stdout))
	}
}
