package operators

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// requiredOperators maps a pod name fragment to a human name. All four
// must have running pods before the GPU stack makes sense.
var requiredOperators = []struct {
	pattern string
	name    string
}{
	{"service-ca", "Service CA Operator"},
	{"operator-lifecycle", "Operator Lifecycle Manager"},
	{"machine-config", "MachineConfig Operator"},
	{"image-registry", "Cluster Image Registry Operator"},
}

// verifyRequiredOperators confirms the cluster carries the operators
// the GPU stack builds on.
func (i *Installer) verifyRequiredOperators(ctx context.Context) error {
	timeout := i.Cfg.PrereqTimeout
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "pods", "-A", "--no-headers")
		if !res.Ok() {
			logrus.Debug("cluster API not reachable yet")
			return false, nil
		}
		for _, req := range requiredOperators {
			if !hasRunningPod(res.Stdout, req.pattern) {
				logrus.Infof("waiting for %s", req.name)
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return &OperatorError{Step: "prerequisite check", Detail: "required cluster operators never became ready"}
	}
	logrus.Info("all required cluster operators are running")
	return nil
}

func hasRunningPod(podTable, pattern string) bool {
	for _, line := range strings.Split(podTable, "\n") {
		if strings.Contains(line, pattern) && strings.Contains(line, "Running") {
			return true
		}
	}
	return false
}

// configureInternalRegistry enables the internal image registry, which
// the driver build pushes its kernel module image to.
func (i *Installer) configureInternalRegistry(ctx context.Context) error {
	for _, patch := range []string{registryPatchStorage, registryPatchManaged} {
		res := i.OC.Oc(time.Minute, "patch", "configs.imageregistry.operator.openshift.io", "cluster",
			"--type=merge", "--patch="+patch)
		if !res.Ok() {
			return &OperatorError{Step: "registry configuration", Detail: strings.TrimSpace(res.Stderr)}
		}
	}

	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, i.Cfg.RegistryTimeout, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "pods", "-n", registryNamespace, "--no-headers")
		return res.Ok() && strings.Contains(res.Stdout, "Running"), nil
	})
	if err != nil {
		return &OperatorError{Step: "registry configuration", Detail: "registry pod never reached Running"}
	}
	logrus.Info("internal image registry is running")
	return nil
}
