package operators

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/oc"
)

// Cleanup tears the GPU operator stack back down in reverse install
// order. Individual failures are logged and skipped, the point is to
// remove as much as possible.
type Cleanup struct {
	OC oc.Runner

	// Settle is the pause between CR deletion and operator removal, so
	// finalizers run while their operators still exist.
	Settle time.Duration
}

func (c *Cleanup) settle() time.Duration {
	if c.Settle == 0 {
		return 5 * time.Second
	}
	return c.Settle
}

// Run removes the GPU stack: custom resources first, then operators,
// then machine config, labels, registry and namespaces.
func (c *Cleanup) Run() error {
	logrus.Info("removing the AMD GPU operator stack")

	c.deleteQuiet("deviceconfigs.amd.com", deviceConfigName, "-n", NamespaceAMDGPU)
	c.deleteQuiet("nodefeaturerules.nfd.openshift.io", nfdFeatureRuleName, "-n", NamespaceAMDGPU)
	c.deleteQuiet("nodefeaturediscoveries.nfd.openshift.io", nfdInstanceName, "-n", NamespaceNFD)

	time.Sleep(c.settle())

	c.uninstallOperator(NamespaceAMDGPU, "amd-gpu-operator")
	c.uninstallOperator(NamespaceKMM, "kmm")
	c.uninstallOperator(NamespaceNFD, "nfd")

	c.deleteQuiet("machineconfig", machineConfigName)
	c.removeGPUNodeLabels()

	res := c.OC.Oc(time.Minute, "patch", "configs.imageregistry.operator.openshift.io", "cluster",
		"--type=merge", "--patch="+registryPatchRemoved)
	if !res.Ok() {
		logrus.Warnf("resetting the image registry failed: %s", strings.TrimSpace(res.Stderr))
	}

	for _, ns := range []string{NamespaceAMDGPU, NamespaceKMM, NamespaceNFD} {
		c.deleteQuiet("namespace", ns)
	}
	logrus.Info("AMD GPU operator stack removed")
	return nil
}

func (c *Cleanup) deleteQuiet(args ...string) {
	full := append([]string{"delete"}, args...)
	full = append(full, "--ignore-not-found")
	res := c.OC.Oc(time.Minute, full...)
	if !res.Ok() && !strings.Contains(strings.ToLower(res.Stderr), "not found") {
		logrus.Warnf("oc %s: %s", strings.Join(full, " "), strings.TrimSpace(res.Stderr))
	}
}

// uninstallOperator removes an OLM operator: its subscription, the CSV
// the subscription installed, and every operator group in the
// namespace.
func (c *Cleanup) uninstallOperator(namespace, subscription string) {
	res := c.OC.Oc(time.Minute, "get", "subscription", subscription, "-n", namespace,
		"-o", "jsonpath={.status.installedCSV}")
	csvName := ""
	if res.Ok() {
		csvName = strings.TrimSpace(res.Stdout)
	}

	c.deleteQuiet("subscription", subscription, "-n", namespace)
	if csvName != "" {
		c.deleteQuiet("csv", csvName, "-n", namespace)
	}

	res = c.OC.Oc(time.Minute, "get", "operatorgroup", "-n", namespace,
		"-o", "jsonpath={.items[*].metadata.name}")
	if res.Ok() {
		for _, og := range strings.Fields(res.Stdout) {
			c.deleteQuiet("operatorgroup", og, "-n", namespace)
		}
	}
}

// gpuNodeLabels are all labels the stack puts on nodes, removed during
// cleanup so a later install starts from a clean slate.
var gpuNodeLabels = []string{
	"amd.com/gpu",
	"amd.com/gpu.cu-count",
	"amd.com/gpu.device-id",
	"amd.com/gpu.driver-version",
	"amd.com/gpu.family",
	"amd.com/gpu.simd-count",
	"amd.com/gpu.vram",
	"beta.amd.com/gpu.cu-count",
	"beta.amd.com/gpu.device-id",
	"beta.amd.com/gpu.family",
	"beta.amd.com/gpu.simd-count",
	"beta.amd.com/gpu.vram",
	"feature.node.kubernetes.io/amd-gpu",
	"feature.node.kubernetes.io/amd-vgpu",
}

func (c *Cleanup) removeGPUNodeLabels() {
	res := c.OC.Oc(time.Minute, "get", "nodes", "-o", "jsonpath={.items[*].metadata.name}")
	if !res.Ok() {
		return
	}
	for _, node := range strings.Fields(res.Stdout) {
		args := []string{"label", "node", node}
		for _, label := range gpuNodeLabels {
			args = append(args, label+"-")
		}
		args = append(args, "--overwrite")
		c.OC.Oc(time.Minute, args...)
	}
}
