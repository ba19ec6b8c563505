package operators

import (
	"fmt"
	"strings"
)

func operatorGroupManifest(namespace, name string, allNamespaces bool) string {
	spec := fmt.Sprintf("spec:\n  targetNamespaces:\n  - %s", namespace)
	if allNamespaces {
		spec = "spec: {}"
	}
	return fmt.Sprintf(`apiVersion: operators.coreos.com/v1
kind: OperatorGroup
metadata:
  name: %s
  namespace: %s
%s
`, name, namespace, spec)
}

func subscriptionManifest(namespace, name, pkg, catalog, channel, startingCSV string) string {
	csvLine := ""
	if startingCSV != "" {
		csvLine = fmt.Sprintf("\n  startingCSV: %s", startingCSV)
	}
	return fmt.Sprintf(`apiVersion: operators.coreos.com/v1alpha1
kind: Subscription
metadata:
  name: %s
  namespace: %s
spec:
  channel: %s
  installPlanApproval: Automatic
  name: %s
  source: %s
  sourceNamespace: openshift-marketplace%s
`, name, namespace, channel, pkg, catalog, csvLine)
}

// nfdInstanceManifest renders a minimal NodeFeatureDiscovery. On 4.16
// the operand image must be spelled out, later releases pick it
// themselves.
func nfdInstanceManifest(ocpVersion string) string {
	operand := ""
	if strings.HasPrefix(ocpVersion, "4.16") {
		operand = `
  operand:
    image: quay.io/openshift/origin-node-feature-discovery:latest
    imagePullPolicy: IfNotPresent
    servicePort: 12000`
	}
	return fmt.Sprintf(`apiVersion: nfd.openshift.io/v1
kind: NodeFeatureDiscovery
metadata:
  name: %s
  namespace: %s
spec:%s
  workerConfig:
    configData: ""
`, nfdInstanceName, NamespaceNFD, operand)
}

// amdGPUDeviceIDs and amdVGPUDeviceIDs are the PCI device IDs the node
// feature rule matches, vendor 1002.
var amdGPUDeviceIDs = []string{
	"75a3", "75a0", "74a5", "74a2", "74a8", "74a0", "74a1", "74a9",
	"740f", "7408", "740c", "738c", "738e",
}

var amdVGPUDeviceIDs = []string{
	"75b3", "75b0", "74b9", "74b6", "74bc", "74b5", "74bd", "7410",
}

func deviceIDList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return strings.Join(quoted, ", ")
}

func nfdFeatureRuleManifest() string {
	return fmt.Sprintf(`apiVersion: nfd.openshift.io/v1alpha1
kind: NodeFeatureRule
metadata:
  name: %s
  namespace: %s
spec:
  rules:
    - name: amd-gpu
      labels:
        feature.node.kubernetes.io/amd-gpu: "true"
      matchAny:
        - matchFeatures:
            - feature: pci.device
              matchExpressions:
                vendor: {op: In, value: ["1002"]}
                device: {op: In, value: [%s]}
    - name: amd-vgpu
      labels:
        feature.node.kubernetes.io/amd-vgpu: "true"
      matchAny:
        - matchFeatures:
            - feature: pci.device
              matchExpressions:
                vendor: {op: In, value: ["1002"]}
                device: {op: In, value: [%s]}
`, nfdFeatureRuleName, NamespaceAMDGPU, deviceIDList(amdGPUDeviceIDs), deviceIDList(amdVGPUDeviceIDs))
}

// blacklistManifest keeps the in-tree amdgpu module from binding the
// GPU so the out-of-tree driver can. Role is master on single node
// clusters, worker otherwise. Applying it makes MCO reboot the nodes.
func blacklistManifest(role string) string {
	return fmt.Sprintf(`apiVersion: machineconfiguration.openshift.io/v1
kind: MachineConfig
metadata:
  labels:
    machineconfiguration.openshift.io/role: %s
  name: %s
spec:
  config:
    ignition:
      version: 3.2.0
    storage:
      files:
        - path: "/etc/modprobe.d/amdgpu-blacklist.conf"
          mode: 420
          overwrite: true
          contents:
            source: "data:text/plain;base64,%s"
`, role, machineConfigName, amdgpuBlacklistB64)
}

func deviceConfigManifest(apiVersion, driverVersion string, enableMetrics bool) string {
	metrics := ""
	if enableMetrics {
		metrics = `
  metricsExporter:
    enable: true
    prometheus:
      serviceMonitor:
        enable: true
        interval: "60s"
        attachMetadata:
          node: true`
	}
	return fmt.Sprintf(`apiVersion: %s
kind: DeviceConfig
metadata:
  name: %s
  namespace: %s
spec:
  driver:
    enable: true
    image: %s
    version: %s
  devicePlugin:
    enableNodeLabeller: true
  selector:
    %s: "true"%s
`, apiVersion, deviceConfigName, NamespaceAMDGPU, defaultDriverImage, driverVersion, amdGPULabel, metrics)
}
