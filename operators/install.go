package operators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"ocpdeployer/pkg/oc"
	"ocpdeployer/pkg/ocp"
)

// InstallConfig tunes the GPU operator rollout.
type InstallConfig struct {
	// MachineConfigRole is master on single node clusters, worker
	// otherwise.
	MachineConfigRole string
	// GPUOperatorVersion pins the certified operator CSV, e.g. "1.4.1".
	GPUOperatorVersion string
	DriverVersion      string
	EnableMetrics      bool
	// OCPVersion selects version specific manifests.
	OCPVersion string

	PrereqTimeout    time.Duration
	RegistryTimeout  time.Duration
	OperatorTimeout  time.Duration
	StabilityTimeout time.Duration
	GPUReadyTimeout  time.Duration
	PollInterval     time.Duration

	// NFDSettle is how long to give NFD to label nodes after its
	// instance comes up, CRDSettle how long the operator gets to
	// register its CRDs after the CSV succeeds.
	NFDSettle time.Duration
	CRDSettle time.Duration
}

// DefaultInstallConfig returns the timeouts the rollout normally runs
// with.
func DefaultInstallConfig() InstallConfig {
	return InstallConfig{
		MachineConfigRole:  "worker",
		GPUOperatorVersion: "1.4.1",
		DriverVersion:      DefaultDriverVersion,
		EnableMetrics:      true,
		PrereqTimeout:      15 * time.Minute,
		RegistryTimeout:    2 * time.Minute,
		OperatorTimeout:    10 * time.Minute,
		StabilityTimeout:   15 * time.Minute,
		GPUReadyTimeout:    30 * time.Minute,
		PollInterval:       15 * time.Second,
		NFDSettle:          time.Minute,
		CRDSettle:          10 * time.Second,
	}
}

// Installer deploys the AMD GPU operator and its dependency stack, NFD
// and KMM, onto a running cluster.
type Installer struct {
	OC  oc.Runner
	Cfg InstallConfig
}

// Install runs the whole rollout. The blacklist MachineConfig goes in
// before any operator so the MCO reboot cannot take operator pods down
// mid-install.
func (i *Installer) Install(ctx context.Context) error {
	logrus.Info("installing AMD GPU operator stack")

	if err := i.verifyRequiredOperators(ctx); err != nil {
		return err
	}
	if err := i.configureInternalRegistry(ctx); err != nil {
		return err
	}
	if err := i.waitStable(ctx); err != nil {
		return err
	}

	if err := i.OC.ApplyYAML(blacklistManifest(i.Cfg.MachineConfigRole)); err != nil {
		return &OperatorError{Step: "amdgpu blacklist", Detail: err.Error()}
	}
	mcp := &ocp.MCPWaiter{OC: i.OC, Interval: i.Cfg.PollInterval}
	if err := mcp.Wait(ctx); err != nil {
		return &OperatorError{Step: "machine config rollout", Detail: err.Error()}
	}
	if err := i.waitStable(ctx); err != nil {
		return err
	}

	if err := i.installNFD(ctx); err != nil {
		return err
	}
	if err := i.installKMM(ctx); err != nil {
		return err
	}
	if err := i.installAMDGPU(ctx); err != nil {
		return err
	}

	if err := i.OC.ApplyYAML(nfdInstanceManifest(i.Cfg.OCPVersion)); err != nil {
		return &OperatorError{Step: "NFD instance", Detail: err.Error()}
	}
	if err := i.OC.ApplyYAML(nfdFeatureRuleManifest()); err != nil {
		return &OperatorError{Step: "NFD feature rule", Detail: err.Error()}
	}
	logrus.Infof("giving NFD %s to label the nodes", i.Cfg.NFDSettle)
	time.Sleep(i.Cfg.NFDSettle)

	apiVersion, err := i.waitForDeviceConfigCRD(ctx)
	if err != nil {
		return err
	}
	if err := i.OC.ApplyYAML(deviceConfigManifest(apiVersion, i.Cfg.DriverVersion, i.Cfg.EnableMetrics)); err != nil {
		return &OperatorError{Step: "DeviceConfig", Detail: err.Error()}
	}
	if err := i.enableMonitoring(); err != nil {
		return err
	}

	if err := i.waitStable(ctx); err != nil {
		return err
	}
	if err := i.waitForGPUReady(ctx); err != nil {
		return err
	}
	logrus.Info("AMD GPU operator stack installed")
	return nil
}

func (i *Installer) waitStable(ctx context.Context) error {
	w := &ocp.StabilityWaiter{OC: i.OC, Timeout: i.Cfg.StabilityTimeout, Interval: i.Cfg.PollInterval}
	if err := w.Wait(ctx); err != nil {
		return &OperatorError{Step: "cluster stability", Detail: err.Error()}
	}
	return nil
}

func (i *Installer) ensureNamespace(name string) error {
	if res := i.OC.Oc(time.Minute, "get", "namespace", name); res.Ok() {
		return nil
	}
	if res := i.OC.Oc(time.Minute, "create", "namespace", name); !res.Ok() {
		return &OperatorError{Step: "namespace " + name, Detail: strings.TrimSpace(res.Stderr)}
	}
	return nil
}

func (i *Installer) installNFD(ctx context.Context) error {
	logrus.Info("installing the NFD operator")
	if err := i.ensureNamespace(NamespaceNFD); err != nil {
		return err
	}
	if err := i.OC.ApplyYAML(operatorGroupManifest(NamespaceNFD, "openshift-nfd", false)); err != nil {
		return &OperatorError{Step: "NFD operator group", Detail: err.Error()}
	}
	if err := i.OC.ApplyYAML(subscriptionManifest(NamespaceNFD, "nfd", nfdPackage, nfdCatalog, nfdChannel, "")); err != nil {
		return &OperatorError{Step: "NFD subscription", Detail: err.Error()}
	}
	return i.waitForCSVs(ctx, NamespaceNFD)
}

func (i *Installer) installKMM(ctx context.Context) error {
	logrus.Info("installing the KMM operator")
	if err := i.ensureNamespace(NamespaceKMM); err != nil {
		return err
	}
	// KMM only supports AllNamespaces install mode.
	if err := i.OC.ApplyYAML(operatorGroupManifest(NamespaceKMM, "openshift-kmm", true)); err != nil {
		return &OperatorError{Step: "KMM operator group", Detail: err.Error()}
	}
	if err := i.OC.ApplyYAML(subscriptionManifest(NamespaceKMM, "kmm", kmmPackage, kmmCatalog, kmmChannel, "")); err != nil {
		return &OperatorError{Step: "KMM subscription", Detail: err.Error()}
	}
	return i.waitForCSVs(ctx, NamespaceKMM)
}

func (i *Installer) installAMDGPU(ctx context.Context) error {
	startingCSV := fmt.Sprintf("amd-gpu-operator.v%s", i.Cfg.GPUOperatorVersion)
	logrus.Infof("installing the AMD GPU operator, CSV %s", startingCSV)
	if err := i.ensureNamespace(NamespaceAMDGPU); err != nil {
		return err
	}
	if err := i.OC.ApplyYAML(operatorGroupManifest(NamespaceAMDGPU, "openshift-amd-gpu", true)); err != nil {
		return &OperatorError{Step: "AMD GPU operator group", Detail: err.Error()}
	}
	if err := i.OC.ApplyYAML(subscriptionManifest(NamespaceAMDGPU, "amd-gpu-operator", amdGPUPackage, amdGPUCatalog, amdGPUChannel, startingCSV)); err != nil {
		return &OperatorError{Step: "AMD GPU subscription", Detail: err.Error()}
	}

	installedCSV, err := i.waitForSubscription(ctx, NamespaceAMDGPU, "amd-gpu-operator")
	if err != nil {
		return err
	}
	return i.waitForCSVByName(ctx, NamespaceAMDGPU, installedCSV)
}

// waitForCSVs waits for every CSV in a namespace to reach Succeeded.
func (i *Installer) waitForCSVs(ctx context.Context, namespace string) error {
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, i.Cfg.OperatorTimeout, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "csv", "-n", namespace, "-o", "jsonpath={.items[*].status.phase}")
		if !res.Ok() {
			return false, nil
		}
		phases := strings.Fields(res.Stdout)
		if len(phases) == 0 {
			return false, nil
		}
		for _, p := range phases {
			if p == "Failed" {
				return false, &OperatorError{
					Step:   "CSV in " + namespace,
					Detail: "install failed, inspect with: oc get csv -n " + namespace + " -o yaml",
				}
			}
			if p != "Succeeded" {
				logrus.Infof("CSV in %s: %s", namespace, strings.Join(phases, " "))
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		if opErr, ok := err.(*OperatorError); ok {
			return opErr
		}
		return &OperatorError{Step: "CSV in " + namespace, Detail: fmt.Sprintf("not Succeeded within %s", i.Cfg.OperatorTimeout)}
	}
	return nil
}

type subscriptionStatus struct {
	Status struct {
		InstalledCSV string `json:"installedCSV"`
		Conditions   []struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"conditions"`
	} `json:"status"`
}

// waitForSubscription waits until OLM resolves the subscription to a
// CSV, failing fast on ResolutionFailed instead of burning the timeout.
func (i *Installer) waitForSubscription(ctx context.Context, namespace, name string) (string, error) {
	var installed string
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, i.Cfg.OperatorTimeout, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "subscription", name, "-n", namespace, "-o", "json")
		if !res.Ok() {
			return false, nil
		}
		var sub subscriptionStatus
		if err := json.Unmarshal([]byte(res.Stdout), &sub); err != nil {
			return false, nil
		}
		for _, c := range sub.Status.Conditions {
			if c.Type == "ResolutionFailed" && c.Status == "True" {
				return false, &OperatorError{
					Step:   "subscription " + name,
					Detail: c.Message + " (check the package exists in the catalog and channel)",
				}
			}
		}
		installed = strings.TrimSpace(sub.Status.InstalledCSV)
		if installed == "" {
			logrus.Infof("waiting for subscription %s to resolve", name)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if opErr, ok := err.(*OperatorError); ok {
			return "", opErr
		}
		return "", &OperatorError{Step: "subscription " + name, Detail: "no installedCSV within timeout"}
	}
	return installed, nil
}

func (i *Installer) waitForCSVByName(ctx context.Context, namespace, csvName string) error {
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, i.Cfg.OperatorTimeout, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "csv", csvName, "-n", namespace, "-o", "jsonpath={.status.phase}")
		if !res.Ok() {
			return false, nil
		}
		switch strings.TrimSpace(res.Stdout) {
		case "Succeeded":
			return true, nil
		case "Failed":
			return false, &OperatorError{Step: "CSV " + csvName, Detail: "install failed"}
		default:
			return false, nil
		}
	})
	if err != nil {
		if opErr, ok := err.(*OperatorError); ok {
			return opErr
		}
		return &OperatorError{Step: "CSV " + csvName, Detail: "not Succeeded within timeout"}
	}
	return nil
}

type csvItem struct {
	Spec struct {
		CustomResourceDefinitions struct {
			Owned []struct {
				Name    string `json:"name"`
				Kind    string `json:"kind"`
				Version string `json:"version"`
			} `json:"owned"`
		} `json:"customResourceDefinitions"`
	} `json:"spec"`
	Status struct {
		Phase string `json:"phase"`
	} `json:"status"`
}

// deviceConfigCRDFromCSV asks the installed AMD GPU operator CSV which
// CRD carries DeviceConfig. KMM also places a CSV in this namespace, so
// the discovery goes through the subscription's installedCSV.
func (i *Installer) deviceConfigCRDFromCSV() (crdName, apiVersion string) {
	res := i.OC.Oc(time.Minute, "get", "subscription", "amd-gpu-operator", "-n", NamespaceAMDGPU,
		"-o", "jsonpath={.status.installedCSV}")
	if !res.Ok() || strings.TrimSpace(res.Stdout) == "" {
		return "", ""
	}
	installed := strings.TrimSpace(res.Stdout)

	res = i.OC.Oc(time.Minute, "get", "csv", installed, "-n", NamespaceAMDGPU, "-o", "json")
	if !res.Ok() {
		return "", ""
	}
	var item csvItem
	if err := json.Unmarshal([]byte(res.Stdout), &item); err != nil {
		return "", ""
	}
	if item.Status.Phase != "Succeeded" {
		return "", ""
	}
	for _, crd := range item.Spec.CustomResourceDefinitions.Owned {
		if crd.Kind == "DeviceConfig" || strings.Contains(strings.ToLower(crd.Name), "deviceconfig") {
			version := crd.Version
			if version == "" {
				version = "v1alpha1"
			}
			if idx := strings.Index(crd.Name, "."); idx >= 0 {
				return crd.Name, crd.Name[idx+1:] + "/" + version
			}
			return crd.Name, "amd.com/" + version
		}
	}
	return "", ""
}

// waitForDeviceConfigCRD waits for the operator to register the
// DeviceConfig CRD and returns the apiVersion to create the CR with.
func (i *Installer) waitForDeviceConfigCRD(ctx context.Context) (string, error) {
	// The operator registers its CRDs shortly after the CSV succeeds.
	time.Sleep(i.Cfg.CRDSettle)

	crdName, apiVersion := i.deviceConfigCRDFromCSV()
	if crdName == "" {
		crdName, apiVersion = deviceConfigCRDName, "amd.com/v1alpha1"
	}
	if err := i.waitForCRD(ctx, crdName); err != nil {
		return "", err
	}
	return apiVersion, nil
}

func (i *Installer) waitForCRD(ctx context.Context, crdName string) error {
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, 3*time.Minute, true, func(ctx context.Context) (bool, error) {
		res := i.OC.Oc(time.Minute, "get", "crd", crdName,
			"-o", `jsonpath={.status.conditions[?(@.type=="Established")].status}`)
		return res.Ok() && strings.TrimSpace(res.Stdout) == "True", nil
	})
	if err != nil {
		detail := fmt.Sprintf("CRD %s never became Established", crdName)
		if amdCRDs := i.listAMDCRDs(); len(amdCRDs) > 0 {
			detail += ", AMD related CRDs present: " + strings.Join(amdCRDs, ", ")
		}
		return &OperatorError{Step: "DeviceConfig CRD", Detail: detail}
	}
	return nil
}

func (i *Installer) listAMDCRDs() []string {
	res := i.OC.Oc(time.Minute, "get", "crd", "-o", "jsonpath={.items[*].metadata.name}")
	if !res.Ok() {
		return nil
	}
	var names []string
	for _, name := range strings.Fields(res.Stdout) {
		if strings.Contains(strings.ToLower(name), "amd") {
			names = append(names, name)
		}
	}
	return names
}

func (i *Installer) enableMonitoring() error {
	res := i.OC.Oc(time.Minute, "label", "namespace", NamespaceAMDGPU,
		"openshift.io/cluster-monitoring=true", "--overwrite")
	if !res.Ok() {
		return &OperatorError{Step: "monitoring label", Detail: strings.TrimSpace(res.Stderr)}
	}
	return nil
}

// waitForGPUReady polls until the stack delivers: device plugin pods
// running and at least one node advertising amd.com/gpu capacity. The
// driver build through KMM dominates the wait.
func (i *Installer) waitForGPUReady(ctx context.Context) error {
	err := wait.PollUntilContextTimeout(ctx, i.Cfg.PollInterval, i.Cfg.GPUReadyTimeout, true, func(ctx context.Context) (bool, error) {
		pluginPods := 0
		res := i.OC.Oc(time.Minute, "get", "pods", "-n", NamespaceAMDGPU, "--no-headers")
		if res.Ok() {
			for _, line := range strings.Split(res.Stdout, "\n") {
				if strings.Contains(line, "device-plugin") && strings.Contains(line, "Running") {
					pluginPods++
				}
			}
		}

		totalGPUs := 0
		res = i.OC.Oc(time.Minute, "get", "nodes", "-o", `jsonpath={.items[*].status.capacity.amd\.com/gpu}`)
		if res.Ok() {
			for _, field := range strings.Fields(res.Stdout) {
				var n int
				if _, err := fmt.Sscanf(field, "%d", &n); err == nil {
					totalGPUs += n
				}
			}
		}

		if pluginPods > 0 && totalGPUs >= 1 {
			logrus.Infof("GPU ready: %d device plugin pod(s), %d GPU(s) advertised", pluginPods, totalGPUs)
			return true, nil
		}
		logrus.Infof("waiting for GPUs: %d device plugin pod(s), capacity %d", pluginPods, totalGPUs)
		return false, nil
	})
	if err != nil {
		return &OperatorError{
			Step:   "GPU readiness",
			Detail: fmt.Sprintf("no amd.com/gpu capacity within %s, check KMM build pods and operator logs", i.Cfg.GPUReadyTimeout),
		}
	}
	return nil
}
