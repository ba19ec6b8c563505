package operators

// Namespaces for the GPU operator stack.
const (
	NamespaceNFD    = "openshift-nfd"
	NamespaceKMM    = "openshift-kmm"
	NamespaceAMDGPU = "openshift-amd-gpu"
)

// OLM subscription coordinates. Channels vary between catalog
// releases; check with
// oc get packagemanifest <pkg> -n openshift-marketplace -o jsonpath='{.status.channels[*].name}'
const (
	nfdPackage = "nfd"
	nfdCatalog = "redhat-operators"
	nfdChannel = "stable"

	kmmPackage = "kernel-module-management"
	kmmCatalog = "redhat-operators"
	kmmChannel = "stable"

	amdGPUPackage = "amd-gpu-operator"
	amdGPUCatalog = "certified-operators"
	// alpha is where the certified operator publishes; stable has no bundles.
	amdGPUChannel = "alpha"
)

const (
	registryNamespace    = "openshift-image-registry"
	registryPatchStorage = `{"spec":{"storage":{"emptyDir":{}}}}`
	registryPatchManaged = `{"spec":{"managementState":"Managed"}}`
	registryPatchRemoved = `{"spec":{"managementState":"Removed"}}`
)

// base64 of "blacklist amdgpu\n"
const amdgpuBlacklistB64 = "YmxhY2tsaXN0IGFtZGdwdQo="

const (
	deviceConfigCRDName = "deviceconfigs.amd.com"
	deviceConfigName    = "amd-gpu-device-config"
	machineConfigName   = "amdgpu-module-blacklist"
	nfdInstanceName     = "amd-gpu-nfd-instance"
	nfdFeatureRuleName  = "amd-gpu-feature-rule"

	amdGPULabel        = "feature.node.kubernetes.io/amd-gpu"
	defaultDriverImage = "image-registry.openshift-image-registry.svc:5000/$MOD_NAMESPACE/amdgpu_kmod"

	// DefaultDriverVersion is the ROCm driver built when the config
	// does not pin one.
	DefaultDriverVersion = "30.20.1"
)
