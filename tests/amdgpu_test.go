package tests

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	namespaceAMDGPU    = "openshift-amd-gpu"
	namespaceRegistry  = "openshift-image-registry"
	deviceConfigName   = "amd-gpu-device-config"
	gpuResourceName    = "amd.com/gpu"
	nfdLabelKey        = "feature.node.kubernetes.io/amd-gpu"
	devicePluginPrefix = deviceConfigName + "-device-plugin-"
	nodeLabellerPrefix = deviceConfigName + "-node-labeller-"
)

var (
	podGVK  = schema.GroupVersionKind{Group: "", Version: "v1", Kind: "Pod"}
	nodeGVK = schema.GroupVersionKind{Group: "", Version: "v1", Kind: "Node"}
)

func listPods(ns, namePrefix string) ([]corev1.Pod, error) {
	objs, err := client.List(podGVK, ns)
	if err != nil {
		return nil, err
	}

	var pods []corev1.Pod
	for i := range objs.Items {
		pod := corev1.Pod{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(objs.Items[i].Object, &pod); err != nil {
			return nil, err
		}
		if strings.HasPrefix(pod.Name, namePrefix) {
			pods = append(pods, pod)
		}
	}
	return pods, nil
}

func gpuNodes() ([]corev1.Node, error) {
	objs, err := client.List(nodeGVK, "")
	if err != nil {
		return nil, err
	}

	var nodes []corev1.Node
	for i := range objs.Items {
		node := corev1.Node{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(objs.Items[i].Object, &node); err != nil {
			return nil, err
		}
		if node.Labels[nfdLabelKey] == "true" {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

func retry(operation func() error) error {
	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.InitialInterval = 10 * time.Second
	backoffStrategy.MaxElapsedTime = 3 * time.Minute
	return backoff.Retry(operation, backoffStrategy)
}

var _ = Describe("AMD GPU operator stack", func() {
	It("should run the internal image registry", func() {
		err := retry(func() error {
			pods, err := listPods(namespaceRegistry, "image-registry-")
			if err != nil {
				return err
			}
			for _, pod := range pods {
				if pod.Status.Phase == corev1.PodRunning {
					return nil
				}
			}
			return fmt.Errorf("no running image-registry pod in %s", namespaceRegistry)
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should have NFD labelled the GPU nodes", func() {
		err := retry(func() error {
			nodes, err := gpuNodes()
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("no node carries %s=true", nfdLabelKey)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should expose the DeviceConfig", func() {
		obj, err := client.Get(schema.GroupVersionKind{
			Group:   "amd.com",
			Version: "v1alpha1",
			Kind:    "DeviceConfig",
		}, deviceConfigName, namespaceAMDGPU)
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.GetName()).To(Equal(deviceConfigName))
	})

	It("should run a node labeller pod", func() {
		err := retry(func() error {
			pods, err := listPods(namespaceAMDGPU, nodeLabellerPrefix)
			if err != nil {
				return err
			}
			if len(pods) == 0 {
				return fmt.Errorf("no node-labeller pods in %s", namespaceAMDGPU)
			}
			for _, pod := range pods {
				if pod.Status.Phase != corev1.PodRunning {
					return fmt.Errorf("node-labeller pod %s is %s", pod.Name, pod.Status.Phase)
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should run one healthy device-plugin pod per GPU node", func() {
		err := retry(func() error {
			nodes, err := gpuNodes()
			if err != nil {
				return err
			}
			pods, err := listPods(namespaceAMDGPU, devicePluginPrefix)
			if err != nil {
				return err
			}
			if len(pods) != len(nodes) {
				return fmt.Errorf("expected %d device-plugin pod(s), found %d", len(nodes), len(pods))
			}
			for _, pod := range pods {
				if pod.Status.Phase != corev1.PodRunning {
					return fmt.Errorf("device-plugin pod %s is %s", pod.Name, pod.Status.Phase)
				}
				for _, cs := range pod.Status.ContainerStatuses {
					if !cs.Ready {
						return fmt.Errorf("container %s in pod %s is not ready", cs.Name, pod.Name)
					}
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should report allocatable GPUs on every GPU node", func() {
		err := retry(func() error {
			nodes, err := gpuNodes()
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("no GPU nodes found")
			}
			for _, node := range nodes {
				capacity := resourceCount(node.Status.Capacity)
				allocatable := resourceCount(node.Status.Allocatable)
				if capacity < 1 || allocatable < 1 {
					return fmt.Errorf("node %s reports capacity=%d allocatable=%d for %s",
						node.Name, capacity, allocatable, gpuResourceName)
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})
})

func resourceCount(list corev1.ResourceList) int {
	quantity, ok := list[corev1.ResourceName(gpuResourceName)]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(quantity.String())
	if err != nil {
		return 0
	}
	return n
}
