package tests

import (
	"flag"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ocpdeployer/pkg/k8s"
)

var (
	kubeconfig string
	client     k8s.DynamicClient
)

func TestTests(t *testing.T) {
	flag.StringVar(&kubeconfig, "kubeconfig", os.Getenv("KUBECONFIG"), "absolute path to the kubeconfig file")

	RegisterFailHandler(Fail)
	RunSpecs(t, "GPU Verification Suite")
}

var _ = BeforeEach(func() {
	if kubeconfig == "" {
		Skip("no kubeconfig provided, set KUBECONFIG or pass -kubeconfig")
	}

	config, err := k8s.NewConfig(kubeconfig)
	Expect(err).NotTo(HaveOccurred())

	client, err = k8s.NewDynamicClient(config)
	Expect(err).NotTo(HaveOccurred())
})
