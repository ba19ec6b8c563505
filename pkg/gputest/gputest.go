package gputest

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ocpdeployer/pkg/kcli"
)

const (
	defaultTunnelWait = 30 * time.Second
	tunnelStopGrace   = 5 * time.Second
)

// Runner executes the GPU verification suite as a child process with
// KUBECONFIG pointing at the target cluster and reports its exit code.
type Runner struct {
	// Suite is the verification command, e.g.
	// ["go", "test", "./tests/gpu/...", "-v", "-count=1"].
	Suite []string
	// Dir is the working directory for the suite, empty means inherit.
	Dir string
	// TunnelWait bounds how long RunRemote waits for the forwarded
	// port to accept connections. Zero means 30s.
	TunnelWait time.Duration
}

// Run launches the suite against the cluster behind kubeconfigPath.
// A non-zero suite exit is returned as the code with a nil error,
// errors are reserved for failing to run the suite at all.
func (r *Runner) Run(kubeconfigPath string) (int, error) {
	if len(r.Suite) == 0 {
		return 0, errors.New("no verification suite configured")
	}
	abs, err := filepath.Abs(kubeconfigPath)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving %s", kubeconfigPath)
	}

	logrus.Infof("running GPU verification suite: %v", r.Suite)
	cmd := exec.Command(r.Suite[0], r.Suite[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "KUBECONFIG="+abs)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logrus.Warnf("GPU verification suite failed with exit code %d", exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		return 0, errors.Wrap(err, "running verification suite")
	}
	logrus.Info("GPU verification suite passed")
	return 0, nil
}

// RunRemote runs the suite against a cluster whose API is only reachable
// from the remote hypervisor. It opens an SSH port-forward to the API
// server, points a temporary kubeconfig at the tunnel and tears both
// down afterwards.
func (r *Runner) RunRemote(host, user, keyPath, kubeconfigPath string) (int, error) {
	raw, err := os.ReadFile(kubeconfigPath)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s", kubeconfigPath)
	}
	apiHost, apiPort, err := apiEndpoint(raw)
	if err != nil {
		return 0, err
	}
	localPort, err := freePort()
	if err != nil {
		return 0, err
	}

	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
	}
	if keyPath != "" {
		args = append(args, "-i", keyPath)
	}
	args = append(args,
		"-L", fmt.Sprintf("127.0.0.1:%d:%s:%d", localPort, apiHost, apiPort),
		"-N", fmt.Sprintf("%s@%s", user, host),
	)

	logrus.Infof("opening SSH tunnel 127.0.0.1:%d -> %s:%d via %s", localPort, apiHost, apiPort, host)
	tunnel, err := kcli.StartProcess("ssh", args...)
	if err != nil {
		return 0, errors.Wrap(err, "starting SSH tunnel")
	}
	defer func() {
		tunnel.Stop(tunnelStopGrace)
		logrus.Info("SSH tunnel closed")
	}()

	if err := waitForPort(tunnel, localPort, r.tunnelWait()); err != nil {
		return 0, err
	}

	rewritten, err := rewriteForTunnel(raw, localPort)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp("", "gpu-test-*.kubeconfig")
	if err != nil {
		return 0, errors.Wrap(err, "creating temporary kubeconfig")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(rewritten); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "writing temporary kubeconfig")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "writing temporary kubeconfig")
	}

	return r.Run(tmp.Name())
}

func (r *Runner) tunnelWait() time.Duration {
	if r.TunnelWait > 0 {
		return r.TunnelWait
	}
	return defaultTunnelWait
}

// apiEndpoint extracts the API server host and port from kubeconfig
// bytes.
func apiEndpoint(raw []byte) (string, int, error) {
	var kc kubeconfig
	if err := yaml.Unmarshal(raw, &kc); err != nil {
		return "", 0, errors.Wrap(err, "parsing kubeconfig")
	}
	if len(kc.Clusters) == 0 {
		return "", 0, errors.New("kubeconfig has no clusters")
	}
	server, _ := kc.Clusters[0].Cluster["server"].(string)
	u, err := url.Parse(server)
	if err != nil || u.Hostname() == "" {
		return "", 0, errors.Errorf("kubeconfig has no usable server URL: %q", server)
	}
	port := 6443
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return "", 0, errors.Errorf("bad API port in %q", server)
		}
	}
	return u.Hostname(), port, nil
}

// rewriteForTunnel points the first cluster at the local forwarded port.
// The certificate is issued for the API hostname, not 127.0.0.1, so TLS
// verification has to be skipped.
func rewriteForTunnel(raw []byte, localPort int) ([]byte, error) {
	var kc kubeconfig
	if err := yaml.Unmarshal(raw, &kc); err != nil {
		return nil, errors.Wrap(err, "parsing kubeconfig")
	}
	if len(kc.Clusters) == 0 {
		return nil, errors.New("kubeconfig has no clusters")
	}
	cluster := kc.Clusters[0].Cluster
	cluster["server"] = fmt.Sprintf("https://127.0.0.1:%d", localPort)
	delete(cluster, "certificate-authority-data")
	cluster["insecure-skip-tls-verify"] = true
	return yaml.Marshal(&kc)
}

type kubeconfig struct {
	APIVersion     string         `yaml:"apiVersion,omitempty"`
	Kind           string         `yaml:"kind,omitempty"`
	Clusters       []namedCluster `yaml:"clusters"`
	Contexts       []yaml.Node    `yaml:"contexts,omitempty"`
	CurrentContext string         `yaml:"current-context,omitempty"`
	Preferences    yaml.Node      `yaml:"preferences,omitempty"`
	Users          []yaml.Node    `yaml:"users,omitempty"`
}

type namedCluster struct {
	Name    string         `yaml:"name"`
	Cluster map[string]any `yaml:"cluster"`
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "finding a free local port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForPort(tunnel *kcli.Process, port int, timeout time.Duration) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tunnel.Exited() {
			return errors.Errorf("SSH tunnel exited with code %d: %s", tunnel.ExitCode(), tunnel.Output())
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(time.Second)
	}
	return errors.Errorf("SSH tunnel port %d not reachable after %s", port, timeout)
}
