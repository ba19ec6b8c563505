package kcli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

// ConfigureError reports a failed hypervisor client setup together with
// the command output that explains it.
type ConfigureError struct {
	Client string
	Step   string
	Detail string
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("configuring kcli client %s failed at %s: %s", e.Client, e.Step, e.Detail)
}

// Configurator registers a remote libvirt host as a kcli client and
// makes sure kcli can actually reach it before anyone builds on it.
type Configurator struct {
	Host    string
	User    string
	KeyPath string
	Pool    string

	Fs      afero.Fs
	HomeDir string

	// VerifyTimeout bounds the reachability check. Zero means 2 minutes.
	VerifyTimeout time.Duration
}

// RegistryPath returns the kcli client registry location under the
// configured home directory.
func (c *Configurator) RegistryPath() string {
	return filepath.Join(c.HomeDir, ".kcli", "config.yml")
}

// Configure registers the host, wires up SSH access for kcli's
// connection plugin and verifies the client responds. It returns the
// client name to pass to kcli invocations.
func (c *Configurator) Configure() (string, error) {
	name := ClientNameForHost(c.Host)
	pool := c.Pool
	if pool == "" {
		pool = "default"
	}

	entry := ClientEntry{
		Host:     c.Host,
		User:     c.User,
		Protocol: "ssh",
		Pool:     pool,
		Type:     "kvm",
	}
	if err := UpsertClient(c.Fs, c.RegistryPath(), name, entry); err != nil {
		return "", err
	}
	logrus.Infof("registered kcli client %q for %s@%s", name, c.User, c.Host)

	if err := c.writeSSHConfig(name); err != nil {
		return "", err
	}
	staged, err := c.stageKey()
	if err != nil {
		return "", err
	}
	c.ensureAgent(staged)
	if err := c.verify(name); err != nil {
		return "", err
	}
	return name, nil
}

// writeSSHConfig appends a Host block for the hypervisor so libvirt's
// ssh transport finds the right key and skips host key prompts. Already
// present blocks are left alone.
func (c *Configurator) writeSSHConfig(name string) error {
	sshDir := filepath.Join(c.HomeDir, ".ssh")
	if err := c.Fs.MkdirAll(sshDir, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", sshDir)
	}
	path := filepath.Join(sshDir, "config")

	existing, err := afero.ReadFile(c.Fs, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "reading %s", path)
	}
	marker := fmt.Sprintf("Host %s %s", name, c.Host)
	if strings.Contains(string(existing), marker) {
		return nil
	}

	block := fmt.Sprintf("\n%s\n    HostName %s\n    User %s\n    IdentityFile %s\n    StrictHostKeyChecking no\n    UserKnownHostsFile /dev/null\n",
		marker, c.Host, c.User, c.KeyPath)
	f, err := c.Fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return errors.Wrapf(err, "appending to %s", path)
	}
	return nil
}

// stageKey copies the hypervisor key to ~/.ssh/id_rsa and derives the
// matching public key next to it. kcli shells out to ssh with the
// default identity and never reads the per-host IdentityFile entry, so
// the key has to sit at the default location too. Returns the staged
// key path.
func (c *Configurator) stageKey() (string, error) {
	sshDir := filepath.Join(c.HomeDir, ".ssh")
	if err := c.Fs.MkdirAll(sshDir, 0o700); err != nil {
		return "", errors.Wrapf(err, "creating %s", sshDir)
	}
	key, err := afero.ReadFile(c.Fs, c.KeyPath)
	if err != nil {
		return "", errors.Wrapf(err, "reading key %s", c.KeyPath)
	}
	staged := filepath.Join(sshDir, "id_rsa")
	if err := afero.WriteFile(c.Fs, staged, key, 0o600); err != nil {
		return "", errors.Wrapf(err, "staging key at %s", staged)
	}

	pub := staged + ".pub"
	if ok, _ := afero.Exists(c.Fs, pub); !ok {
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return "", errors.Wrapf(err, "parsing key %s", c.KeyPath)
		}
		if err := afero.WriteFile(c.Fs, pub, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0o644); err != nil {
			return "", errors.Wrapf(err, "writing %s", pub)
		}
	}
	return staged, nil
}

// ensureAgent loads the staged key into an ssh-agent, starting one when
// none is running. Failures here are tolerated, the IdentityFile entry
// still covers direct ssh.
func (c *Configurator) ensureAgent(key string) {
	if os.Getenv("SSH_AUTH_SOCK") == "" {
		out, err := exec.Command("ssh-agent", "-s").Output()
		if err != nil {
			logrus.Warnf("could not start ssh-agent: %v", err)
			return
		}
		for _, name := range []string{"SSH_AUTH_SOCK", "SSH_AGENT_PID"} {
			if v := agentVar(string(out), name); v != "" {
				os.Setenv(name, v)
			}
		}
		logrus.Infof("started ssh-agent (pid %s)", os.Getenv("SSH_AGENT_PID"))
	}
	if out, err := exec.Command("ssh-add", key).CombinedOutput(); err != nil {
		logrus.Warnf("ssh-add %s failed: %s", key, strings.TrimSpace(string(out)))
	}
}

// agentVar pulls one VAR=value assignment out of ssh-agent's shell
// formatted output.
func agentVar(out, name string) string {
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Split(line, ";") {
			field = strings.TrimSpace(field)
			if v, ok := strings.CutPrefix(field, name+"="); ok {
				return v
			}
		}
	}
	return ""
}

// verify retries 'kcli list vm' against the new client until it answers
// or the timeout passes. The remote libvirt daemon can take a few
// seconds to accept connections right after host preparation.
func (c *Configurator) verify(name string) error {
	timeout := c.VerifyTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	k := &Kcli{ClientName: name}

	var lastOut string
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	err := backoff.Retry(func() error {
		out, err := k.ListVM()
		lastOut = out
		if err != nil {
			logrus.Debugf("kcli client %s not ready yet: %v", name, err)
		}
		return err
	}, policy)
	if err != nil {
		return &ConfigureError{
			Client: name,
			Step:   "verification",
			Detail: fmt.Sprintf("%s (reproduce with: kcli -C %s list vm)", strings.TrimSpace(lastOut), name),
		}
	}
	logrus.Infof("kcli client %q verified", name)
	return nil
}
