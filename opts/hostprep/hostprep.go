package hostprep

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/libssh"
)

// PrepareError reports a failed host preparation step with enough
// context to fix the host by hand.
type PrepareError struct {
	Host string
	Step string
	Hint string
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("preparing host %s failed at %s: %s", e.Host, e.Step, e.Hint)
}

const ocMirrorURL = "https://mirror.openshift.com/pub/openshift-v4/clients/ocp/stable/openshift-client-linux.tar.gz"

// hostPrep turns a bare Linux machine into a libvirt hypervisor that
// kcli can drive: virtualization packages, a default storage pool, a
// running daemon and the oc client. Every step is idempotent so the
// whole thing can be re-run against an already prepared host.
type hostPrep struct {
	host      string
	sshClient libssh.Client
}

func NewHostPrep(host string, sc libssh.Client) *hostPrep {
	return &hostPrep{
		host:      host,
		sshClient: sc,
	}
}

func (h *hostPrep) Exec() error {
	if err := h.probe(); err != nil {
		return err
	}
	if err := h.installVirtualization(); err != nil {
		return err
	}
	h.fixDaemonAccess()
	if err := h.ensureStoragePool(); err != nil {
		return err
	}
	if err := h.verifyLibvirt(); err != nil {
		return err
	}
	return h.installOcClient()
}

func (h *hostPrep) probe() error {
	res, err := h.sshClient.Run("echo ok", time.Minute)
	if err != nil || !res.Ok() {
		return &PrepareError{
			Host: h.host,
			Step: "connectivity check",
			Hint: fmt.Sprintf("cannot run commands on the host, check ssh access with: ssh root@%s", h.host),
		}
	}
	return nil
}

func (h *hostPrep) installVirtualization() error {
	res, err := h.sshClient.Run("command -v virsh", time.Minute)
	if err != nil {
		return &PrepareError{Host: h.host, Step: "virsh detection", Hint: err.Error()}
	}
	if res.Ok() {
		logrus.Infof("virsh already present on %s", h.host)
		return nil
	}

	// Package manager varies across RHEL, CentOS and Debian hosts.
	installers := []struct {
		manager string
		install string
	}{
		{"dnf", "dnf -y install libvirt libvirt-daemon-driver-qemu qemu-kvm libguestfs-tools-c genisoimage"},
		{"yum", "yum -y install libvirt libvirt-daemon-driver-qemu qemu-kvm libguestfs-tools-c genisoimage"},
		{"apt-get", "apt-get -y install libvirt-daemon-system qemu-kvm libguestfs-tools genisoimage"},
	}
	for _, in := range installers {
		res, err := h.sshClient.Run(fmt.Sprintf("command -v %s", in.manager), time.Minute)
		if err != nil {
			return &PrepareError{Host: h.host, Step: "package manager detection", Hint: err.Error()}
		}
		if !res.Ok() {
			continue
		}
		res, err = h.sshClient.Run(in.install, 15*time.Minute)
		if err != nil {
			return &PrepareError{Host: h.host, Step: "package installation", Hint: err.Error()}
		}
		if !res.Ok() {
			return &PrepareError{Host: h.host, Step: "package installation", Hint: strings.TrimSpace(res.Stderr)}
		}
		logrus.Infof("installed virtualization packages on %s with %s", h.host, in.manager)
		return h.enableDaemon()
	}
	return &PrepareError{
		Host: h.host,
		Step: "package manager detection",
		Hint: "no supported package manager found (dnf, yum or apt-get)",
	}
}

func (h *hostPrep) enableDaemon() error {
	if err := h.sshClient.Command("systemctl enable --now libvirtd"); err != nil {
		return &PrepareError{Host: h.host, Step: "starting libvirtd", Hint: err.Error()}
	}
	return nil
}

// fixDaemonAccess handles two host quirks that break kcli later in
// confusing ways: stale admin tokens under /run/libvirt/common that
// fail client handshakes after a package update, and hosts shipping
// the modular daemons without their sockets activated. Both fixes are
// best effort.
func (h *hostPrep) fixDaemonAccess() {
	cmds := []string{
		"rm -rf /run/libvirt/common && systemctl restart virtlogd libvirtd",
		"for s in virtqemud virtnetworkd virtstoraged; do systemctl enable --now $s.socket 2>/dev/null || true; done",
	}
	for _, cmd := range cmds {
		if res, err := h.sshClient.Run(cmd, time.Minute); err != nil || !res.Ok() {
			logrus.Debugf("daemon access fix %q did not apply cleanly", cmd)
		}
	}
}

func (h *hostPrep) ensureStoragePool() error {
	cmds := []string{
		"mkdir -p /var/lib/libvirt/images",
		"virsh pool-define-as default dir --target /var/lib/libvirt/images",
		"virsh pool-start default",
		"virsh pool-autostart default",
	}
	for _, cmd := range cmds {
		res, err := h.sshClient.Run(cmd, time.Minute)
		if err != nil {
			return &PrepareError{Host: h.host, Step: "storage pool setup", Hint: err.Error()}
		}
		if !res.Ok() && !poolAlreadyConfigured(res.Stderr) {
			return &PrepareError{Host: h.host, Step: "storage pool setup", Hint: strings.TrimSpace(res.Stderr)}
		}
	}
	return nil
}

func poolAlreadyConfigured(stderr string) bool {
	return strings.Contains(stderr, "already exists") ||
		strings.Contains(stderr, "already active") ||
		strings.Contains(stderr, "pool 'default' already")
}

func (h *hostPrep) verifyLibvirt() error {
	res, err := h.sshClient.Run("virsh list --all", time.Minute)
	if err != nil || !res.Ok() {
		hint := "libvirt daemon is not answering, check: systemctl status libvirtd"
		if err == nil {
			hint = fmt.Sprintf("%s (%s)", hint, strings.TrimSpace(res.Stderr))
		}
		return &PrepareError{Host: h.host, Step: "libvirt verification", Hint: hint}
	}
	return nil
}

func (h *hostPrep) installOcClient() error {
	res, err := h.sshClient.Run("command -v oc", time.Minute)
	if err != nil {
		return &PrepareError{Host: h.host, Step: "oc detection", Hint: err.Error()}
	}
	if res.Ok() {
		return nil
	}
	cmd := fmt.Sprintf("curl -sL %s | tar -xz -C /usr/local/bin oc kubectl", ocMirrorURL)
	res, err = h.sshClient.Run(cmd, 10*time.Minute)
	if err != nil || !res.Ok() {
		hint := "download from mirror.openshift.com failed"
		if err == nil {
			hint = fmt.Sprintf("%s: %s", hint, strings.TrimSpace(res.Stderr))
		}
		return &PrepareError{Host: h.host, Step: "oc client installation", Hint: hint}
	}
	logrus.Infof("installed oc client on %s", h.host)
	return nil
}
