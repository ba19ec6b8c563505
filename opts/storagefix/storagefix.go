package storagefix

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/libssh"
)

// guestfishScript wipes the container image store inside a CoreOS disk
// image. /dev/sda4 is the CoreOS root partition.
const guestfishScript = "run\nmount /dev/sda4 /\nglob rm-rf /ostree/deploy/rhcos/var/lib/containers/storage/*\n"

// storageFix clears stale container storage from control plane disks
// before first boot. Images cached from a previous deployment on the
// same pool otherwise leave the kubelet unable to start pods after the
// node comes up with mismatched image digests.
//
// libguestfs refuses to touch a disk that is in use, so the fix powers
// the guests off, wipes their disks, and boots them again. The
// stopped-VMs variant skips the power handling for callers that already
// hold the guests off.
type storageFix struct {
	cluster   string
	ctlplanes int
	sshClient libssh.Client

	powerCycle bool

	// shutdownPolls and pollInterval bound the graceful shutdown wait
	// per guest.
	shutdownPolls int
	pollInterval  time.Duration
}

func NewStorageFix(cluster string, ctlplanes int, sc libssh.Client) *storageFix {
	return &storageFix{
		cluster:       cluster,
		ctlplanes:     ctlplanes,
		sshClient:     sc,
		powerCycle:    true,
		shutdownPolls: 24,
		pollInterval:  5 * time.Second,
	}
}

// NewStorageFixForStoppedVMs returns a fix that expects the guests to
// be shut off already, for use inside another component's power window.
func NewStorageFixForStoppedVMs(cluster string, ctlplanes int, sc libssh.Client) *storageFix {
	fix := NewStorageFix(cluster, ctlplanes, sc)
	fix.powerCycle = false
	return fix
}

func (s *storageFix) Exec() error {
	if s.powerCycle {
		if err := s.shutdownAll(); err != nil {
			return err
		}
	}
	if err := s.wipeAll(); err != nil {
		return err
	}
	if s.powerCycle {
		return s.startAll()
	}
	return nil
}

func (s *storageFix) vmName(i int) string {
	return fmt.Sprintf("%s-ctlplane-%d", s.cluster, i)
}

func (s *storageFix) shutdownAll() error {
	for i := 0; i < s.ctlplanes; i++ {
		if err := s.shutdownVM(s.vmName(i)); err != nil {
			return err
		}
	}
	return nil
}

// shutdownVM asks the guest to power off and waits for it, destroying
// it when ACPI is ignored.
func (s *storageFix) shutdownVM(vm string) error {
	res, err := s.sshClient.Run(fmt.Sprintf("virsh domstate %s", vm), time.Minute)
	if err != nil {
		return err
	}
	if strings.Contains(res.Stdout, "shut off") {
		return nil
	}

	if err := s.sshClient.Command(fmt.Sprintf("virsh shutdown %s", vm)); err != nil {
		return err
	}
	for i := 0; i < s.shutdownPolls; i++ {
		time.Sleep(s.pollInterval)
		res, err := s.sshClient.Run(fmt.Sprintf("virsh domstate %s", vm), time.Minute)
		if err != nil {
			return err
		}
		if strings.Contains(res.Stdout, "shut off") {
			return nil
		}
	}
	logrus.Warnf("%s ignored the shutdown request, forcing it off", vm)
	return s.sshClient.Command(fmt.Sprintf("virsh destroy %s", vm))
}

func (s *storageFix) startAll() error {
	for i := 0; i < s.ctlplanes; i++ {
		if err := s.sshClient.Command(fmt.Sprintf("virsh start %s", s.vmName(i))); err != nil {
			return err
		}
	}
	return nil
}

func (s *storageFix) wipeAll() error {
	// guestfish ships with the libguestfs tools, which may not have
	// made it onto minimal hosts.
	if res, err := s.sshClient.Run("command -v guestfish || dnf -y install libguestfs-tools-c", 10*time.Minute); err != nil || !res.Ok() {
		logrus.Warn("guestfish unavailable, skipping container storage cleanup")
		return nil
	}

	for i := 0; i < s.ctlplanes; i++ {
		if err := s.wipeVM(s.vmName(i)); err != nil {
			return err
		}
	}
	return nil
}

// wipeVM edits the VM disk with guestfish. The guest must be shut off,
// libguestfs refuses to write a disk that is in use.
func (s *storageFix) wipeVM(vm string) error {
	res, err := s.sshClient.Run(fmt.Sprintf("virsh domstate %s", vm), time.Minute)
	if err != nil {
		return err
	}
	if !res.Ok() || !strings.Contains(res.Stdout, "shut off") {
		logrus.Infof("%s is not shut off, leaving its disk alone", vm)
		return nil
	}

	cmd := fmt.Sprintf("guestfish --rw -d %s <<'EOF'\n%sEOF", vm, guestfishScript)
	res, err = s.sshClient.Run(cmd, 10*time.Minute)
	if err != nil {
		return err
	}
	if !res.Ok() {
		logrus.Warnf("container storage cleanup on %s failed: %s", vm, strings.TrimSpace(res.Stderr))
		return nil
	}
	logrus.Infof("cleared container storage on %s", vm)
	return nil
}
