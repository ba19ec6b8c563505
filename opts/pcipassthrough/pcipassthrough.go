package pcipassthrough

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/libssh"
)

var pciAddress = regexp.MustCompile(`^([0-9a-fA-F]{4}):([0-9a-fA-F]{2}):([0-9a-fA-F]{2})\.([0-9a-fA-F])$`)

// HostdevXML renders the libvirt hostdev element for a PCI device given
// as dddd:bb:ss.f.
func HostdevXML(address string) (string, error) {
	m := pciAddress.FindStringSubmatch(address)
	if m == nil {
		return "", errors.Errorf("malformed PCI address %q, expected dddd:bb:ss.f", address)
	}
	return fmt.Sprintf(`<hostdev mode='subsystem' type='pci' managed='yes'>
  <source>
    <address domain='0x%s' bus='0x%s' slot='0x%s' function='0x%s'/>
  </source>
</hostdev>
`, m[1], m[2], m[3], m[4]), nil
}

// pciPassthrough attaches host PCI devices to a VM. The guest must be
// off while the devices are wired in, so the flow is shutdown, attach,
// run the caller's hook, boot.
type pciPassthrough struct {
	vm        string
	devices   []string
	sshClient libssh.Client

	// preStart runs between attachment and boot, while the guest is
	// still off. Optional.
	preStart func() error

	// shutdownPolls and pollInterval bound the graceful shutdown wait.
	shutdownPolls int
	pollInterval  time.Duration
}

func NewPCIPassthrough(vm string, devices []string, sc libssh.Client, preStart func() error) *pciPassthrough {
	return &pciPassthrough{
		vm:            vm,
		devices:       devices,
		sshClient:     sc,
		preStart:      preStart,
		shutdownPolls: 24,
		pollInterval:  5 * time.Second,
	}
}

func (p *pciPassthrough) Exec() error {
	if len(p.devices) == 0 {
		return nil
	}
	if err := p.shutdown(); err != nil {
		return err
	}
	for _, dev := range p.devices {
		if err := p.attach(dev); err != nil {
			return err
		}
	}
	if p.preStart != nil {
		if err := p.preStart(); err != nil {
			return err
		}
	}
	return p.sshClient.Command(fmt.Sprintf("virsh start %s", p.vm))
}

// shutdown asks the guest to power off and waits for it, destroying it
// when ACPI is ignored.
func (p *pciPassthrough) shutdown() error {
	res, err := p.sshClient.Run(fmt.Sprintf("virsh domstate %s", p.vm), time.Minute)
	if err != nil {
		return err
	}
	if strings.Contains(res.Stdout, "shut off") {
		return nil
	}

	if err := p.sshClient.Command(fmt.Sprintf("virsh shutdown %s", p.vm)); err != nil {
		return err
	}
	for i := 0; i < p.shutdownPolls; i++ {
		time.Sleep(p.pollInterval)
		res, err := p.sshClient.Run(fmt.Sprintf("virsh domstate %s", p.vm), time.Minute)
		if err != nil {
			return err
		}
		if strings.Contains(res.Stdout, "shut off") {
			return nil
		}
	}
	logrus.Warnf("%s ignored the shutdown request, forcing it off", p.vm)
	return p.sshClient.Command(fmt.Sprintf("virsh destroy %s", p.vm))
}

func (p *pciPassthrough) attach(address string) error {
	xml, err := HostdevXML(address)
	if err != nil {
		return err
	}
	file := fmt.Sprintf("/tmp/hostdev-%s.xml", strings.NewReplacer(":", "-", ".", "-").Replace(address))
	writeCmd := fmt.Sprintf("cat > %s <<'EOF'\n%sEOF", file, xml)
	if err := p.sshClient.Command(writeCmd); err != nil {
		return err
	}
	if err := p.sshClient.Command(fmt.Sprintf("virsh attach-device %s %s --config", p.vm, file)); err != nil {
		return err
	}
	logrus.Infof("attached PCI device %s to %s", address, p.vm)
	return p.sshClient.Command(fmt.Sprintf("rm -f %s", file))
}
