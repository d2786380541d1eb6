package glitch

import (
	"fmt"
	"os"
	"path/filepath"

	"go.bug.st/serial/enumerator"
)

// DefaultDeviceLink is the udev by-id link of the Digilent Adept bridge the
// glitcher FPGA board enumerates as.
const DefaultDeviceLink = "/dev/serial/by-id/usb-Digilent_Digilent_Adept_USB_Device_210328AFE462-if01-port0"

// FindDevice resolves a by-id style symlink to the tty it points at. A
// relative link target is resolved against the link's directory.
func FindDevice(link string) (string, error) {
	fi, err := os.Lstat(link)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", link, ErrDeviceNotFound)
		}
		return "", fmt.Errorf("inspecting %s: %w", link, err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", fmt.Errorf("%s is not a symlink: %w", link, ErrDeviceNotFound)
	}

	target, err := os.Readlink(link)
	if err != nil {
		return "", fmt.Errorf("reading link %s: %w", link, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", target, err)
	}
	return resolved, nil
}

type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			USB:          p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return infos, nil
}
