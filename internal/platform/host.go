package platform

import (
	"net"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/dxb134111/roc-droid-modified/internal/logging"
)

// HostSummary describes the machine the sender runs on.
type HostSummary struct {
	Hostname   string      `json:"hostname"`
	OS         string      `json:"os"`
	Platform   string      `json:"platform"`
	Kernel     string      `json:"kernel"`
	Arch       string      `json:"arch"`
	Interfaces []Interface `json:"interfaces"`
}

// Interface is a network interface with a usable IPv4 address.
type Interface struct {
	Name      string `json:"name"`
	IPv4      string `json:"ipv4"`
	Multicast bool   `json:"multicast"`
}

// Summarize collects host details. Partial results are returned when one
// of the probes fails.
func Summarize() (HostSummary, error) {
	summary := HostSummary{Arch: runtime.GOARCH}

	info, err := host.Info()
	if err == nil {
		summary.Hostname = info.Hostname
		summary.OS = info.OS
		summary.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		summary.Kernel = info.KernelVersion
	} else {
		log.Warn("host info unavailable", logging.KeyError, err)
	}

	ifaces, ierr := psnet.Interfaces()
	if ierr != nil {
		return summary, ierr
	}
	summary.Interfaces = usableInterfaces(ifaces)
	return summary, err
}

func usableInterfaces(ifaces psnet.InterfaceStatList) []Interface {
	var out []Interface
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil {
				continue
			}
			out = append(out, Interface{
				Name:      iface.Name,
				IPv4:      ip.String(),
				Multicast: hasFlag(iface.Flags, "multicast"),
			})
			break
		}
	}
	return out
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
