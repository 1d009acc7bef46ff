package sim

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// AutoDevices returns the number of simulated devices to use when the caller
// does not specify one: one per logical CPU, minimum 1.
func AutoDevices() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// HostDescription returns a short platform summary for startup logging.
func HostDescription() string {
	info, err := host.Info()
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelArch)
}
