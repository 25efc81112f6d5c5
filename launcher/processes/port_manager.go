package processes

import (
	"fmt"
	"net"
	"strconv"
)

// PortManager finds a free TCP port for the backend by binding candidate
// ports on the loopback interface and releasing them straight away.
//
// The port can be taken by someone else between the probe and the backend's
// own bind. That window is accepted; the health check catches the result.
type PortManager struct {
	host   string
	listen func(network, address string) (net.Listener, error)
}

// NewPortManager creates a PortManager probing 127.0.0.1.
func NewPortManager() *PortManager {
	return &PortManager{
		host:   "127.0.0.1",
		listen: net.Listen,
	}
}

// Allocate returns the first port in [basePort, basePort+scanWidth) that can
// be bound. Ports are tried in ascending order, each at most once.
func (pm *PortManager) Allocate(basePort, scanWidth int) (int, error) {
	if scanWidth <= 0 {
		return 0, fmt.Errorf("invalid scan width %d", scanWidth)
	}
	if basePort <= 0 || basePort+scanWidth-1 > 65535 {
		return 0, fmt.Errorf("invalid port range: base %d, width %d", basePort, scanWidth)
	}

	for port := basePort; port < basePort+scanWidth; port++ {
		l, err := pm.listen("tcp", net.JoinHostPort(pm.host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, &PortExhaustionError{BasePort: basePort, ScanWidth: scanWidth}
}
