package processes

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
)

type nopListener struct{}

func (nopListener) Accept() (net.Conn, error) { return nil, errors.New("not implemented") }
func (nopListener) Close() error              { return nil }
func (nopListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

// fakeListen reports every port in busy as taken and records each probe.
func fakeListen(busy map[int]bool, probed *[]int) func(string, string) (net.Listener, error) {
	return func(network, address string) (net.Listener, error) {
		_, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		port, _ := strconv.Atoi(portStr)
		*probed = append(*probed, port)
		if busy[port] {
			return nil, fmt.Errorf("listen tcp %s: bind: address already in use", address)
		}
		return nopListener{}, nil
	}
}

// TestAllocateSkipsOccupiedBasePort is the 3000-taken, 3001-free case
func TestAllocateSkipsOccupiedBasePort(t *testing.T) {
	var probed []int
	pm := &PortManager{host: "127.0.0.1", listen: fakeListen(map[int]bool{3000: true}, &probed)}

	port, err := pm.Allocate(3000, 100)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port != 3001 {
		t.Errorf("Allocate = %d, want 3001", port)
	}
	if fmt.Sprint(probed) != "[3000 3001]" {
		t.Errorf("probed %v, want [3000 3001]", probed)
	}
}

func TestAllocateScansUpwardOnce(t *testing.T) {
	var probed []int
	busy := map[int]bool{5000: true, 5001: true, 5002: true}
	pm := &PortManager{host: "127.0.0.1", listen: fakeListen(busy, &probed)}

	port, err := pm.Allocate(5000, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port != 5003 {
		t.Errorf("Allocate = %d, want 5003", port)
	}
	for i, p := range probed {
		if p != 5000+i {
			t.Fatalf("probe %d was port %d, want %d (probes %v)", i, p, 5000+i, probed)
		}
	}
}

func TestAllocateExhausted(t *testing.T) {
	var probed []int
	busy := map[int]bool{}
	for p := 4000; p < 4005; p++ {
		busy[p] = true
	}
	pm := &PortManager{host: "127.0.0.1", listen: fakeListen(busy, &probed)}

	_, err := pm.Allocate(4000, 5)
	var exhausted *PortExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *PortExhaustionError, got %v", err)
	}
	if exhausted.BasePort != 4000 || exhausted.ScanWidth != 5 {
		t.Errorf("error = %+v, want base 4000 width 5", exhausted)
	}
	if len(probed) != 5 {
		t.Errorf("probed %d ports, want exactly 5", len(probed))
	}
}

func TestAllocateInvalidArguments(t *testing.T) {
	tests := []struct {
		name  string
		base  int
		width int
	}{
		{"zero width", 3000, 0},
		{"negative width", 3000, -1},
		{"zero base", 0, 10},
		{"past max port", 65530, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var probed []int
			pm := &PortManager{host: "127.0.0.1", listen: fakeListen(nil, &probed)}
			if _, err := pm.Allocate(tt.base, tt.width); err == nil {
				t.Fatal("expected an error")
			}
			if len(probed) != 0 {
				t.Errorf("invalid arguments should not probe, probed %v", probed)
			}
		})
	}
}

// TestAllocateRealSocket occupies a real port and checks it is never returned
func TestAllocateRealSocket(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port
	if busy+20 > 65535 {
		t.Skip("ephemeral port too close to the top of the range")
	}

	port, err := NewPortManager().Allocate(busy, 20)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port == busy {
		t.Fatalf("Allocate returned occupied port %d", port)
	}
	if port < busy || port >= busy+20 {
		t.Fatalf("Allocate returned %d outside [%d, %d)", port, busy, busy+20)
	}

	// The probe was released, so the port can be bound right away.
	l2, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("allocated port %d is not bindable: %v", port, err)
	}
	l2.Close()
}
