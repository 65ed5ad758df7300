package fleet

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
)

const (
	// DefaultWakePort is the discard port conventionally used for magic packets.
	DefaultWakePort = 9

	magicPacketSize = 6 + 16*6
)

// Waker sends a wake signal to a host. A failure is informational: the host
// may already be up.
type Waker interface {
	SendWake(ctx context.Context, mac, ip string) error
}

// MagicPacket builds the Wake-on-LAN payload: six 0xFF bytes followed by the
// hardware address repeated sixteen times.
func MagicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("magic packet needs a 6-byte hardware address, got %d bytes", len(mac))
	}
	packet := make([]byte, 0, magicPacketSize)
	packet = append(packet, bytes.Repeat([]byte{0xFF}, 6)...)
	packet = append(packet, bytes.Repeat(mac, 16)...)
	return packet, nil
}

// UDPWaker sends magic packets as single UDP datagrams with SO_BROADCAST set.
// By default the packet goes to the host's own address; Broadcast overrides
// the destination (for example a subnet-directed broadcast address).
type UDPWaker struct {
	Port      int
	Broadcast string
	Logger    *log.Logger
}

func (w *UDPWaker) SendWake(ctx context.Context, mac, ip string) error {
	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}

	hw, err := parseMAC(mac)
	if err != nil {
		return fmt.Errorf("wake %s: %w", ip, err)
	}
	packet, err := MagicPacket(hw)
	if err != nil {
		return fmt.Errorf("wake %s: %w", ip, err)
	}

	dest := ip
	if w.Broadcast != "" {
		dest = w.Broadcast
	}
	port := w.Port
	if port == 0 {
		port = DefaultWakePort
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dest, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("wake %s: resolve %s: %w", ip, dest, err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("wake %s: open socket: %w", ip, err)
	}
	defer conn.Close()

	if _, err := conn.WriteTo(packet, addr); err != nil {
		return fmt.Errorf("wake %s: send to %s: %w", ip, addr, err)
	}

	logger.Printf("DEBUG wake packet sent to %s (%s)", hw, addr)
	return nil
}
