package fleet

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestMagicPacket(t *testing.T) {
	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	packet, err := MagicPacket(mac)
	if err != nil {
		t.Fatalf("MagicPacket() error = %v", err)
	}
	if len(packet) != 102 {
		t.Fatalf("len(packet) = %d, want 102", len(packet))
	}
	if !bytes.Equal(packet[:6], bytes.Repeat([]byte{0xff}, 6)) {
		t.Fatalf("header = %x", packet[:6])
	}
	for i := 0; i < 16; i++ {
		off := 6 + i*6
		if !bytes.Equal(packet[off:off+6], mac) {
			t.Fatalf("repetition %d = %x, want %x", i, packet[off:off+6], []byte(mac))
		}
	}
}

func TestMagicPacketRejectsLongAddress(t *testing.T) {
	if _, err := MagicPacket(net.HardwareAddr{1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
		t.Fatal("expected error for 8-byte address")
	}
}

func TestUDPWakerSendsToHost(t *testing.T) {
	listener, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	waker := &UDPWaker{Port: listener.LocalAddr().(*net.UDPAddr).Port, Logger: discardLogger()}
	if err := waker.SendWake(context.Background(), "AA:BB:CC:DD:EE:FF", "127.0.0.1"); err != nil {
		t.Fatalf("SendWake() error = %v", err)
	}

	if err := listener.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	buf := make([]byte, 512)
	n, _, err := listener.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := MagicPacket(net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("received %x, want %x", buf[:n], want)
	}
}

func TestUDPWakerRejectsBadMAC(t *testing.T) {
	waker := &UDPWaker{Logger: discardLogger()}
	if err := waker.SendWake(context.Background(), "not-a-mac", "127.0.0.1"); err == nil {
		t.Fatal("expected error for invalid mac")
	}
}
