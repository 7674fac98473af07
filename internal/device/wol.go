package device

import (
	"bytes"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// macPattern accepts six colon- or dash-separated hex octets.
var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// defaultWOLBroadcast is the limited broadcast address on the discard port.
const defaultWOLBroadcast = "255.255.255.255:9"

// ParseMAC validates a Wake-on-LAN address against a strict pattern.
// Separators must not be mixed.
func ParseMAC(s string) (net.HardwareAddr, error) {
	s = strings.TrimSpace(s)
	if !macPattern.MatchString(s) || (strings.Contains(s, ":") && strings.Contains(s, "-")) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMAC, err)
	}
	return mac, nil
}

// MagicPacket builds the 102-byte Wake-on-LAN payload: six 0xFF bytes
// followed by the MAC repeated sixteen times.
func MagicPacket(mac net.HardwareAddr) []byte {
	var buf bytes.Buffer
	buf.Grow(6 + 16*len(mac))
	buf.Write(bytes.Repeat([]byte{0xFF}, 6))
	for range 16 {
		buf.Write(mac)
	}
	return buf.Bytes()
}

// SendMagicPacket broadcasts a magic packet for mac. An empty addr uses
// 255.255.255.255:9.
func SendMagicPacket(mac net.HardwareAddr, addr string) error {
	if addr == "" {
		addr = defaultWOLBroadcast
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("wol dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(MagicPacket(mac)); err != nil {
		return fmt.Errorf("wol send: %w", err)
	}
	return nil
}
