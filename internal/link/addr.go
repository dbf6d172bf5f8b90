package link

import (
	"fmt"
	"strings"
)

// FormatAddr renders a bdaddr, stored least significant byte first, as
// "AA:BB:CC:DD:EE:FF".
func FormatAddr(b [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}

// NormalizeAddr upper-cases and trims an address for comparison.
func NormalizeAddr(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
