// Package diag supplies best-effort OS-level socket diagnostics for the
// admin/registries surface, supplementing the connection descriptor with
// read-only observability the original client never had.
package diag

import "net"

// TCPInfoStats is a portable subset of the kernel's tcp_info structure.
type TCPInfoStats struct {
	RTTMicros        uint32
	RTTVarianceMicros uint32
	Retransmits      uint32
	State            string
}

// TCPInfo returns socket-level diagnostics for conn, or ok=false on
// platforms where TCP_INFO is unavailable (see tcpinfo_linux.go and
// tcpinfo_other.go).
func TCPInfo(conn *net.TCPConn) (*TCPInfoStats, bool) {
	return tcpInfo(conn)
}
