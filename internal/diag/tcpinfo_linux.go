//go:build linux

package diag

import (
	"net"

	"golang.org/x/sys/unix"
)

// tcpStateNames mirrors the kernel's enum tcp_state ordering reported in
// tcp_info.State, for human-readable reporting on /debug/registries.
var tcpStateNames = []string{
	"", "ESTABLISHED", "SYN_SENT", "SYN_RECV", "FIN_WAIT1", "FIN_WAIT2",
	"TIME_WAIT", "CLOSE", "CLOSE_WAIT", "LAST_ACK", "LISTEN", "CLOSING",
}

func tcpInfo(conn *net.TCPConn) (*TCPInfoStats, bool) {
	if conn == nil {
		return nil, false
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, false
	}

	var info *unix.TCPInfo
	var getErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		info, getErr = unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	})
	if ctrlErr != nil || getErr != nil || info == nil {
		return nil, false
	}

	state := ""
	if int(info.State) < len(tcpStateNames) {
		state = tcpStateNames[info.State]
	}

	return &TCPInfoStats{
		RTTMicros:         info.Rtt,
		RTTVarianceMicros: info.Rttvar,
		Retransmits:       uint32(info.Retransmits),
		State:             state,
	}, true
}
