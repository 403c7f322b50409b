//go:build !linux

package diag

import "net"

func tcpInfo(conn *net.TCPConn) (*TCPInfoStats, bool) {
	return nil, false
}
