//go:build !linux

package master

import "net"

// listen is the non-Linux fallback: SO_REUSEADDR tuning is Linux-socket
// specific (see listen_linux.go), so other platforms just get the
// stdlib default.
func listen(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}
