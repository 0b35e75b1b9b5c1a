//go:build windows

package transport

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listen binds a Windows named pipe at addr (e.g. `\\.\pipe\bidi-mediator`).
func listen(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, nil)
}
