// File: hook/io.go
// Read/write-family hooks, each a thin adapter from golang.org/x/sys/unix's
// Go-idiomatic signature onto doIO's (int, error) template.
// Author: vela-run contributors
// License: Apache-2.0
package hook

import (
	"golang.org/x/sys/unix"

	"github.com/vela-run/fiberio/fdtable"
	"github.com/vela-run/fiberio/reactor"
)

// Read parks the calling fiber until fd is readable instead of blocking the
// worker thread.
func Read(fd int, p []byte) (int, error) {
	return doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Readv is the scatter-read equivalent of Read.
func Readv(fd int, iovs [][]byte) (int, error) {
	return doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		return unix.Readv(fd, iovs)
	})
}

// Recv is Read with socket recv(2) flags.
func Recv(fd int, p []byte, flags int) (int, error) {
	return doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
}

// Recvfrom additionally reports the peer address on success.
func Recvfrom(fd int, p []byte, flags int) (n int, from unix.Sockaddr, err error) {
	_, err = doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		var rerr error
		n, from, rerr = unix.Recvfrom(fd, p, flags)
		return n, rerr
	})
	return n, from, err
}

// Recvmsg is the scatter-read, control-message-carrying receive.
func Recvmsg(fd int, buffers [][]byte, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	_, err = doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		var rerr error
		n, oobn, recvflags, from, rerr = unix.RecvmsgBuffers(fd, buffers, oob, flags)
		return n, rerr
	})
	return n, oobn, recvflags, from, err
}

// Write parks the calling fiber until fd is writable instead of blocking the
// worker thread.
func Write(fd int, p []byte) (int, error) {
	return doIO(fd, reactor.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Writev is the gather-write equivalent of Write.
func Writev(fd int, iovs [][]byte) (int, error) {
	return doIO(fd, reactor.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.Writev(fd, iovs)
	})
}

// Send is Write with socket send(2) flags.
func Send(fd int, p []byte, flags int) (int, error) {
	return doIO(fd, reactor.EventWrite, fdtable.SendTimeout, func() (int, error) {
		if err := unix.Send(fd, p, flags); err != nil {
			return -1, err
		}
		return len(p), nil
	})
}

// Sendto additionally targets an explicit peer address.
func Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return doIO(fd, reactor.EventWrite, fdtable.SendTimeout, func() (int, error) {
		if err := unix.Sendto(fd, p, flags, to); err != nil {
			return -1, err
		}
		return len(p), nil
	})
}

// Sendmsg is the gather-write, control-message-carrying send.
func Sendmsg(fd int, buffers [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return doIO(fd, reactor.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.SendmsgBuffers(fd, buffers, oob, to, flags)
	})
}

// Accept parks the calling fiber until fd has a pending connection, then
// registers the accepted socket with the process-wide fd table — mirroring
// hook.cpp's accept(), which registers the new fd with FdMgr on success.
func Accept(fd int) (nfd int, sa unix.Sockaddr, err error) {
	_, err = doIO(fd, reactor.EventRead, fdtable.RecvTimeout, func() (int, error) {
		var aerr error
		nfd, sa, aerr = unix.Accept(fd)
		return nfd, aerr
	})
	if err == nil {
		fdtable.Default().Get(nfd, true)
	}
	return nfd, sa, err
}
