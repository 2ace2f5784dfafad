package session

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// maxMsgSize bounds a single protocol datagram. A larger message is a
// programming error, not something the transport accommodates.
const maxMsgSize = 10240

// sendMsg serializes one message and writes it as a single datagram.
func sendMsg(conn *net.UnixConn, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to serialize message: %w", err)
	}
	if len(out) > maxMsgSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(out), maxMsgSize)
	}
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("unable to send message: %w", err)
	}
	return nil
}

// recvMsg reads one datagram and deserializes it into v. The underlying
// socket preserves datagram boundaries, so no framing is needed.
func recvMsg(conn *net.UnixConn, v any) error {
	buf := make([]byte, maxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("unable to receive message: %w", err)
	}
	if err := json.Unmarshal(buf[:n], v); err != nil {
		return fmt.Errorf("unable to deserialize message: %w", err)
	}
	return nil
}

func recvReply(conn *net.UnixConn) (Reply, error) {
	var r Reply
	if err := recvMsg(conn, &r); err != nil {
		return Reply{}, err
	}
	return r, nil
}

func recvRequest(conn *net.UnixConn) (Request, error) {
	var r Request
	if err := recvMsg(conn, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// workerFD owns the raw descriptor destined for the spawned worker. It is
// closed on all paths once the worker holds its own copy.
type workerFD struct {
	fd int
}

// markInheritable clears FD_CLOEXEC so the descriptor survives exec.
func (w *workerFD) markInheritable() error {
	flags, err := unix.FcntlInt(uintptr(w.fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("unable to read descriptor flags: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(w.fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC); err != nil {
		return fmt.Errorf("unable to clear close-on-exec: %w", err)
	}
	return nil
}

func (w *workerFD) close() {
	_ = unix.Close(w.fd)
}

// socketPair creates the connected datagram pair used between controller
// and worker. The controller end is returned as a connection; the worker
// end as a raw descriptor still flagged close-on-exec.
func socketPair() (*net.UnixConn, *workerFD, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create socket pair: %w", err)
	}

	f := os.NewFile(uintptr(fds[0]), "session-controller")
	conn, err := net.FileConn(f)
	f.Close() // FileConn duplicated the descriptor
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("could not wrap controller socket: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("unexpected socket type %T", conn)
	}
	return uc, &workerFD{fd: fds[1]}, nil
}

// ConnFromFD rebuilds the worker's protocol endpoint from the descriptor
// inherited across exec. Used by the worker side of the protocol.
func ConnFromFD(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "session-worker")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("could not wrap worker socket: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected socket type %T", conn)
	}
	return uc, nil
}
