package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
)

// WorkerFlag re-invokes the current executable in session worker mode. Its
// single argument is the numeric value of the inherited socket descriptor.
const WorkerFlag = "--session-worker"

// ErrProtocolViolation reports a worker message that is not valid for the
// protocol step currently awaited. It means controller and worker have
// desynchronized; the session is unusable afterwards.
var ErrProtocolViolation = errors.New("unexpected message from session worker")

// AuthError is an error reported by the session worker itself, e.g. an
// authentication failure. It is surfaced to the caller verbatim.
type AuthError string

func (e AuthError) Error() string { return string(e) }

// State is the externally observable authentication state, derived from the
// last message received from the worker.
type State struct {
	// Ready reports that authentication has concluded and the session can
	// be configured and started.
	Ready bool

	// Style and Question carry the pending authentication prompt when
	// Ready is false.
	Style    QuestionStyle
	Question string
}

// Session drives a login handshake against an external worker process.
//
// A Session must not be used from more than one goroutine at a time, and at
// most one request may be outstanding; both are caller contracts, not
// enforced internally.
type Session struct {
	task int
	conn *net.UnixConn
	last *Reply
}

// NewExternal spawns the session worker as a re-exec of the current
// executable and returns a controller for it. The worker inherits one end
// of a connected datagram pair; every other descriptor follows normal
// close-on-exec semantics.
func NewExternal() (*Session, error) {
	conn, worker, err := socketPair()
	if err != nil {
		return nil, err
	}

	if err := worker.markInheritable(); err != nil {
		conn.Close()
		worker.close()
		return nil, err
	}

	exe, err := os.Executable()
	if err != nil {
		conn.Close()
		worker.close()
		return nil, fmt.Errorf("could not resolve current executable: %w", err)
	}

	cmd := exec.Command(exe, WorkerFlag, strconv.Itoa(worker.fd))
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		conn.Close()
		worker.close()
		return nil, fmt.Errorf("could not spawn session worker: %w", err)
	}

	// The worker holds its own copy across exec; drop ours.
	worker.close()

	return &Session{
		task: cmd.Process.Pid,
		conn: conn,
	}, nil
}

// Initiate starts the login handshake, which will cause authentication to
// begin. The first worker reply is retrieved with GetState.
func (s *Session) Initiate(service, class, user string, authenticate bool) error {
	return sendMsg(s.conn, Request{
		Type:         reqInitiateLogin,
		Service:      service,
		Class:        class,
		User:         user,
		Authenticate: authenticate,
	})
}

// GetState returns the current state of the handshake. A buffered reply is
// consumed before blocking on the socket, so repeated calls without an
// intervening request observe the same state.
func (s *Session) GetState() (State, error) {
	msg := s.last
	if msg == nil {
		m, err := recvReply(s.conn)
		if err != nil {
			return State{}, err
		}
		msg = &m
	}

	s.last = msg

	switch msg.Type {
	case replyPamMessage:
		return State{Style: msg.Style, Question: msg.Msg}, nil
	case replySuccess:
		return State{Ready: true}, nil
	case replyError:
		return State{}, AuthError(msg.Error)
	default:
		return State{}, fmt.Errorf("%w: %q", ErrProtocolViolation, msg.Type)
	}
}

// Close releases the controller's end of the worker socket without
// completing the handshake. The worker sees the peer go away on its next
// receive. After a successful Start the socket is already closed.
func (s *Session) Close() error {
	s.last = nil
	return s.conn.Close()
}

// Cancel aborts the authentication attempt in progress.
func (s *Session) Cancel() error {
	s.last = nil
	return sendMsg(s.conn, Request{Type: reqCancel})
}

// PostAnswer sends the answer to an authentication question, or cancels the
// attempt when answer is nil.
func (s *Session) PostAnswer(answer *string) error {
	s.last = nil
	if answer == nil {
		return sendMsg(s.conn, Request{Type: reqCancel})
	}
	return sendMsg(s.conn, Request{Type: reqPamResponse, Resp: *answer})
}

// SendArgs transmits the command, environment and VT that will be used to
// start the session, and waits for the worker to accept them.
func (s *Session) SendArgs(cmd, env []string, vt int) error {
	if err := sendMsg(s.conn, Request{Type: reqArgs, Cmd: cmd, Env: env, VT: vt}); err != nil {
		return err
	}

	msg, err := recvReply(s.conn)
	if err != nil {
		return err
	}

	s.last = &msg

	switch msg.Type {
	case replySuccess:
		return nil
	case replyError:
		return AuthError(msg.Error)
	default:
		return fmt.Errorf("%w: %q", ErrProtocolViolation, msg.Type)
	}
}

// Start launches the final session program. On success the protocol is
// over: the socket is shut down and only the returned Child remains valid.
func (s *Session) Start() (*Child, error) {
	if err := sendMsg(s.conn, Request{Type: reqStart}); err != nil {
		return nil, err
	}

	msg, err := recvReply(s.conn)
	if err != nil {
		return nil, err
	}

	if err := s.conn.Close(); err != nil {
		return nil, fmt.Errorf("could not shut down worker socket: %w", err)
	}

	switch msg.Type {
	case replyFinalChildPid:
		return &Child{task: s.task, subTask: msg.Pid}, nil
	case replyError:
		return nil, AuthError(msg.Error)
	default:
		return nil, fmt.Errorf("%w: %q", ErrProtocolViolation, msg.Type)
	}
}
