package session

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"syscall"
)

// Conv presents one authentication prompt to the controlling side and
// returns the supplied answer. Info and error styles still require an
// acknowledging reply before the conversation continues.
type Conv func(style QuestionStyle, prompt string) (string, error)

// ErrCanceled reports that the controller canceled the authentication
// attempt mid-conversation.
var ErrCanceled = errors.New("authentication canceled")

// errUnexpectedRequest reports a controller request that is not valid for
// the worker's current protocol step. The counterpart of
// ErrProtocolViolation for the opposite direction.
var errUnexpectedRequest = errors.New("unexpected message from session controller")

// Authenticator runs the credential conversation for a user. PAM or any
// other backend hides behind this boundary; the worker only relays prompts
// and answers.
type Authenticator interface {
	Authenticate(user string, conv Conv) error
}

// RunWorker is the worker half of the session protocol. It serves exactly
// one login handshake on the descriptor inherited across exec: initiate,
// authentication conversation, argument handoff, start. After reporting
// the final child pid it waits for the session program to exit.
func RunWorker(fd int, authr Authenticator) error {
	conn, err := ConnFromFD(fd)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := &worker{conn: conn, auth: authr}
	return w.run()
}

type worker struct {
	conn *net.UnixConn
	auth Authenticator
}

func (w *worker) run() error {
	msg, err := recvRequest(w.conn)
	if err != nil {
		return err
	}
	if msg.Type != reqInitiateLogin {
		return w.fail(fmt.Errorf("%w: %q", errUnexpectedRequest, msg.Type))
	}

	if msg.Authenticate {
		if err := w.auth.Authenticate(msg.User, w.converse); err != nil {
			return w.fail(err)
		}
	}
	if err := sendMsg(w.conn, Reply{Type: replySuccess}); err != nil {
		return err
	}

	args, err := recvRequest(w.conn)
	if err != nil {
		return err
	}
	if args.Type != reqArgs {
		return w.fail(fmt.Errorf("%w: %q", errUnexpectedRequest, args.Type))
	}
	if len(args.Cmd) == 0 {
		return w.fail(errors.New("no session command specified"))
	}
	if err := sendMsg(w.conn, Reply{Type: replySuccess}); err != nil {
		return err
	}

	start, err := recvRequest(w.conn)
	if err != nil {
		return err
	}
	if start.Type != reqStart {
		return w.fail(fmt.Errorf("%w: %q", errUnexpectedRequest, start.Type))
	}

	cmd, err := w.startSession(args)
	if err != nil {
		return w.fail(err)
	}
	if err := sendMsg(w.conn, Reply{Type: replyFinalChildPid, Pid: cmd.Process.Pid}); err != nil {
		return err
	}

	// Protocol over; hold on until the session program exits so its exit
	// status is collected under this task.
	return cmd.Wait()
}

// converse relays one authentication prompt and waits for the answer or a
// cancellation.
func (w *worker) converse(style QuestionStyle, prompt string) (string, error) {
	if err := sendMsg(w.conn, Reply{Type: replyPamMessage, Style: style, Msg: prompt}); err != nil {
		return "", err
	}

	msg, err := recvRequest(w.conn)
	if err != nil {
		return "", err
	}
	switch msg.Type {
	case reqPamResponse:
		return msg.Resp, nil
	case reqCancel:
		return "", ErrCanceled
	default:
		return "", fmt.Errorf("%w: %q", errUnexpectedRequest, msg.Type)
	}
}

// startSession spawns the final session program in its own session group.
// With no VT assigned the program runs under a fresh pty so it has a
// controlling terminal.
func (w *worker) startSession(args Request) (*exec.Cmd, error) {
	cmd := exec.Command(args.Cmd[0], args.Cmd[1:]...)
	cmd.Env = args.Env

	if args.VT == 0 {
		if err := startWithPty(cmd); err != nil {
			return nil, fmt.Errorf("could not start session on pty: %w", err)
		}
		return cmd, nil
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start session: %w", err)
	}
	return cmd, nil
}

// fail reports err to the controller as a terminal protocol error and
// returns it. A failed send is secondary to the original error.
func (w *worker) fail(err error) error {
	_ = sendMsg(w.conn, Reply{Type: replyError, Error: err.Error()})
	return err
}
