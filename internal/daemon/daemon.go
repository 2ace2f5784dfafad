// Package daemon is the long-lived process that owns login sessions. It
// accepts greeter connections on a unix socket, drives the session worker
// handshake for each login, and tracks started sessions until they exit.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/petrel-os/sessiond/internal/config"
	"github.com/petrel-os/sessiond/internal/db"
	"github.com/petrel-os/sessiond/internal/ipc"
	"github.com/petrel-os/sessiond/internal/session"
)

// controller is the slice of session.Session the daemon drives. Tests
// substitute a scripted implementation.
type controller interface {
	Initiate(service, class, user string, authenticate bool) error
	GetState() (session.State, error)
	PostAnswer(answer *string) error
	Cancel() error
	SendArgs(cmd, env []string, vt int) error
	Start() (*session.Child, error)
	Close() error
}

// Daemon owns the greeter listener and the registry of started sessions.
type Daemon struct {
	cfg   config.Config
	log   zerolog.Logger
	store *db.Store // nil disables session history

	// newSession spawns a worker and returns its controller.
	newSession func() (controller, error)

	registry registry
}

// New builds a daemon. store may be nil.
func New(cfg config.Config, logger zerolog.Logger, store *db.Store) *Daemon {
	d := &Daemon{
		cfg:   cfg,
		log:   logger,
		store: store,
		newSession: func() (controller, error) {
			return session.NewExternal()
		},
	}
	d.registry.init()
	return d
}

// Run serves greeter connections until ctx is canceled or a termination
// signal arrives. It blocks.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := cleanStaleSocket(d.cfg.SocketPath, d.cfg.PIDPath); err != nil {
		return fmt.Errorf("clean stale socket: %w", err)
	}
	if err := os.WriteFile(d.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.reap(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}
		cancel()
		listener.Close()
	}()

	d.log.Info().Str("socket", d.cfg.SocketPath).Int("pid", os.Getpid()).Msg("listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed; tear down running sessions and exit.
			d.stopAll()
			os.Remove(d.cfg.SocketPath)
			os.Remove(d.cfg.PIDPath)
			return nil
		}
		go d.handleConn(conn)
	}
}

// handleConn serves one greeter connection. Each connection holds at most
// one login handshake in progress.
func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	var (
		sess     controller
		username string
	)
	defer func() {
		// Greeter went away mid-handshake; tell the worker to give up.
		if sess != nil {
			_ = sess.Cancel()
			_ = sess.Close()
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		req, err := ipc.ReadRequest(reader)
		if err != nil {
			return // connection closed
		}

		var resp ipc.Response
		switch req.Command {
		case ipc.CmdCreateSession:
			if sess != nil {
				resp = errResponse("login already in progress")
				break
			}
			resp, sess = d.handleCreate(req)
			if sess != nil {
				username = req.Username
			}

		case ipc.CmdPostAuthResponse:
			if sess == nil {
				resp = errResponse("no login in progress")
				break
			}
			if err := sess.PostAnswer(req.Response); err != nil {
				_ = sess.Close()
				resp, sess = errResponse(err.Error()), nil
				break
			}
			resp, sess = d.stateResponse(sess)

		case ipc.CmdCancelSession:
			if sess == nil {
				resp = errResponse("no login in progress")
				break
			}
			err := sess.Cancel()
			_ = sess.Close()
			sess = nil
			if err != nil {
				resp = errResponse(err.Error())
				break
			}
			resp = ipc.Response{Event: ipc.EvtSuccess}

		case ipc.CmdStartSession:
			resp, sess = d.handleStart(sess, username, req)

		default:
			resp = errResponse(fmt.Sprintf("unknown command %q", req.Command))
		}

		if err := ipc.Write(conn, resp); err != nil {
			return
		}
	}
}

func (d *Daemon) handleCreate(req ipc.Request) (ipc.Response, controller) {
	if req.Username == "" {
		return errResponse("username must not be empty"), nil
	}

	s, err := d.newSession()
	if err != nil {
		d.log.Error().Err(err).Msg("could not spawn session worker")
		return errResponse(err.Error()), nil
	}
	if err := s.Initiate(d.cfg.Service, d.cfg.Class, req.Username, true); err != nil {
		// The worker is still waiting on the socket; the cancel makes it
		// give up before the descriptor goes away.
		_ = s.Cancel()
		_ = s.Close()
		return errResponse(err.Error()), nil
	}
	return d.stateResponse(s)
}

func (d *Daemon) handleStart(sess controller, username string, req ipc.Request) (ipc.Response, controller) {
	if sess == nil {
		return errResponse("no login in progress"), nil
	}

	cmd := req.Cmd
	if len(cmd) == 0 {
		cmd = d.cfg.DefaultCmd
	}
	vt := req.VT
	if vt == 0 {
		vt = d.cfg.VT
	}

	if err := sess.SendArgs(cmd, req.Env, vt); err != nil {
		_ = sess.Close()
		return errResponse(err.Error()), nil
	}
	child, err := sess.Start()
	if err != nil {
		_ = sess.Close()
		return errResponse(err.Error()), nil
	}

	id := d.registry.add(username, child)
	d.log.Info().Str("session", id).Str("user", username).
		Int("task", child.Task()).Int("sub_task", child.SubTask()).Msg("session started")

	if d.store != nil {
		if err := d.store.RecordStart(id, username, cmd, child.Task(), child.SubTask()); err != nil {
			d.log.Warn().Err(err).Str("session", id).Msg("could not record session start")
		}
	}

	return ipc.Response{Event: ipc.EvtSuccess, SessionID: id}, nil
}

// stateResponse consumes the worker's buffered reply and maps it to a
// greeter response. A non-nil error ends the handshake, so the controller
// is closed and dropped in that case.
func (d *Daemon) stateResponse(sess controller) (ipc.Response, controller) {
	state, err := sess.GetState()
	if err != nil {
		_ = sess.Close()
		return errResponse(err.Error()), nil
	}
	if state.Ready {
		return ipc.Response{Event: ipc.EvtSuccess}, sess
	}
	return ipc.Response{
		Event:   ipc.EvtAuthMessage,
		Style:   string(state.Style),
		Message: state.Question,
	}, sess
}

func errResponse(description string) ipc.Response {
	return ipc.Response{Event: ipc.EvtError, Description: description}
}

// cleanStaleSocket removes a leftover socket file if no live daemon owns it.
func cleanStaleSocket(socketPath, pidPath string) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		conn.Close()
		return fmt.Errorf("session daemon already running (socket active)")
	}

	pidData, err := os.ReadFile(pidPath)
	if err == nil {
		if pid, err := strconv.Atoi(string(pidData)); err == nil {
			if proc, err := os.FindProcess(pid); err == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("session daemon already running (pid %d)", pid)
				}
			}
		}
	}

	os.Remove(socketPath)
	os.Remove(pidPath)
	return nil
}
