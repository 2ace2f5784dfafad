package session

import (
	"errors"
	"net"
	"strings"
	"testing"
)

// fakeWorker scripts the worker side of the protocol from inside the test
// process.
type fakeWorker struct {
	t    *testing.T
	conn *net.UnixConn
}

func (f *fakeWorker) expect(msgType string) Request {
	f.t.Helper()
	req, err := recvRequest(f.conn)
	if err != nil {
		f.t.Errorf("worker recv: %v", err)
		return Request{}
	}
	if req.Type != msgType {
		f.t.Errorf("worker received %q, want %q", req.Type, msgType)
	}
	return req
}

func (f *fakeWorker) reply(r Reply) {
	f.t.Helper()
	if err := sendMsg(f.conn, r); err != nil {
		f.t.Errorf("worker send: %v", err)
	}
}

func testSession(t *testing.T) (*Session, *fakeWorker) {
	ctrl, worker := testPair(t)
	return &Session{task: 1000, conn: ctrl}, &fakeWorker{t: t, conn: worker}
}

func TestLoginQuestionLoop(t *testing.T) {
	sess, worker := testSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := worker.expect(reqInitiateLogin)
		if req.Service != "login" || req.Class != "x" || req.User != "alice" || !req.Authenticate {
			worker.t.Errorf("unexpected initiate request: %+v", req)
		}
		worker.reply(Reply{Type: replyPamMessage, Style: StyleSecret, Msg: "Password:"})

		resp := worker.expect(reqPamResponse)
		if resp.Resp != "secret" {
			worker.t.Errorf("unexpected answer %q", resp.Resp)
		}
		worker.reply(Reply{Type: replySuccess})
	}()

	if err := sess.Initiate("login", "x", "alice", true); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	state, err := sess.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Ready || state.Style != StyleSecret || state.Question != "Password:" {
		t.Fatalf("unexpected state %+v", state)
	}

	// Polling again without a new request observes the buffered reply.
	again, err := sess.GetState()
	if err != nil {
		t.Fatalf("GetState (again): %v", err)
	}
	if again != state {
		t.Fatalf("GetState not idempotent: %+v vs %+v", again, state)
	}

	answer := "secret"
	if err := sess.PostAnswer(&answer); err != nil {
		t.Fatalf("PostAnswer: %v", err)
	}
	state, err = sess.GetState()
	if err != nil {
		t.Fatalf("GetState after answer: %v", err)
	}
	if !state.Ready {
		t.Fatalf("expected ready state, got %+v", state)
	}
	<-done
}

func TestArgsAndStart(t *testing.T) {
	sess, worker := testSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		args := worker.expect(reqArgs)
		if len(args.Cmd) != 1 || args.Cmd[0] != "/bin/sh" || args.VT != 1 {
			worker.t.Errorf("unexpected args: %+v", args)
		}
		worker.reply(Reply{Type: replySuccess})

		worker.expect(reqStart)
		worker.reply(Reply{Type: replyFinalChildPid, Pid: 4242})
	}()

	if err := sess.SendArgs([]string{"/bin/sh"}, nil, 1); err != nil {
		t.Fatalf("SendArgs: %v", err)
	}

	child, err := sess.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-done

	if !child.OwnsPid(4242) {
		t.Error("child should own the final pid")
	}
	if !child.OwnsPid(1000) {
		t.Error("child should own the worker task pid")
	}
	if child.OwnsPid(1) {
		t.Error("child should not own unrelated pids")
	}

	// The protocol is over; the socket is shut down and further requests
	// fail with a transport error.
	if err := sess.Cancel(); err == nil {
		t.Error("expected send on shut-down socket to fail")
	}
}

func TestWorkerErrorSurfacesVerbatim(t *testing.T) {
	sess, worker := testSession(t)

	go worker.reply(Reply{Type: replyError, Error: "authentication failure"})

	_, err := sess.GetState()
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if err.Error() != "authentication failure" {
		t.Fatalf("error not surfaced verbatim: %q", err.Error())
	}
}

func TestWorkerErrorDuringArgs(t *testing.T) {
	sess, worker := testSession(t)

	go func() {
		worker.expect(reqArgs)
		worker.reply(Reply{Type: replyError, Error: "bad vt"})
	}()

	err := sess.SendArgs([]string{"/bin/sh"}, nil, 7)
	var authErr AuthError
	if !errors.As(err, &authErr) || err.Error() != "bad vt" {
		t.Fatalf("expected verbatim worker error, got %v", err)
	}
}

func TestProtocolViolation(t *testing.T) {
	t.Run("get state", func(t *testing.T) {
		sess, worker := testSession(t)
		go worker.reply(Reply{Type: replyFinalChildPid, Pid: 99})

		if _, err := sess.GetState(); !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected protocol violation, got %v", err)
		}
	})

	t.Run("send args", func(t *testing.T) {
		sess, worker := testSession(t)
		go func() {
			worker.expect(reqArgs)
			worker.reply(Reply{Type: replyPamMessage, Style: StyleInfo, Msg: "?"})
		}()

		if err := sess.SendArgs([]string{"/bin/sh"}, nil, 1); !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected protocol violation, got %v", err)
		}
	})

	t.Run("start", func(t *testing.T) {
		sess, worker := testSession(t)
		go func() {
			worker.expect(reqStart)
			worker.reply(Reply{Type: replySuccess})
		}()

		if _, err := sess.Start(); !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected protocol violation, got %v", err)
		}
	})
}

func TestCancelClearsBufferedReply(t *testing.T) {
	sess, worker := testSession(t)

	go worker.reply(Reply{Type: replyPamMessage, Style: StyleVisible, Msg: "Login:"})

	if _, err := sess.GetState(); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if sess.last == nil {
		t.Fatal("expected buffered reply")
	}

	drained := make(chan struct{})
	go func() {
		worker.expect(reqCancel)
		close(drained)
	}()
	if err := sess.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	<-drained
	if sess.last != nil {
		t.Fatal("Cancel should clear the buffered reply")
	}
}

func TestCloseAbandonsHandshake(t *testing.T) {
	sess, worker := testSession(t)

	go worker.reply(Reply{Type: replyPamMessage, Style: StyleSecret, Msg: "Password:"})

	if _, err := sess.GetState(); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.last != nil {
		t.Fatal("Close should drop the buffered reply")
	}
	if err := sess.Initiate("login", "x", "alice", true); err == nil {
		t.Fatal("expected send on closed socket to fail")
	}
}

func TestSendArgsOversizedEnv(t *testing.T) {
	sess, _ := testSession(t)

	err := sess.SendArgs([]string{"/bin/sh"}, []string{"BLOB=" + strings.Repeat("x", maxMsgSize)}, 1)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected oversize error, got %v", err)
	}
}
