package session

import (
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startWithPty launches cmd under a fresh pseudo-terminal and bridges it to
// the worker's own stdio. Used when the session has no VT of its own, e.g.
// during development runs outside a console.
func startWithPty(cmd *exec.Cmd) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()
	go func() {
		_, _ = io.Copy(os.Stdout, ptmx)
		ptmx.Close()
	}()
	return nil
}
