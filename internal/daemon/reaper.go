package daemon

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// reap collects exited children on SIGCHLD and attributes them to sessions
// via Child.OwnsPid. The controller never waits on workers itself, so this
// loop is the only place their exit status is collected.
func (d *Daemon) reap(ctx context.Context) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, unix.SIGCHLD)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
		}

		for {
			var status unix.WaitStatus
			pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
			if err != nil || pid <= 0 {
				break
			}
			d.sessionEnded(pid)
		}
	}
}
