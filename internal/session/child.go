package session

import "golang.org/x/sys/unix"

// Child tracks the processes spawned for a started session: the worker task
// and the final sub-task it reported before the protocol ended. The worker
// may have replaced its image by the time signals are sent, so both
// identities are remembered and targeted separately.
type Child struct {
	task    int
	subTask int
}

// NewChild rebuilds a handle from known process identifiers, e.g. when
// re-adopting sessions recorded by a previous daemon instance.
func NewChild(task, subTask int) *Child {
	return &Child{task: task, subTask: subTask}
}

// Task returns the pid of the originally spawned worker task.
func (c *Child) Task() int { return c.task }

// SubTask returns the pid of the final session program.
func (c *Child) SubTask() int { return c.subTask }

// OwnsPid reports whether pid belongs to this session. Used by the process
// reaper to attribute child-exit notifications.
func (c *Child) OwnsPid(pid int) bool {
	return c.task == pid || c.subTask == pid
}

// Term asks the session sub-task to terminate. Delivery failures are
// ignored; the process may already have exited.
func (c *Child) Term() {
	_ = unix.Kill(c.subTask, unix.SIGTERM)
}

// Kill forcefully terminates both the sub-task and the original worker
// task, covering the case where exec never happened.
func (c *Child) Kill() {
	_ = unix.Kill(c.subTask, unix.SIGKILL)
	_ = unix.Kill(c.task, unix.SIGKILL)
}
