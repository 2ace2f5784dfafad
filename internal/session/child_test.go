package session

import (
	"os/exec"
	"testing"
)

func TestChildOwnsPid(t *testing.T) {
	c := NewChild(100, 4242)

	if !c.OwnsPid(100) {
		t.Error("should own the worker task pid")
	}
	if !c.OwnsPid(4242) {
		t.Error("should own the sub-task pid")
	}
	if c.OwnsPid(4243) {
		t.Error("should not own unrelated pids")
	}
	if c.Task() != 100 || c.SubTask() != 4242 {
		t.Errorf("accessors returned %d/%d", c.Task(), c.SubTask())
	}
}

func TestSignalsToExitedProcessAreSwallowed(t *testing.T) {
	// Spawn and fully reap a process so its pid is known to be gone.
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	pid := cmd.ProcessState.Pid()

	c := NewChild(pid, pid)
	c.Term() // must not panic or report an error
	c.Kill()
}
