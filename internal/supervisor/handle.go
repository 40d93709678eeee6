package supervisor

import (
	"os/exec"
	"sync"
	"time"
)

const diagKeep = 5

// handle wraps one live forwarding subprocess. It is created by Start,
// owned exclusively by the Supervisor, and destroyed by Stop, Cleanup,
// or the monitor when the child dies on its own.
type handle struct {
	name      string
	cmd       *exec.Cmd
	startedAt time.Time

	// cancel is closed by Stop, under the supervisor lock, before any
	// signal reaches the process. The monitor treats a closed cancel as
	// "this termination is deliberate".
	cancel chan struct{}

	// stderrDone is closed by the diagnostic scanner once it has drained
	// the child's stderr. The reaper waits on it first: cmd.Wait closes
	// the pipe, so calling it under an in-flight read loses output.
	stderrDone chan struct{}

	// waitDone is closed by the reaper goroutine after cmd.Wait returns;
	// waitErr is valid once waitDone is closed.
	waitDone chan struct{}
	waitErr  error

	// stopping mirrors cancel for checks made under the supervisor lock.
	stopping bool

	diagMu sync.Mutex
	diag   []string
}

func newHandle(name string, cmd *exec.Cmd) *handle {
	return &handle{
		name:       name,
		cmd:        cmd,
		startedAt:  time.Now(),
		cancel:     make(chan struct{}),
		stderrDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}
}

// reap waits for the child to exit and publishes the result through
// waitDone. It is the only caller of cmd.Wait for this handle, and it
// runs only after the stderr scanner has seen EOF.
func (h *handle) reap() {
	<-h.stderrDone
	h.waitErr = h.cmd.Wait()
	close(h.waitDone)
}

// pushDiag records one stderr line, keeping only the most recent few.
func (h *handle) pushDiag(line string) {
	h.diagMu.Lock()
	h.diag = append(h.diag, line)
	if len(h.diag) > diagKeep {
		h.diag = h.diag[len(h.diag)-diagKeep:]
	}
	h.diagMu.Unlock()
}

// lastDiag returns the most recent stderr line, if any.
func (h *handle) lastDiag() string {
	h.diagMu.Lock()
	defer h.diagMu.Unlock()
	if len(h.diag) == 0 {
		return ""
	}
	return h.diag[len(h.diag)-1]
}
