package supervisor

import (
	"bufio"
	"io"
	"time"

	"github.com/drill-ssh/drill/internal/metrics"
	"github.com/drill-ssh/drill/internal/status"
)

// monitor watches one handle for unexpected exit. It races the handle's
// cancellation signal against the reaper: cancellation wins silently
// (Stop owns the Disconnected transition), an exit while not stopping
// becomes an Error transition and removes the handle.
func (s *Supervisor) monitor(h *handle) {
	select {
	case <-h.cancel:
		return
	case <-h.waitDone:
	}

	s.mu.Lock()
	// Re-check under the lock: Stop may have fired between the select
	// and here, and its transition must not be overwritten.
	if h.stopping || s.handles[h.name] != h {
		s.mu.Unlock()
		return
	}
	delete(s.handles, h.name)
	active := len(s.handles)
	detail := exitDetail(h.waitErr, h.lastDiag())
	s.setStatusLocked(h.name, status.Error(detail, time.Now()), detail)
	s.mu.Unlock()

	metrics.SetActive(active)
	metrics.IncError(h.name)
	s.logger.Error("tunnel terminated unexpectedly", "tunnel", h.name, "detail", detail)
}

// scanDiagnostics consumes the child's stderr line by line, logging each
// line and counting matches against the known failure patterns. The
// classification stays diagnostic; it does not feed the status machine.
// Closing stderrDone on EOF releases the reaper, so the last diagnostic
// line is always recorded before the exit verdict is rendered.
func (s *Supervisor) scanDiagnostics(h *handle, r io.Reader) {
	defer close(h.stderrDone)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		h.pushDiag(line)
		if class := classifyDiagnostic(line); class != "" {
			metrics.IncDiagnostic(h.name, class)
			s.logger.Warn("ssh diagnostic", "tunnel", h.name, "class", class, "line", line)
		} else {
			s.logger.Debug("ssh stderr", "tunnel", h.name, "line", line)
		}
	}
}
