package worker

import (
	"fmt"
	"sync"
)

// LogBuffer accumulates human-readable log lines for one execution. The
// worker owns it for its lifetime; the progress ticker snapshots it
// concurrently, and it is flushed to the job store on every terminal
// transition.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Append adds one log line.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Appendf adds one formatted log line.
func (b *LogBuffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Snapshot returns a copy of the accumulated lines.
func (b *LogBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)

	return out
}
