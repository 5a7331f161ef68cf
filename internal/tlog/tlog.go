package tlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/gokit/connkit"
)

// TLog implements the connkit.Logs interface, printing
// out level and message contents with fmt.
type TLog struct{}

// Emit prints the log event, it implements connkit.Logs Emit method.
func (TLog) Emit(l connkit.Level, e connkit.LogMessage) {
	fmt.Printf("[%s : %s] %s\n", time.Now().Format(time.RFC3339), l, e.Message())
}

// Entry is a single recorded log.
type Entry struct {
	Level   connkit.Level
	Message string
}

// Recorder implements connkit.Logs keeping every emitted log in memory.
type Recorder struct {
	rl      sync.Mutex
	entries []Entry
}

// Emit implements connkit.Logs.
func (r *Recorder) Emit(l connkit.Level, e connkit.LogMessage) {
	r.rl.Lock()
	defer r.rl.Unlock()
	r.entries = append(r.entries, Entry{Level: l, Message: e.Message()})
}

// Entries returns a copy of the recorded logs.
func (r *Recorder) Entries() []Entry {
	r.rl.Lock()
	defer r.rl.Unlock()
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Count returns the number of logs recorded at level l.
func (r *Recorder) Count(l connkit.Level) int {
	r.rl.Lock()
	defer r.rl.Unlock()
	var total int
	for _, entry := range r.entries {
		if entry.Level == l {
			total++
		}
	}
	return total
}
