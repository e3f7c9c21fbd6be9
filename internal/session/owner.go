package session

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// Owner identifies the process that last claimed a session. It is shown to
// operators; takeover decisions use heartbeat staleness only.
type Owner struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

func currentOwner(now time.Time) *Owner {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Owner{PID: os.Getpid(), Hostname: hostname, StartedAt: now}
}

// IsCurrentProcess reports whether o is this process.
func (o *Owner) IsCurrentProcess() bool {
	if o == nil {
		return false
	}
	hostname, _ := os.Hostname()
	return o.PID == os.Getpid() && o.Hostname == hostname
}

// Alive reports whether the owning process is still running. Owners on
// other hosts cannot be checked and report false.
func (o *Owner) Alive() bool {
	if o == nil || o.PID <= 0 {
		return false
	}
	if hostname, _ := os.Hostname(); hostname != o.Hostname {
		return false
	}
	return isProcessAlive(o.PID)
}

// String renders "pid 123 on host".
func (o *Owner) String() string {
	if o == nil {
		return "-"
	}
	return fmt.Sprintf("pid %d on %s", o.PID, o.Hostname)
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	// On Unix, sending signal 0 checks if process exists without affecting it
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
