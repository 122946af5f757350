package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the agent lock inside the state directory.
const LockFileName = "agent.lock"

// AgentLock is the lock file written by a running watch agent. Only one
// agent may own a state directory, since two would race on the same
// pattern store and commit batches.
type AgentLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	RootPath  string    `json:"root_path"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// ErrLocked is returned when a live agent already holds the lock.
var ErrLocked = errors.New("state directory is locked by another agent")

// AcquireAgentLock creates the lock file in stateDir, replacing a stale one
// left by a dead process. Returns the lock path for ReleaseAgentLock.
func AcquireAgentLock(stateDir, rootPath, version string) (string, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	if existing, err := ReadAgentLock(lockPath); err == nil {
		if isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w (PID %d on %s, started %s)", ErrLocked,
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := AgentLock{
		Holder:    "vigil-watch",
		PID:       os.Getpid(),
		Hostname:  hostname,
		RootPath:  rootPath,
		StartedAt: time.Now(),
		Version:   version,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write lock: %w", err)
	}
	return lockPath, nil
}

// ReadAgentLock parses an existing lock file.
func ReadAgentLock(lockPath string) (*AgentLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock AgentLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("malformed lock file %s: %w", lockPath, err)
	}
	return &lock, nil
}

// ReleaseAgentLock removes the lock file. An empty path is a no-op.
func ReleaseAgentLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists on hostname. Remote hosts and
// permission errors count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil || !strings.EqualFold(hostname, currentHost) {
		return true
	}
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
