package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile represents a PID file for daemon process management
type PIDFile struct {
	path string
	pid  int
}

// New creates a new PIDFile instance
func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// Create creates the PID file, refusing when another live instance owns it.
func (p *PIDFile) Create() error {
	if p.exists() {
		existingPID, err := p.readExistingPID()
		if err != nil {
			return fmt.Errorf("failed to read existing PID file: %w", err)
		}

		if isProcessRunning(existingPID) {
			return fmt.Errorf("daemon already running with PID %d", existingPID)
		}

		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	return nil
}

// Remove removes the PID file if this process still owns it.
func (p *PIDFile) Remove() error {
	if !p.exists() {
		return nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return os.Remove(p.path)
	}

	if existingPID != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existingPID, p.pid)
	}

	return os.Remove(p.path)
}

// GetPID returns the PID stored in the file
func (p *PIDFile) GetPID() (int, error) {
	return p.readExistingPID()
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// CheckRunning checks if another instance is running and returns its PID
func (p *PIDFile) CheckRunning() (bool, int, error) {
	if !p.exists() {
		return false, 0, nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	return isProcessRunning(existingPID), existingPID, nil
}

func (p *PIDFile) exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

func (p *PIDFile) readExistingPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}

	return pid, nil
}

// isProcessRunning probes the process with signal 0.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
