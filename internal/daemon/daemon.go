// Package daemon tracks a background server through a small state file
// holding its pid, port and start time.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrRunning is returned by Acquire when a live server already owns the file.
var ErrRunning = errors.New("server already running")

// State is what a running server records about itself.
type State struct {
	PID     int       `yaml:"pid"`
	Port    int       `yaml:"port"`
	Started time.Time `yaml:"started"`
}

// Uptime is how long the server has been running at now.
func (s State) Uptime(now time.Time) time.Duration {
	return now.Sub(s.Started).Truncate(time.Second)
}

// File manages the daemon state file.
type File struct {
	Path string
}

// NewFile creates a state file manager for the given path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Write records st, creating the parent directory when needed.
func (f *File) Write(st State) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode daemon state: %w", err)
	}
	return os.WriteFile(f.Path, data, 0o644)
}

// Read loads the recorded state.
func (f *File) Read() (State, error) {
	var st State
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("invalid daemon state file: %w", err)
	}
	if st.PID <= 0 {
		return st, fmt.Errorf("invalid daemon state file: missing pid")
	}
	return st, nil
}

// Running reports the recorded state and whether its process is alive.
func (f *File) Running() (State, bool) {
	st, err := f.Read()
	if err != nil {
		return State{}, false
	}
	return st, processAlive(st.PID)
}

// Acquire records the current process as the server on port. A file left
// behind by a dead process is replaced.
func (f *File) Acquire(port int, now time.Time) error {
	if st, alive := f.Running(); alive && st.PID != os.Getpid() {
		return fmt.Errorf("%w (pid %d, port %d)", ErrRunning, st.PID, st.Port)
	}
	return f.Write(State{PID: os.Getpid(), Port: port, Started: now.UTC()})
}

// Release removes the file if it still belongs to the current process.
func (f *File) Release() error {
	st, err := f.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return os.Remove(f.Path)
	}
	if st.PID != os.Getpid() {
		return nil
	}
	return f.Remove()
}

// Remove deletes the file.
func (f *File) Remove() error {
	return os.Remove(f.Path)
}

// Signal sends sig to the recorded process.
func (f *File) Signal(sig syscall.Signal) error {
	st, err := f.Read()
	if err != nil {
		return fmt.Errorf("read daemon state: %w", err)
	}
	return signal(st.PID, sig)
}
