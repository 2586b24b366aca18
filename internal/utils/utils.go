package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (model logs).
// This ensures we don't lose critical crash information if a model process dies.
// The child runs in its own process group so Kill reaches anything it spawned.
type SafeCommand struct {
	*exec.Cmd
	Stderr *lockedBuffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Kill terminates the whole process group without waiting for it.
func (s *SafeCommand) Kill() error {
	if s == nil || s.Cmd == nil || s.Process == nil {
		return nil
	}
	return killProcessGroup(s.Process.Pid)
}

// lockedBuffer is a bytes.Buffer safe for the exec copier goroutine and a reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Len returns the number of buffered bytes.
func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// String returns the buffered output.
func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ShowError prints a formatted error box and dumps model logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	showError(os.Stderr, context, err, s)
}

func showError(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 LOOKOUT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nMODEL PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit status 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. File identity ---

// FileFingerprint creates a deterministic hash for a file
// based on its path, size, and modification time.
func FileFingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
