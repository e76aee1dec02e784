package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var started = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func newTestFile(t *testing.T) *File {
	t.Helper()
	return NewFile(filepath.Join(t.TempDir(), "run", "serve.state"))
}

func TestFile_WriteAndRead(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Write(State{PID: 12345, Port: 8420, Started: started}))

	st, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, st.PID)
	assert.Equal(t, 8420, st.Port)
	assert.True(t, st.Started.Equal(started))
}

func TestFile_Read_MissingFile(t *testing.T) {
	f := newTestFile(t)
	_, err := f.Read()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFile_Read_InvalidContent(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path), 0o755))

	require.NoError(t, os.WriteFile(f.Path, []byte("pid: [oops"), 0o644))
	_, err := f.Read()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(f.Path, []byte("port: 80\n"), 0o644))
	_, err = f.Read()
	assert.ErrorContains(t, err, "missing pid")
}

func TestFile_Running_CurrentProcess(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Write(State{PID: os.Getpid(), Port: 1}))

	st, alive := f.Running()
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), st.PID)
}

func TestFile_Running_DeadProcess(t *testing.T) {
	f := newTestFile(t)
	// PID 4194304 exceeds the default pid_max on Linux.
	require.NoError(t, f.Write(State{PID: 4194304}))

	_, alive := f.Running()
	assert.False(t, alive)
}

func TestFile_Running_NoFile(t *testing.T) {
	_, alive := newTestFile(t).Running()
	assert.False(t, alive)
}

func TestFile_AcquireAndRelease(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Acquire(8420, started))

	st, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, 8420, st.Port)

	// Re-acquiring from the same process is allowed.
	require.NoError(t, f.Acquire(9000, started))

	require.NoError(t, f.Release())
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, f.Release(), "release without a file is a no-op")
}

func TestFile_Acquire_ReplacesStale(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Write(State{PID: 4194304, Port: 1}))

	require.NoError(t, f.Acquire(8420, started))
	st, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
}

func TestFile_Release_KeepsForeignFile(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Write(State{PID: 4194304}))

	require.NoError(t, f.Release())
	_, err := os.Stat(f.Path)
	assert.NoError(t, err)
}

func TestFile_Signal_NoFile(t *testing.T) {
	err := newTestFile(t).Signal(0)
	assert.Error(t, err)
}

func TestState_Uptime(t *testing.T) {
	st := State{Started: started}
	assert.Equal(t, 90*time.Minute, st.Uptime(started.Add(90*time.Minute+300*time.Millisecond)))
}
