package kcli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitExited(t *testing.T, p *Process) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !p.Exited() {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessCapturesExitCodeAndOutput(t *testing.T) {
	p, err := StartProcess("sh", "-c", "echo building; exit 3")
	require.NoError(t, err)

	waitExited(t, p)
	assert.Equal(t, 3, p.ExitCode())
	assert.Contains(t, p.Output(), "building")
}

func TestProcessSuccess(t *testing.T) {
	p, err := StartProcess("true")
	require.NoError(t, err)

	waitExited(t, p)
	assert.Equal(t, 0, p.ExitCode())
}

func TestProcessStopKillsStubbornChild(t *testing.T) {
	p, err := StartProcess("sh", "-c", "trap '' TERM; sleep 30")
	require.NoError(t, err)

	start := time.Now()
	p.Stop(200 * time.Millisecond)
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessStopAfterExitIsNoop(t *testing.T) {
	p, err := StartProcess("true")
	require.NoError(t, err)
	waitExited(t, p)
	p.Stop(time.Second)
}
