package ocp

import (
	"strings"
	"time"

	"ocpdeployer/pkg/libssh"
)

// scriptedRunner answers oc invocations from per-resource queues. The
// last queued result keeps repeating once the queue drains, so pollers
// can be driven to a terminal state.
type scriptedRunner struct {
	queues map[string][]libssh.Result
	calls  []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{queues: map[string][]libssh.Result{}}
}

func (r *scriptedRunner) queue(key string, results ...libssh.Result) {
	r.queues[key] = append(r.queues[key], results...)
}

func (r *scriptedRunner) Oc(_ time.Duration, args ...string) libssh.Result {
	key := strings.Join(args[:2], " ")
	r.calls = append(r.calls, strings.Join(args, " "))
	q := r.queues[key]
	if len(q) == 0 {
		return libssh.Result{ExitCode: 1, Stderr: "no scripted response for " + key}
	}
	res := q[0]
	if len(q) > 1 {
		r.queues[key] = q[1:]
	}
	return res
}

func (r *scriptedRunner) ApplyYAML(manifest string) error {
	r.calls = append(r.calls, "apply "+manifest)
	return nil
}

func ok(stdout string) libssh.Result {
	return libssh.Result{Stdout: stdout}
}

func fail(stderr string) libssh.Result {
	return libssh.Result{ExitCode: 1, Stderr: stderr}
}

func unreachable() libssh.Result {
	return libssh.Result{ExitCode: -1, Stderr: "ssh transport failure"}
}
