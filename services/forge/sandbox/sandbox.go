// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs untrusted code snippets in short-lived OS processes
// with bounded concurrency, CPU, memory, file and output budgets.
//
// Each execution gets a private working directory, a minimal environment,
// and its own process group so a runaway child and everything it forked can
// be killed together. Timeouts send SIGTERM, wait a short grace period, then
// SIGKILL; partial output survives the kill.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

const (
	defaultTimeout = 8 * time.Second

	// termGrace is how long a child gets to honor SIGTERM before SIGKILL.
	termGrace = 500 * time.Millisecond

	fsizeLimit  = 10 << 20
	nofileLimit = 64

	// nprocLimit bounds fork bombs while leaving room for interpreter
	// runtime threads; RLIMIT_NPROC counts every task under the UID and
	// Node's libuv pool alone needs dozens.
	nprocLimit = 256
)

// Request describes one execution.
type Request struct {
	Code     string
	Language string

	// Timeout is the wall-clock budget. Zero means the default; values
	// above the configured ceiling are clamped.
	Timeout time.Duration
}

// Result is the outcome of one execution. A non-zero ReturnCode is a
// successful execution of failing code, not an error.
type Result struct {
	ReturnCode      int           `json:"return_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	Duration        time.Duration `json:"duration_ns"`
	PeakMemoryBytes int64         `json:"peak_memory_bytes"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	TimedOut        bool          `json:"timed_out"`
	CacheHit        bool          `json:"cache_hit"`
}

// interpreter describes how to launch one language runtime.
type interpreter struct {
	command  string
	filename string
	args     func(script string) []string
	env      func(workdir string) []string
	setup    func(workdir string) error

	// limitAS applies RLIMIT_AS to the child. Off for Node: V8 reserves
	// multi-gigabyte address regions at boot, so an address-space cap
	// kills it before user code runs. The JS heap cap rides in
	// NODE_OPTIONS instead.
	limitAS bool

	// optionalRuntime reports a missing interpreter binary as a failed
	// execution rather than a server error.
	optionalRuntime bool
	missingMessage  string
}

// Hooks observes runner activity. Callbacks run inline on the request
// path and must be fast; nil fields are skipped.
type Hooks struct {
	// OnRun fires once per Run call that named an enabled language, with
	// the wall time spent and one outcome of: ok, error, timeout, cached,
	// busy, internal.
	OnRun func(language, outcome string, d time.Duration)
}

// Runner executes snippets through a bounded worker pool.
type Runner struct {
	cfg    config.Exec
	pool   *Pool
	cache  *ResultCache
	log    *logging.Logger
	interp map[string]interpreter
	hooks  Hooks
}

// NewRunner builds a Runner for the languages enabled in cfg. cache may be
// nil; the caller keeps ownership and closes it.
func NewRunner(cfg config.Exec, cache *ResultCache, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.New(logging.Config{Quiet: true})
	}
	if cfg.TimeoutMax <= 0 {
		cfg.TimeoutMax = 30 * time.Second
	}
	if cfg.MemBytes == 0 {
		cfg.MemBytes = 256 << 20
	}
	if cfg.OutputBytes <= 0 {
		cfg.OutputBytes = 100 << 10
	}
	r := &Runner{
		cfg:    cfg,
		pool:   NewPool(cfg.Workers),
		cache:  cache,
		log:    log,
		interp: make(map[string]interpreter),
	}
	for _, lang := range cfg.Languages {
		switch strings.ToLower(strings.TrimSpace(lang)) {
		case "python":
			r.interp["python"] = pythonInterpreter()
		case "javascript":
			r.interp["javascript"] = javascriptInterpreter(cfg.MemBytes)
		default:
			log.Warn("ignoring unknown execution language", "language", lang)
		}
	}
	return r
}

// Languages lists the enabled languages, sorted.
func (r *Runner) Languages() []string {
	langs := make([]string, 0, len(r.interp))
	for l := range r.interp {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Stats reports pool occupancy.
func (r *Runner) Stats() PoolStats { return r.pool.Stats() }

// SetHooks installs observation callbacks. Call before the runner serves
// traffic; installs are not synchronized with Run.
func (r *Runner) SetHooks(h Hooks) { r.hooks = h }

func (r *Runner) observe(language, outcome string, start time.Time) {
	if r.hooks.OnRun != nil {
		r.hooks.OnRun(language, outcome, time.Since(start))
	}
}

// Run executes req and returns the outcome. It fails fast with a busy fault
// when the pool's admission queue is full.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	in, ok := r.interp[req.Language]
	if !ok {
		return nil, fault.Newf(fault.KindInvalidInput, "language %q is not enabled", req.Language).
			WithDetails(map[string]any{"supported": r.Languages()})
	}

	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > r.cfg.TimeoutMax {
		timeout = r.cfg.TimeoutMax
	}

	var key []byte
	if r.cache != nil {
		key = cacheKey(req.Code, req.Language, timeout, r.cfg.MemBytes)
		if res, ok := r.cache.Get(key); ok {
			res.CacheHit = true
			r.observe(req.Language, "cached", start)
			return res, nil
		}
	}

	release, err := r.pool.enter(ctx)
	if err != nil {
		r.observe(req.Language, "busy", start)
		return nil, err
	}
	defer release()

	res, err := r.exec(ctx, in, req.Code, timeout)
	if err != nil {
		r.observe(req.Language, "internal", start)
		return nil, err
	}
	switch {
	case res.TimedOut:
		r.observe(req.Language, "timeout", start)
	case res.ReturnCode != 0:
		r.observe(req.Language, "error", start)
	default:
		r.observe(req.Language, "ok", start)
	}
	// Timeouts are not cached: a rerun under less load may finish.
	if r.cache != nil && !res.TimedOut {
		r.cache.Put(key, res)
	}
	return res, nil
}

func (r *Runner) exec(ctx context.Context, in interpreter, code string, timeout time.Duration) (*Result, error) {
	bin, err := exec.LookPath(in.command)
	if err != nil {
		if in.optionalRuntime {
			return &Result{ReturnCode: 1, Stderr: in.missingMessage}, nil
		}
		return nil, fault.Wrap(fault.KindInternal, in.command+" interpreter not found", err)
	}

	dir, err := os.MkdirTemp("", "forge-exec-")
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "creating sandbox directory", err)
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "restricting sandbox directory", err)
	}

	script := filepath.Join(dir, in.filename)
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "writing snippet", err)
	}
	if in.setup != nil {
		if err := in.setup(dir); err != nil {
			return nil, fault.Wrap(fault.KindInternal, "preparing sandbox directory", err)
		}
	}

	stdout := newBoundedWriter(r.cfg.OutputBytes)
	stderr := newBoundedWriter(r.cfg.OutputBytes)

	cmd := exec.Command(bin, in.args(script)...)
	cmd.Dir = dir
	cmd.Env = in.env(dir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A descendant that re-parents and keeps the pipes open must not pin
	// Wait after the child itself is gone.
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "spawning sandbox process", err)
	}
	pid := cmd.Process.Pid
	r.applyLimits(pid, timeout, in.limitAS)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut bool
	var note string
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		note = fmt.Sprintf("Execution timed out after %d seconds", int(timeout.Round(time.Second)/time.Second))
		r.stopGroup(pid, done)
	case <-ctx.Done():
		timedOut = true
		note = "Execution canceled"
		r.stopGroup(pid, done)
	}

	res := &Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        time.Since(start),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		TimedOut:        timedOut,
	}
	if note != "" {
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += note
	}

	if timedOut {
		res.ReturnCode = -1
	} else if state := cmd.ProcessState; state != nil {
		res.ReturnCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.ReturnCode = -int(ws.Signal())
		}
	}
	if state := cmd.ProcessState; state != nil {
		if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
			// Linux reports Maxrss in kilobytes.
			res.PeakMemoryBytes = ru.Maxrss * 1024
		}
	}
	return res, nil
}

// applyLimits pins resource budgets on an already-started child. Go has no
// pre-exec hook, so a few scheduler ticks run unlimited; best effort if the
// child already exited.
func (r *Runner) applyLimits(pid int, timeout time.Duration, limitAS bool) {
	cpuSecs := uint64(timeout / time.Second)
	if cpuSecs < 1 {
		cpuSecs = 1
	}
	limits := []struct {
		resource int
		cur, max uint64
	}{
		{unix.RLIMIT_CPU, cpuSecs, cpuSecs + 1},
		{unix.RLIMIT_FSIZE, fsizeLimit, fsizeLimit},
		{unix.RLIMIT_NOFILE, nofileLimit, nofileLimit},
		{unix.RLIMIT_NPROC, nprocLimit, nprocLimit},
	}
	if limitAS {
		limits = append(limits, struct {
			resource int
			cur, max uint64
		}{unix.RLIMIT_AS, r.cfg.MemBytes, r.cfg.MemBytes})
	}
	for _, l := range limits {
		rl := &unix.Rlimit{Cur: l.cur, Max: l.max}
		if err := unix.Prlimit(pid, l.resource, rl, nil); err != nil {
			r.log.Debug("prlimit failed", "pid", pid, "resource", l.resource, "error", err)
		}
	}
}

// stopGroup terminates the child's process group: SIGTERM, a grace period,
// then SIGKILL. Blocks until Wait has reaped the child.
func (r *Runner) stopGroup(pid int, done <-chan error) {
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	<-done
}

func pythonInterpreter() interpreter {
	return interpreter{
		command:  "python3",
		filename: "main.py",
		args:     func(script string) []string { return []string{script} },
		env:      baseEnv,
		limitAS:  true,
	}
}

func javascriptInterpreter(memBytes uint64) interpreter {
	heapMB := memBytes >> 21 // half the budget for the old space
	if heapMB < 16 {
		heapMB = 16
	}
	return interpreter{
		command:  "node",
		filename: "script.js",
		args:     func(script string) []string { return []string{script} },
		env: func(workdir string) []string {
			return append(baseEnv(workdir),
				"NODE_ENV=sandbox",
				fmt.Sprintf("NODE_OPTIONS=--max-old-space-size=%d", heapMB),
			)
		},
		setup: func(dir string) error {
			pkg := []byte("{\"type\": \"module\"}\n")
			return os.WriteFile(filepath.Join(dir, "package.json"), pkg, 0o600)
		},
		optionalRuntime: true,
		missingMessage:  "Node.js not available on system",
	}
}

// baseEnv is the environment allow-list every child starts from. HOME points
// into the private dir so runtimes that write dotfiles stay inside it.
func baseEnv(workdir string) []string {
	env := []string{"HOME=" + workdir}
	for _, k := range []string{"PATH", "LANG"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}
