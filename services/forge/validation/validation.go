// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation is the single gate every piece of client-supplied
// text passes through before it can reach an interpreter or the graph
// database.
//
// Code validation parses the source with tree-sitter and walks the
// real AST. Pattern matching on raw text is not a defense: string
// concatenation, aliasing, and encoding tricks all defeat it, while
// the parse tree sees the construct that would actually execute. The
// walk denies dangerous imports, dangerous calls, and access to
// interpreter internals, and enforces hard bounds on source size,
// tree depth, and node count so pathological inputs cannot stall the
// validator itself.
//
// Graph-query validation normalizes before matching (Unicode NFKC,
// case folding, string-literal masking) so fullwidth or mixed-case
// spellings of a mutating clause are caught the same as the plain
// form.
//
// All failures classify as invalid input. Validation is deterministic
// and side-effect free; callers decide whether a failure is also a
// security event worth auditing.
package validation

import (
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Hard bounds on what the code validator will even look at.
const (
	// MaxSourceBytes caps source size before parsing.
	MaxSourceBytes = 100 << 10

	// MaxTreeDepth caps AST nesting during the walk.
	MaxTreeDepth = 100

	// MaxTreeNodes caps total AST nodes during the walk.
	MaxTreeNodes = 50000
)

// Policy configures the deny sets. The zero value is unusable; start
// from DefaultPolicy.
type Policy struct {
	// PythonDenyModules are root packages denied in every mode.
	PythonDenyModules map[string]bool

	// PythonNetworkModules are root packages added to the deny set in
	// strict mode.
	PythonNetworkModules map[string]bool

	// PythonDenyCalls are bare callee names that are always denied.
	PythonDenyCalls map[string]bool

	// PythonDenyDunders are interpreter-internal names denied as
	// attributes, bare identifiers, and literal subscript keys.
	PythonDenyDunders map[string]bool

	// JSDenyModules are module names denied for require and import,
	// matched after stripping a "node:" prefix.
	JSDenyModules map[string]bool
}

// DefaultPolicy returns the standard deny sets.
func DefaultPolicy() Policy {
	return Policy{
		PythonDenyModules: stringSet(
			// process and OS control
			"os", "posix", "nt", "subprocess", "pty", "pipes", "signal",
			"resource", "fcntl", "multiprocessing",
			// interpreter internals
			"sys", "builtins", "gc", "inspect",
			// filesystem
			"shutil", "pathlib", "tempfile", "glob", "fileinput",
			// dynamic loading
			"importlib", "imp", "runpy", "zipimport", "code", "codeop",
			// native memory
			"ctypes", "cffi", "mmap",
			// deserialization executes code
			"pickle", "marshal", "shelve",
		),
		PythonNetworkModules: stringSet(
			"socket", "ssl", "select", "selectors", "asyncio",
			"http", "urllib", "requests", "httpx", "aiohttp",
			"ftplib", "telnetlib", "smtplib", "poplib", "imaplib",
			"nntplib", "xmlrpc", "socketserver", "wsgiref",
		),
		PythonDenyCalls: stringSet(
			"eval", "exec", "compile", "__import__", "input", "help",
		),
		PythonDenyDunders: stringSet(
			"__builtins__", "__globals__", "__import__", "__subclasses__",
			"__mro__", "__dict__", "__class__", "__bases__", "__code__",
			"__closure__", "__func__", "__self__",
		),
		JSDenyModules: stringSet(
			"child_process", "fs", "net", "http", "https", "http2",
			"dgram", "dns", "tls", "cluster", "vm", "worker_threads",
			"os", "repl", "module", "inspector",
		),
	}
}

// Validator applies a Policy. Safe for concurrent use; each call
// builds its own parser because tree-sitter parsers are not
// shareable across goroutines.
type Validator struct {
	policy Policy
}

// New creates a Validator with the given policy.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// NewDefault creates a Validator with DefaultPolicy.
func NewDefault() *Validator {
	return New(DefaultPolicy())
}

// violation builds the InvalidInput fault carrying the rule, the
// offending token, and the line where the walk found it.
func violation(rule, token string, line int, message string) error {
	f := fault.New(fault.KindInvalidInput, message)
	details := map[string]any{"rule": rule}
	if token != "" {
		details["token"] = token
	}
	if line > 0 {
		details["line"] = line
	}
	return f.WithDetails(details)
}

func stringSet(keys ...string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
