// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// TestRequest is the argument document for run_tests. The code field
// is a complete python test module.
type TestRequest struct {
	Code     string `json:"code" validate:"required"`
	TimeoutS int    `json:"timeout_seconds" validate:"omitempty,min=1,max=30"`
}

// TestResult is the test artifact plus the best-effort summary counts.
// Passed and Failed stay absent when the harness output could not be
// parsed; the raw bounded output is always there.
type TestResult struct {
	ID         string    `json:"id"`
	Framework  string    `json:"framework"`
	ReturnCode int       `json:"return_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMS int64     `json:"duration_ms"`
	Passed     *int      `json:"passed,omitempty"`
	Failed     *int      `json:"failed,omitempty"`
	TimedOut   bool      `json:"timed_out"`
	Truncated  bool      `json:"truncated_flag"`
	CreatedAt  time.Time `json:"created_at"`
}

// frameworkMarker is printed by the harness as the first stdout line
// and stripped before the output reaches the caller. First line so
// output truncation cannot eat it.
const frameworkMarker = "::framework:: "

// testHarness wraps the uploaded module. pytest runs it when
// installed; the stdlib runner is the fallback so a bare interpreter
// still executes tests.
const testHarness = `import sys

source = %s

with open("test_module.py", "w", encoding="utf-8") as fh:
    fh.write(source)

try:
    import pytest
except ImportError:
    pytest = None

print("::framework:: " + ("pytest" if pytest is not None else "unittest"), flush=True)

if pytest is not None:
    raise SystemExit(int(pytest.main(["-q", "test_module.py"])))

import unittest

suite = unittest.defaultTestLoader.discover(".", pattern="test_module.py")
result = unittest.TextTestRunner(stream=sys.stdout, verbosity=1).run(suite)
raise SystemExit(0 if result.wasSuccessful() else 1)
`

type testTool struct {
	deps Deps
	exec *executeTool
}

func newTestTool(deps Deps, exec *executeTool) *testTool {
	return &testTool{deps: deps, exec: exec}
}

func (t *testTool) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[TestRequest](raw)
	if err != nil {
		return nil, err
	}

	// The uploaded module is screened, not the harness around it.
	codeHash, err := t.exec.screen(ctx, req.Code, "python", false)
	if err != nil {
		return nil, err
	}

	harness := fmt.Sprintf(testHarness, pythonLiteral(req.Code))
	run, err := t.exec.dispatch(ctx, harness, "python", timeoutOf(req.TimeoutS))
	if err != nil {
		return nil, err
	}

	framework, stdout := splitFrameworkMarker(run.Stdout)
	passed, failed := parseHarnessSummary(framework, stdout+"\n"+run.Stderr)

	result := &TestResult{
		ID:         uuid.NewString(),
		Framework:  framework,
		ReturnCode: run.ReturnCode,
		Stdout:     stdout,
		Stderr:     run.Stderr,
		DurationMS: run.Duration.Milliseconds(),
		Passed:     passed,
		Failed:     failed,
		TimedOut:   run.TimedOut,
		Truncated:  run.StdoutTruncated || run.StderrTruncated,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.persist(ctx, result); err != nil {
		return nil, err
	}

	t.deps.Audit.Record(audit.CodeExecution(
		auth.SubjectFromContext(ctx), audit.CorrelationFromContext(ctx),
		codeHash, "python", run.ReturnCode == 0, result.DurationMS, run.CacheHit))
	return result, nil
}

func (t *testTool) persist(ctx context.Context, r *TestResult) error {
	err := t.deps.Graph.ExecuteWrite(ctx,
		`MERGE (t:TestResult {id: $id})
		 SET t += {
		     framework: $framework,
		     return_code: $return_code,
		     stdout: $stdout,
		     stderr: $stderr,
		     duration_ms: $duration_ms,
		     created_at: $created_at
		 }`,
		map[string]any{
			"id":          r.ID,
			"framework":   r.Framework,
			"return_code": r.ReturnCode,
			"stdout":      r.Stdout,
			"stderr":      r.Stderr,
			"duration_ms": r.DurationMS,
			"created_at":  r.CreatedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fault.Wrap(fault.KindOf(err), "persisting test artifact", err)
	}
	return nil
}

// pythonLiteral renders s as a python string literal. JSON string
// syntax is a subset of python's, so the JSON encoder does the
// escaping.
func pythonLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// splitFrameworkMarker peels the harness marker off stdout. A missing
// marker (the harness died before printing) reports "python".
func splitFrameworkMarker(stdout string) (string, string) {
	if !strings.HasPrefix(stdout, frameworkMarker) {
		return "python", stdout
	}
	rest := stdout[len(frameworkMarker):]
	line, remainder, found := strings.Cut(rest, "\n")
	if !found {
		return strings.TrimSpace(line), ""
	}
	return strings.TrimSpace(line), remainder
}

var (
	pytestPassedRe = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe = regexp.MustCompile(`(\d+) failed`)
	pytestErrorRe  = regexp.MustCompile(`(\d+) error`)

	unittestRanRe      = regexp.MustCompile(`Ran (\d+) tests?`)
	unittestFailuresRe = regexp.MustCompile(`failures=(\d+)`)
	unittestErrorsRe   = regexp.MustCompile(`errors=(\d+)`)
)

// parseHarnessSummary extracts pass/fail counts from runner output.
// Both pointers stay nil when nothing recognizable was printed.
func parseHarnessSummary(framework, output string) (*int, *int) {
	switch framework {
	case "pytest":
		passed, pok := findCount(pytestPassedRe, output)
		failed, fok := findCount(pytestFailedRe, output)
		errored, eok := findCount(pytestErrorRe, output)
		if !pok && !fok && !eok {
			return nil, nil
		}
		return intPtr(passed), intPtr(failed + errored)
	case "unittest":
		ran, ok := findCount(unittestRanRe, output)
		if !ok {
			return nil, nil
		}
		failures, _ := findCount(unittestFailuresRe, output)
		errored, _ := findCount(unittestErrorsRe, output)
		passed := ran - failures - errored
		if passed < 0 {
			passed = 0
		}
		return intPtr(passed), intPtr(failures + errored)
	default:
		return nil, nil
	}
}

func findCount(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func intPtr(n int) *int { return &n }
