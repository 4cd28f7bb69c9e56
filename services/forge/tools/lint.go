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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// analyzerTimeout bounds one external analyzer run.
const analyzerTimeout = 10 * time.Second

// LintRequest is the argument document for lint_code.
type LintRequest struct {
	Code     string `json:"code" validate:"required"`
	Language string `json:"language" validate:"omitempty,oneof=python javascript"`
}

// LintResult is the lint artifact. The tuple (code_hash,
// analyzer_version) is its idempotency key: re-linting identical
// source under the same analyzer updates the stored node instead of
// growing a duplicate.
type LintResult struct {
	ID                string    `json:"id"`
	CodeHash          string    `json:"code_hash"`
	Language          string    `json:"language"`
	Functions         []string  `json:"functions"`
	Classes           []string  `json:"classes"`
	Imports           []string  `json:"imports"`
	Complexity        int       `json:"complexity"`
	AnalyzerAvailable bool      `json:"analyzer_available"`
	AnalyzerVersion   string    `json:"analyzer_version,omitempty"`
	AnalyzerExitCode  int       `json:"analyzer_exit_code"`
	AnalyzerOutput    string    `json:"analyzer_output"`
	CreatedAt         time.Time `json:"created_at"`
}

// analyzer describes the external linter found on this host. argv is
// the command prefix; the script path is appended per run.
type analyzer struct {
	argv      []string
	version   string
	available bool
}

type lintTool struct {
	deps Deps

	probe sync.Once
	flake analyzer
}

func newLintTool(deps Deps) *lintTool {
	return &lintTool{deps: deps}
}

func (t *lintTool) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[LintRequest](raw)
	if err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = "python"
	}

	report, err := t.deps.Validator.AnalyzeCode(req.Code, language, false)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(req.Code))
	codeHash := hex.EncodeToString(sum[:])
	flake := t.analyzer()

	// Re-lint of already-analyzed source is answered from the stored
	// artifact unless the analyzer has moved to a newer version since.
	if stored, ok := t.lookup(ctx, codeHash, language, flake.version); ok {
		return stored, nil
	}

	exitCode, output := t.runAnalyzer(ctx, flake, req.Code, language)

	result := &LintResult{
		ID:                uuid.NewString(),
		CodeHash:          codeHash,
		Language:          language,
		Functions:         report.Functions,
		Classes:           report.Classes,
		Imports:           report.Imports,
		Complexity:        report.Complexity,
		AnalyzerAvailable: flake.available && language == "python",
		AnalyzerVersion:   flake.version,
		AnalyzerExitCode:  exitCode,
		AnalyzerOutput:    output,
		CreatedAt:         time.Now().UTC(),
	}
	if err := t.persist(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// analyzer locates flake8 once per process: the binary itself when on
// PATH, otherwise python3 -m flake8 the way the interpreter ships it.
// The probe runs on its own context; a canceled first request must not
// disable the analyzer for the process lifetime.
func (t *lintTool) analyzer() analyzer {
	t.probe.Do(func() {
		var argv []string
		if path, err := exec.LookPath("flake8"); err == nil {
			argv = []string{path}
		} else if py, err := exec.LookPath("python3"); err == nil {
			argv = []string{py, "-m", "flake8"}
		} else {
			return
		}

		vctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(vctx, argv[0], append(argv[1:], "--version")...).Output()
		if err != nil {
			t.deps.Log.Debug("external analyzer probe failed", "error", err)
			return
		}
		t.flake = analyzer{
			argv:      argv,
			version:   parseAnalyzerVersion(string(out)),
			available: true,
		}
		t.deps.Log.Info("external analyzer enabled",
			"command", strings.Join(argv, " "), "version", t.flake.version)
	})
	return t.flake
}

// runAnalyzer executes flake8 over the source in a scratch directory.
// Analyzer trouble is reported inside the artifact, never as a request
// failure: linting still returns the structural facts.
func (t *lintTool) runAnalyzer(ctx context.Context, flake analyzer, code, language string) (int, string) {
	if language != "python" {
		return 0, "Linting not supported for this language"
	}
	if !flake.available {
		return 0, ""
	}

	dir, err := os.MkdirTemp("", "forge-lint-")
	if err != nil {
		return 1, fmt.Sprintf("Linting failed: %v", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "code.py")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return 1, fmt.Sprintf("Linting failed: %v", err)
	}

	actx, cancel := context.WithTimeout(ctx, analyzerTimeout)
	defer cancel()

	args := append(append([]string{}, flake.argv[1:]...),
		"--max-line-length=100", "--ignore=E203,W503", script)
	cmd := exec.CommandContext(actx, flake.argv[0], args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if actx.Err() != nil {
		return 1, "Linting timed out"
	}

	output := strings.TrimSpace(t.bounded(string(out)))
	// Findings exit 1 with output; that is a lint result, not an error.
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, output
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), output
	default:
		return 1, fmt.Sprintf("Linting failed: %v", err)
	}
}

// bounded truncates analyzer output to the configured O_MAX.
func (t *lintTool) bounded(s string) string {
	limit := t.deps.Config.OutputBytes
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}

// lookup fetches the stored artifact for this source, if any. It
// reports a hit only when the stored analyzer version is at least the
// current one; an older stored version means the analyzer changed and
// the source deserves re-analysis.
func (t *lintTool) lookup(ctx context.Context, codeHash, language, currentVersion string) (*LintResult, bool) {
	rows, err := t.deps.Graph.ExecuteRead(ctx,
		`MATCH (l:LintResult {code_hash: $code_hash})
		 RETURN l.id AS id, l.language AS language,
		        l.functions AS functions, l.classes AS classes,
		        l.imports AS imports, l.complexity AS complexity,
		        l.analyzer_available AS analyzer_available,
		        l.analyzer_version AS analyzer_version,
		        l.analyzer_exit_code AS analyzer_exit_code,
		        l.analyzer_output AS analyzer_output,
		        l.created_at AS created_at`,
		map[string]any{"code_hash": codeHash})
	if err != nil {
		// The write path will surface real database trouble.
		t.deps.Log.Debug("lint artifact lookup failed", "error", err)
		return nil, false
	}

	var best graph.Row
	for _, row := range rows {
		if row.String("language") != language {
			continue
		}
		stored := row.String("analyzer_version")
		if semver.Compare(canonical(stored), canonical(currentVersion)) < 0 {
			continue
		}
		if best == nil || semver.Compare(
			canonical(row.String("analyzer_version")),
			canonical(best.String("analyzer_version"))) > 0 {
			best = row
		}
	}
	if best == nil {
		return nil, false
	}

	created, _ := time.Parse(time.RFC3339Nano, best.String("created_at"))
	return &LintResult{
		ID:                best.String("id"),
		CodeHash:          codeHash,
		Language:          language,
		Functions:         best.Strings("functions"),
		Classes:           best.Strings("classes"),
		Imports:           best.Strings("imports"),
		Complexity:        best.Int("complexity"),
		AnalyzerAvailable: best.Bool("analyzer_available"),
		AnalyzerVersion:   best.String("analyzer_version"),
		AnalyzerExitCode:  best.Int("analyzer_exit_code"),
		AnalyzerOutput:    best.String("analyzer_output"),
		CreatedAt:         created,
	}, true
}

// persist MERGEs the artifact on its idempotency key. The stored id
// wins over the freshly generated one so repeated lints of the same
// source keep answering with one artifact.
func (t *lintTool) persist(ctx context.Context, r *LintResult) error {
	err := t.deps.Graph.ExecuteWriteTx(ctx, []string{"LintResult"}, func(tx graph.Tx) error {
		res, err := tx.Run(ctx,
			`MERGE (l:LintResult {code_hash: $code_hash, analyzer_version: $analyzer_version})
			 ON CREATE SET l.id = $id, l.created_at = $created_at
			 SET l.language = $language,
			     l.functions = $functions,
			     l.classes = $classes,
			     l.imports = $imports,
			     l.complexity = $complexity,
			     l.analyzer_available = $analyzer_available,
			     l.analyzer_exit_code = $analyzer_exit_code,
			     l.analyzer_output = $analyzer_output
			 RETURN l.id AS id, l.created_at AS created_at`,
			map[string]any{
				"id":                 r.ID,
				"code_hash":          r.CodeHash,
				"language":           r.Language,
				"functions":          r.Functions,
				"classes":            r.Classes,
				"imports":            r.Imports,
				"complexity":         r.Complexity,
				"analyzer_available": r.AnalyzerAvailable,
				"analyzer_version":   r.AnalyzerVersion,
				"analyzer_exit_code": r.AnalyzerExitCode,
				"analyzer_output":    r.AnalyzerOutput,
				"created_at":         r.CreatedAt.Format(time.RFC3339Nano),
			})
		if err != nil {
			return err
		}
		if len(res.Rows) > 0 {
			r.ID = res.Rows[0].String("id")
			if created, perr := time.Parse(time.RFC3339Nano, res.Rows[0].String("created_at")); perr == nil {
				r.CreatedAt = created
			}
		}
		return nil
	})
	if err != nil {
		return fault.Wrap(fault.KindOf(err), "persisting lint artifact", err)
	}
	return nil
}

// parseAnalyzerVersion extracts the leading version token from flake8
// --version output, e.g. "7.1.1 (mccabe: 0.7.0, ...) CPython 3.12".
func parseAnalyzerVersion(out string) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	v := fields[0]
	if c := canonical(v); c != "" {
		return strings.TrimPrefix(c, "v")
	}
	return v
}

// canonical maps a bare version token onto the semver form Compare
// understands. Invalid tokens canonicalize to "", which Compare orders
// before every valid version.
func canonical(v string) string {
	if v == "" {
		return ""
	}
	return semver.Canonical("v" + strings.TrimPrefix(v, "v"))
}
