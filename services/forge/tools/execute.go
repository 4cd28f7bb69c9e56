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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
)

// ExecuteRequest is the argument document for execute_code.
type ExecuteRequest struct {
	Code     string `json:"code" validate:"required"`
	Language string `json:"language" validate:"omitempty,oneof=python javascript"`
	TimeoutS int    `json:"timeout_seconds" validate:"omitempty,min=1,max=30"`
}

// ExecutionResult is the execution artifact. A non-zero ReturnCode is
// the outcome of the submitted code, not a request failure.
type ExecutionResult struct {
	ID              string    `json:"id"`
	CodeHash        string    `json:"code_hash"`
	Language        string    `json:"language"`
	ReturnCode      int       `json:"return_code"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	DurationMS      int64     `json:"duration_ms"`
	PeakMemoryBytes int64     `json:"peak_memory_bytes"`
	Truncated       bool      `json:"truncated_flag"`
	TimedOut        bool      `json:"timed_out"`
	CacheHit        bool      `json:"cache_hit"`
	CreatedAt       time.Time `json:"created_at"`
}

type executeTool struct {
	deps Deps
}

func newExecuteTool(deps Deps) *executeTool {
	return &executeTool{deps: deps}
}

func (t *executeTool) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[ExecuteRequest](raw)
	if err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = "python"
	}

	codeHash, err := t.screen(ctx, req.Code, language, true)
	if err != nil {
		return nil, err
	}

	run, err := t.dispatch(ctx, req.Code, language, timeoutOf(req.TimeoutS))
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		ID:              uuid.NewString(),
		CodeHash:        codeHash,
		Language:        language,
		ReturnCode:      run.ReturnCode,
		Stdout:          run.Stdout,
		Stderr:          run.Stderr,
		DurationMS:      run.Duration.Milliseconds(),
		PeakMemoryBytes: run.PeakMemoryBytes,
		Truncated:       run.StdoutTruncated || run.StderrTruncated,
		TimedOut:        run.TimedOut,
		CacheHit:        run.CacheHit,
		CreatedAt:       time.Now().UTC(),
	}
	if err := t.persist(ctx, result); err != nil {
		return nil, err
	}

	t.deps.Audit.Record(audit.CodeExecution(
		auth.SubjectFromContext(ctx), audit.CorrelationFromContext(ctx),
		codeHash, language, run.ReturnCode == 0, result.DurationMS, run.CacheHit))
	return result, nil
}

// screen validates code before it reaches an interpreter and records a
// security_violation audit when the code itself, rather than its
// shape, was the problem. Returns the code hash for artifact keying.
func (t *executeTool) screen(ctx context.Context, code, language string, strict bool) (string, error) {
	sum := sha256.Sum256([]byte(code))
	codeHash := hex.EncodeToString(sum[:])

	if err := t.deps.Validator.ValidateCode(code, language, strict); err != nil {
		details := fault.DetailsOf(err)
		if isSecurityRule(details["rule"]) {
			attrs := map[string]any{
				"code_hash": codeHash,
				"language":  language,
				"message":   fault.MessageOf(err),
			}
			for k, v := range details {
				attrs[k] = v
			}
			t.deps.Audit.Record(audit.SecurityViolation(
				auth.SubjectFromContext(ctx), audit.CorrelationFromContext(ctx),
				"code_validation", attrs))
		}
		return "", err
	}
	return codeHash, nil
}

// dispatch hands validated code to the sandbox.
func (t *executeTool) dispatch(ctx context.Context, code, language string, timeout time.Duration) (*sandbox.Result, error) {
	return t.deps.Runner.Run(ctx, sandbox.Request{
		Code:     code,
		Language: language,
		Timeout:  timeout,
	})
}

func (t *executeTool) persist(ctx context.Context, r *ExecutionResult) error {
	err := t.deps.Graph.ExecuteWrite(ctx,
		`MERGE (e:ExecutionResult {id: $id})
		 SET e += {
		     code_hash: $code_hash,
		     language: $language,
		     return_code: $return_code,
		     stdout: $stdout,
		     stderr: $stderr,
		     duration_ms: $duration_ms,
		     peak_memory_bytes: $peak_memory_bytes,
		     truncated_flag: $truncated_flag,
		     timed_out: $timed_out,
		     cache_hit: $cache_hit,
		     created_at: $created_at
		 }`,
		map[string]any{
			"id":                r.ID,
			"code_hash":         r.CodeHash,
			"language":          r.Language,
			"return_code":       r.ReturnCode,
			"stdout":            r.Stdout,
			"stderr":            r.Stderr,
			"duration_ms":       r.DurationMS,
			"peak_memory_bytes": r.PeakMemoryBytes,
			"truncated_flag":    r.Truncated,
			"timed_out":         r.TimedOut,
			"cache_hit":         r.CacheHit,
			"created_at":        r.CreatedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fault.Wrap(fault.KindOf(err), "persisting execution artifact", err)
	}
	return nil
}

// timeoutOf converts the request seconds field; zero selects the
// sandbox default.
func timeoutOf(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// shapeRules are validation rejections about the document rather than
// the behavior of the code: those are plain bad input, not attempts.
var shapeRules = map[string]struct{}{
	"empty":    {},
	"size":     {},
	"encoding": {},
	"language": {},
	"syntax":   {},
	"depth":    {},
	"nodes":    {},
}

func isSecurityRule(rule any) bool {
	name, ok := rule.(string)
	if !ok {
		return false
	}
	_, shape := shapeRules[name]
	return !shape
}
