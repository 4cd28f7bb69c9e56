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
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// GenerateRequest is the argument document for generate_code. Exactly
// one of Template and TemplateName must be set.
type GenerateRequest struct {
	Template     string         `json:"template"`
	TemplateName string         `json:"template_name" validate:"omitempty,oneof=function class module"`
	Context      map[string]any `json:"context"`
	Language     string         `json:"language" validate:"omitempty,oneof=python javascript"`
}

// GenerationResult is the generation artifact. The render context is
// never persisted with it.
type GenerationResult struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// placeholderRe matches {{ name }} substitution points. Rendering is
// pure text substitution: no directives, no expressions, no access to
// anything beyond the supplied context.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// placeholderNameRe constrains context keys to referenceable names.
var placeholderNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// builtinScaffolds are the named templates. Every scaffold draws only
// on the "name" context value.
var builtinScaffolds = map[string]map[string]string{
	"python": {
		"function": "def {{ name }}():\n" +
			"    raise NotImplementedError(\"{{ name }} is not implemented\")\n",
		"class": "class {{ name }}:\n" +
			"    def __init__(self):\n" +
			"        pass\n",
		"module": "\"\"\"{{ name }} module.\"\"\"\n" +
			"\n" +
			"\n" +
			"def main():\n" +
			"    pass\n" +
			"\n" +
			"\n" +
			"if __name__ == \"__main__\":\n" +
			"    main()\n",
	},
	"javascript": {
		"function": "function {{ name }}() {\n" +
			"  throw new Error(\"{{ name }} is not implemented\");\n" +
			"}\n",
		"class": "class {{ name }} {\n" +
			"  constructor() {}\n" +
			"}\n",
		"module": "// {{ name }} module.\n" +
			"\n" +
			"export function main() {}\n",
	},
}

type generateTool struct {
	deps Deps
}

func newGenerateTool(deps Deps) *generateTool {
	return &generateTool{deps: deps}
}

func (t *generateTool) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[GenerateRequest](raw)
	if err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = "python"
	}

	template, err := resolveTemplate(req, language)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Context {
		if !placeholderNameRe.MatchString(key) {
			return nil, fault.Newf(fault.KindInvalidInput, "context key %q is not a valid placeholder name", key)
		}
		if err := checkFlatValue("context value", key, value); err != nil {
			return nil, err
		}
	}

	output, err := render(template, req.Context)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{
		ID:        uuid.NewString(),
		Language:  language,
		Output:    output,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.persist(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func resolveTemplate(req *GenerateRequest, language string) (string, error) {
	switch {
	case req.Template != "" && req.TemplateName != "":
		return "", fault.New(fault.KindInvalidInput, "template and template_name are mutually exclusive")
	case req.Template == "" && req.TemplateName == "":
		return "", fault.New(fault.KindInvalidInput, "either template or template_name is required")
	case req.TemplateName != "":
		return builtinScaffolds[language][req.TemplateName], nil
	}
	if strings.Contains(req.Template, "{%") || strings.Contains(req.Template, "{#") {
		return "", fault.New(fault.KindInvalidInput, "template directives are not supported; only {{ name }} placeholders")
	}
	return req.Template, nil
}

// render substitutes every placeholder from the context. Placeholders
// without a context entry fail the render; extra context entries are
// ignored.
func render(template string, context map[string]any) (string, error) {
	var missing []string
	seen := map[string]bool{}
	output := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := context[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return match
		}
		if seq, isSeq := value.([]any); isSeq {
			parts := make([]string, 0, len(seq))
			for _, item := range seq {
				parts = append(parts, scalarString(item))
			}
			return strings.Join(parts, ", ")
		}
		return scalarString(value)
	})
	if len(missing) > 0 {
		return "", fault.Newf(fault.KindInvalidInput,
			"template references unknown context keys: %s", strings.Join(missing, ", "))
	}
	return output, nil
}

func (t *generateTool) persist(ctx context.Context, r *GenerationResult) error {
	err := t.deps.Graph.ExecuteWrite(ctx,
		`MERGE (g:GenerationResult {id: $id})
		 SET g += {
		     language: $language,
		     output: $output,
		     created_at: $created_at
		 }`,
		map[string]any{
			"id":         r.ID,
			"language":   r.Language,
			"output":     r.Output,
			"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fault.Wrap(fault.KindOf(err), "persisting generation artifact", err)
	}
	return nil
}
