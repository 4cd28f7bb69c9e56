// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// ValidateCode checks that source in the given language is safe to
// hand to an interpreter. Strict mode extends the python deny set
// with network-reaching modules.
//
// The check is purely syntactic over the real parse tree. Source that
// does not parse is rejected: the sandbox only runs code whose shape
// the validator understood.
func (v *Validator) ValidateCode(source, language string, strict bool) error {
	return v.inspect(source, language, strict, nil)
}

// inspect is the shared parse-and-walk under ValidateCode and
// AnalyzeCode. A non-nil collector sees every node of the same walk
// that enforces the security policy.
func (v *Validator) inspect(source, language string, strict bool, co *collector) error {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return violation("empty", "", 0, "code must not be empty")
	}
	if len(source) > MaxSourceBytes {
		return violation("size", "", 0,
			fmt.Sprintf("code exceeds maximum size of %d bytes", MaxSourceBytes))
	}
	if !utf8.ValidString(source) {
		return violation("encoding", "", 0, "code is not valid UTF-8")
	}

	var lang *sitter.Language
	switch language {
	case "python":
		lang = python.GetLanguage()
	case "javascript":
		lang = javascript.GetLanguage()
	default:
		return violation("language", language, 0,
			fmt.Sprintf("language %q is not supported", language))
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "code could not be parsed", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line, token := firstSyntaxError(root, []byte(source))
		return violation("syntax", token, line, "code contains syntax errors")
	}

	w := &walker{
		policy:  v.policy,
		strict:  strict,
		source:  []byte(source),
		maxSeen: 0,
	}

	var check nodeCheck
	switch language {
	case "python":
		check = w.checkPythonNode
	case "javascript":
		check = w.checkJavaScriptNode
	}
	if co != nil {
		inner := check
		check = func(node *sitter.Node) error {
			co.visit(w, node)
			return inner(node)
		}
	}
	return w.walk(root, 0, check)
}

// nodeCheck inspects a single node and returns a violation or nil.
type nodeCheck func(node *sitter.Node) error

// walker enforces the tree bounds while applying a per-node check.
type walker struct {
	policy  Policy
	strict  bool
	source  []byte
	maxSeen int
}

func (w *walker) walk(node *sitter.Node, depth int, check nodeCheck) error {
	if depth > MaxTreeDepth {
		return violation("depth", "", 0,
			fmt.Sprintf("code nesting exceeds maximum depth of %d", MaxTreeDepth))
	}
	w.maxSeen++
	if w.maxSeen > MaxTreeNodes {
		return violation("nodes", "", 0,
			fmt.Sprintf("code exceeds maximum of %d syntax nodes", MaxTreeNodes))
	}

	if err := check(node); err != nil {
		return err
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		if err := w.walk(node.Child(i), depth+1, check); err != nil {
			return err
		}
	}
	return nil
}

// text returns the source text of a node.
func (w *walker) text(node *sitter.Node) string {
	return node.Content(w.source)
}

// line returns the 1-based line of a node.
func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// firstSyntaxError locates the first ERROR or MISSING node for the
// rejection message. Depth-gated so malformed input cannot recurse
// unboundedly.
func firstSyntaxError(node *sitter.Node, source []byte) (int, string) {
	return findSyntaxError(node, source, 0)
}

func findSyntaxError(node *sitter.Node, source []byte, depth int) (int, string) {
	if depth > 1000 {
		return 0, ""
	}
	if node.IsError() || node.IsMissing() {
		start, end := node.StartByte(), node.EndByte()
		if end > uint32(len(source)) {
			end = uint32(len(source))
		}
		token := ""
		if end > start && end-start <= 40 {
			token = string(source[start:end])
		}
		return line(node), token
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if l, t := findSyntaxError(node.Child(i), source, depth+1); l > 0 {
			return l, t
		}
	}
	return 0, ""
}

// rootModule returns the top-level package of a dotted module path.
func rootModule(module string) string {
	if idx := strings.IndexByte(module, '.'); idx >= 0 {
		return module[:idx]
	}
	return module
}

// stringLiteral extracts the inner text of a string literal node,
// tolerating quote styles and common prefixes. The second return is
// false when the node is not a plain literal (template strings,
// f-strings with interpolation, concatenations).
func stringLiteral(text string) (string, bool) {
	s := text
	for len(s) > 0 {
		c := s[0]
		if c == 'r' || c == 'R' || c == 'b' || c == 'B' || c == 'u' || c == 'U' || c == 'f' || c == 'F' {
			s = s[1:]
			continue
		}
		break
	}
	if len(s) < 2 {
		return "", false
	}
	quote := s[0]
	if quote != '\'' && quote != '"' && quote != '`' {
		return "", false
	}
	if s[len(s)-1] != quote {
		return "", false
	}
	inner := s[1 : len(s)-1]
	// Interpolation means the value is not static.
	if strings.ContainsAny(inner, "{$`") {
		return "", false
	}
	return inner, true
}
