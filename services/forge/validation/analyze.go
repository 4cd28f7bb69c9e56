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
	sitter "github.com/smacker/go-tree-sitter"
)

// CodeReport is the structural summary the lint pipeline extracts from
// the same parse that validated the source.
type CodeReport struct {
	// Functions, Classes and Imports are in source order, first
	// occurrence wins on duplicates.
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	Imports   []string `json:"imports"`

	// Complexity counts branch-forming nodes plus one.
	Complexity int `json:"complexity"`
}

// AnalyzeCode applies the full ValidateCode policy and, on the same
// tree walk, extracts declarations and computes complexity. Source
// that fails validation yields no report.
func (v *Validator) AnalyzeCode(source, language string, strict bool) (*CodeReport, error) {
	co := &collector{
		language:    language,
		seenFuncs:   make(map[string]bool),
		seenClasses: make(map[string]bool),
		seenImports: make(map[string]bool),
	}
	if err := v.inspect(source, language, strict, co); err != nil {
		return nil, err
	}
	return &CodeReport{
		Functions:  emptyNotNil(co.functions),
		Classes:    emptyNotNil(co.classes),
		Imports:    emptyNotNil(co.imports),
		Complexity: co.branches + 1,
	}, nil
}

type collector struct {
	language string

	functions []string
	classes   []string
	imports   []string
	branches  int

	seenFuncs   map[string]bool
	seenClasses map[string]bool
	seenImports map[string]bool
}

func (co *collector) visit(w *walker, node *sitter.Node) {
	switch co.language {
	case "python":
		co.visitPython(w, node)
	case "javascript":
		co.visitJavaScript(w, node)
	}
}

func (co *collector) visitPython(w *walker, node *sitter.Node) {
	switch node.Type() {
	case "function_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			co.addFunction(w.text(name))
		}
	case "class_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			co.addClass(w.text(name))
		}
	case "import_statement":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				co.addImport(w.text(child))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					co.addImport(w.text(name))
				}
			}
		}
	case "import_from_statement":
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			co.addImport(w.text(mod))
		}
	case "if_statement", "elif_clause", "for_statement", "while_statement",
		"except_clause", "with_statement", "boolean_operator",
		"conditional_expression", "case_clause":
		co.branches++
	}
}

func (co *collector) visitJavaScript(w *walker, node *sitter.Node) {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration", "method_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			co.addFunction(w.text(name))
		}
	case "class_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			co.addClass(w.text(name))
		}
	case "import_statement":
		if src := node.ChildByFieldName("source"); src != nil {
			if module, ok := stringLiteral(w.text(src)); ok {
				co.addImport(module)
			}
		}
	case "if_statement", "for_statement", "for_in_statement",
		"while_statement", "do_statement", "catch_clause",
		"ternary_expression", "switch_case":
		co.branches++
	case "binary_expression":
		if op := node.ChildByFieldName("operator"); op != nil {
			if t := op.Type(); t == "&&" || t == "||" {
				co.branches++
			}
		}
	}
}

func (co *collector) addFunction(name string) {
	if name != "" && !co.seenFuncs[name] {
		co.seenFuncs[name] = true
		co.functions = append(co.functions, name)
	}
}

func (co *collector) addClass(name string) {
	if name != "" && !co.seenClasses[name] {
		co.seenClasses[name] = true
		co.classes = append(co.classes, name)
	}
}

func (co *collector) addImport(name string) {
	if name != "" && !co.seenImports[name] {
		co.seenImports[name] = true
		co.imports = append(co.imports, name)
	}
}

// emptyNotNil keeps JSON responses as [] instead of null.
func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
