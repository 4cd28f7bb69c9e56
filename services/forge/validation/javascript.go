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
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// JavaScript tree-sitter node types.
// Reference: tree-sitter-javascript grammar.
const (
	jsNodeImportStatement    = "import_statement"
	jsNodeCallExpression     = "call_expression"
	jsNodeNewExpression      = "new_expression"
	jsNodeMemberExpression   = "member_expression"
	jsNodeIdentifier         = "identifier"
	jsNodeString             = "string"
	jsNodeArguments          = "arguments"
	jsNodePropertyIdentifier = "property_identifier"
	jsNodeImport             = "import"
)

// Member accesses on process that reach native code.
var jsDenyProcessMembers = stringSet("binding", "dlopen", "_linkedBinding")

// checkJavaScriptNode applies the javascript deny rules to one node.
func (w *walker) checkJavaScriptNode(node *sitter.Node) error {
	switch node.Type() {
	case jsNodeImportStatement:
		return w.checkJSImport(node)
	case jsNodeCallExpression:
		return w.checkJSCall(node)
	case jsNodeNewExpression:
		return w.checkJSNew(node)
	case jsNodeMemberExpression:
		return w.checkJSMember(node)
	}
	return nil
}

// checkJSImport handles `import x from "fs"` and bare side-effect
// imports.
func (w *walker) checkJSImport(node *sitter.Node) error {
	source := node.ChildByFieldName("source")
	if source == nil || source.Type() != jsNodeString {
		return nil
	}
	module, ok := stringLiteral(w.text(source))
	if !ok {
		return violation("import_dynamic", "", line(node),
			"dangerous pattern: import with a non-literal module is not allowed")
	}
	return w.checkJSModule(module, node)
}

// checkJSCall handles require(), dynamic import(), eval, and Function
// called without new.
func (w *walker) checkJSCall(node *sitter.Node) error {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return nil
	}

	switch fn.Type() {
	case jsNodeIdentifier:
		name := w.text(fn)
		switch name {
		case "eval":
			return violation("call", "eval", line(node),
				"dangerous pattern: call to eval is not allowed")
		case "Function":
			return violation("call", "Function", line(node),
				"dangerous pattern: Function constructor is not allowed")
		case "require":
			return w.checkJSRequire(node)
		}
	case jsNodeImport:
		// Dynamic import("mod").
		return w.checkJSRequire(node)
	}
	return nil
}

// checkJSRequire validates the first argument of require or dynamic
// import. Non-literal arguments are denied outright.
func (w *walker) checkJSRequire(call *sitter.Node) error {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		if !arg.IsNamed() {
			continue
		}
		if arg.Type() != jsNodeString {
			return violation("require_dynamic", "", line(call),
				"dangerous pattern: require with a non-literal module is not allowed")
		}
		module, ok := stringLiteral(w.text(arg))
		if !ok {
			return violation("require_dynamic", "", line(call),
				"dangerous pattern: require with a non-literal module is not allowed")
		}
		return w.checkJSModule(module, call)
	}
	return nil
}

func (w *walker) checkJSModule(module string, node *sitter.Node) error {
	name := strings.TrimPrefix(module, "node:")
	if w.policy.JSDenyModules[rootModule(name)] {
		return violation("import", module, line(node),
			fmt.Sprintf("dangerous pattern: module %q is not allowed", name))
	}
	return nil
}

// checkJSNew denies `new Function(...)`.
func (w *walker) checkJSNew(node *sitter.Node) error {
	ctor := node.ChildByFieldName("constructor")
	if ctor != nil && ctor.Type() == jsNodeIdentifier && w.text(ctor) == "Function" {
		return violation("call", "Function", line(node),
			"dangerous pattern: Function constructor is not allowed")
	}
	return nil
}

// checkJSMember denies process.binding and process.dlopen, the
// escape hatches into native modules.
func (w *walker) checkJSMember(node *sitter.Node) error {
	object := node.ChildByFieldName("object")
	property := node.ChildByFieldName("property")
	if object == nil || property == nil {
		return nil
	}
	if object.Type() != jsNodeIdentifier || w.text(object) != "process" {
		return nil
	}
	if property.Type() == jsNodePropertyIdentifier && jsDenyProcessMembers[w.text(property)] {
		return violation("process_member", w.text(property), line(node),
			fmt.Sprintf("dangerous pattern: process.%s is not allowed", w.text(property)))
	}
	return nil
}
