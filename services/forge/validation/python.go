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

// Python tree-sitter node types.
// Reference: tree-sitter-python grammar.
const (
	pyNodeImportStatement     = "import_statement"
	pyNodeImportFromStatement = "import_from_statement"
	pyNodeDottedName          = "dotted_name"
	pyNodeAliasedImport       = "aliased_import"
	pyNodeCall                = "call"
	pyNodeAttribute           = "attribute"
	pyNodeIdentifier          = "identifier"
	pyNodeSubscript           = "subscript"
	pyNodeString              = "string"
	pyNodeKeywordArgument     = "keyword_argument"
)

// checkPythonNode applies the python deny rules to one node.
func (w *walker) checkPythonNode(node *sitter.Node) error {
	switch node.Type() {
	case pyNodeImportStatement:
		return w.checkPythonImport(node)
	case pyNodeImportFromStatement:
		return w.checkPythonFromImport(node)
	case pyNodeCall:
		return w.checkPythonCall(node)
	case pyNodeAttribute:
		return w.checkPythonAttribute(node)
	case pyNodeIdentifier:
		return w.checkPythonIdentifier(node)
	case pyNodeSubscript:
		return w.checkPythonSubscript(node)
	}
	return nil
}

// checkPythonImport handles `import a.b, c as d`.
func (w *walker) checkPythonImport(node *sitter.Node) error {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		var nameNode *sitter.Node
		switch child.Type() {
		case pyNodeDottedName:
			nameNode = child
		case pyNodeAliasedImport:
			nameNode = child.ChildByFieldName("name")
		default:
			continue
		}
		if nameNode == nil {
			continue
		}
		if err := w.checkPythonModule(w.text(nameNode), nameNode); err != nil {
			return err
		}
	}
	return nil
}

// checkPythonFromImport handles `from a.b import c`. Relative imports
// carry no module root and pass; the sandbox has no package to climb.
func (w *walker) checkPythonFromImport(node *sitter.Node) error {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil || moduleNode.Type() != pyNodeDottedName {
		return nil
	}
	return w.checkPythonModule(w.text(moduleNode), moduleNode)
}

func (w *walker) checkPythonModule(module string, node *sitter.Node) error {
	root := rootModule(module)
	if w.policy.PythonDenyModules[root] {
		return violation("import", module, line(node),
			fmt.Sprintf("dangerous pattern: import of module %q is not allowed", root))
	}
	if w.strict && w.policy.PythonNetworkModules[root] {
		return violation("import_network", module, line(node),
			fmt.Sprintf("dangerous network imports: module %q is not allowed in strict mode", root))
	}
	return nil
}

// checkPythonCall denies calls whose callee is a bare dangerous name,
// and open() in write mode.
func (w *walker) checkPythonCall(node *sitter.Node) error {
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != pyNodeIdentifier {
		return nil
	}
	name := w.text(fn)
	if w.policy.PythonDenyCalls[name] {
		return violation("call", name, line(node),
			fmt.Sprintf("dangerous pattern: call to %q is not allowed", name))
	}
	if name == "open" {
		return w.checkPythonOpenMode(node)
	}
	return nil
}

// checkPythonOpenMode allows open() for reading only. A mode that is
// not a static literal counts as write intent.
func (w *walker) checkPythonOpenMode(call *sitter.Node) error {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	positional := 0
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		switch arg.Type() {
		case pyNodeKeywordArgument:
			keyNode := arg.ChildByFieldName("name")
			if keyNode == nil || w.text(keyNode) != "mode" {
				continue
			}
			valueNode := arg.ChildByFieldName("value")
			return w.checkOpenModeValue(valueNode, call)
		case pyNodeString, pyNodeIdentifier, pyNodeAttribute, pyNodeCall,
			"integer", "float", "true", "false", "none", "binary_operator",
			"unary_operator", "subscript", "list", "tuple", "dictionary",
			"concatenated_string", "conditional_expression":
			positional++
			if positional == 2 {
				return w.checkOpenModeValue(arg, call)
			}
		}
	}
	return nil
}

func (w *walker) checkOpenModeValue(value *sitter.Node, call *sitter.Node) error {
	if value == nil {
		return nil
	}
	if value.Type() == pyNodeString {
		if mode, ok := stringLiteral(w.text(value)); ok {
			if strings.ContainsAny(mode, "wax+") {
				return violation("open_write", mode, line(call),
					"dangerous pattern: open() in write mode is not allowed")
			}
			return nil
		}
	}
	// Non-literal mode is indistinguishable from write mode.
	return violation("open_write", "", line(call),
		"dangerous pattern: open() with a non-literal mode is not allowed")
}

// checkPythonAttribute denies access to interpreter internals such as
// obj.__class__ or func.__globals__.
func (w *walker) checkPythonAttribute(node *sitter.Node) error {
	attr := node.ChildByFieldName("attribute")
	if attr == nil {
		return nil
	}
	name := w.text(attr)
	if w.policy.PythonDenyDunders[name] {
		return violation("dunder_attribute", name, line(node),
			fmt.Sprintf("dangerous pattern: access to %q is not allowed", name))
	}
	return nil
}

// checkPythonIdentifier denies bare references to interpreter
// internals, which covers getattr(__builtins__, ...) style bypasses.
func (w *walker) checkPythonIdentifier(node *sitter.Node) error {
	name := w.text(node)
	if w.policy.PythonDenyDunders[name] {
		return violation("dunder_name", name, line(node),
			fmt.Sprintf("dangerous pattern: reference to %q is not allowed", name))
	}
	return nil
}

// checkPythonSubscript denies literal-key lookups of interpreter
// internals, which covers globals()['__builtins__'] style bypasses.
func (w *walker) checkPythonSubscript(node *sitter.Node) error {
	index := node.ChildByFieldName("subscript")
	if index == nil || index.Type() != pyNodeString {
		return nil
	}
	key, ok := stringLiteral(w.text(index))
	if !ok {
		return nil
	}
	if w.policy.PythonDenyDunders[key] {
		return violation("dunder_subscript", key, line(node),
			fmt.Sprintf("dangerous pattern: subscript access to %q is not allowed", key))
	}
	return nil
}
