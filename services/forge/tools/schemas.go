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

// JSON schemas served to MCP clients. The HTTP surface does not read
// these; both transports enforce the same rules through decode and the
// per-tool validation, so the schemas are documentation of that gate,
// not a second implementation of it.

const lintSchema = `{
  "type": "object",
  "properties": {
    "code": {
      "type": "string",
      "description": "Source code to analyze."
    },
    "language": {
      "type": "string",
      "enum": ["python", "javascript"],
      "default": "python",
      "description": "Language of the source code."
    }
  },
  "required": ["code"],
  "additionalProperties": false
}`

const executeSchema = `{
  "type": "object",
  "properties": {
    "code": {
      "type": "string",
      "description": "Code snippet to execute in the sandbox."
    },
    "language": {
      "type": "string",
      "enum": ["python", "javascript"],
      "default": "python",
      "description": "Interpreter to run the snippet with."
    },
    "timeout_seconds": {
      "type": "integer",
      "minimum": 1,
      "maximum": 30,
      "description": "Wall-clock budget in seconds. Defaults to 8."
    }
  },
  "required": ["code"],
  "additionalProperties": false
}`

const runTestsSchema = `{
  "type": "object",
  "properties": {
    "code": {
      "type": "string",
      "description": "A complete test module. pytest is used when installed, unittest otherwise."
    },
    "timeout_seconds": {
      "type": "integer",
      "minimum": 1,
      "maximum": 30,
      "description": "Wall-clock budget in seconds. Defaults to 8."
    }
  },
  "required": ["code"],
  "additionalProperties": false
}`

const generateSchema = `{
  "type": "object",
  "properties": {
    "template": {
      "type": "string",
      "description": "Template body with {{ name }} placeholders. Mutually exclusive with template_name."
    },
    "template_name": {
      "type": "string",
      "enum": ["function", "class", "module"],
      "description": "Built-in scaffold to render instead of a literal template."
    },
    "context": {
      "type": "object",
      "description": "Placeholder values. Scalars or flat arrays of scalars only."
    },
    "language": {
      "type": "string",
      "enum": ["python", "javascript"],
      "default": "python"
    }
  },
  "additionalProperties": false
}`

const graphUpsertSchema = `{
  "type": "object",
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "key": {"type": "string"},
          "labels": {"type": "array", "items": {"type": "string"}, "minItems": 1},
          "properties": {"type": "object"}
        },
        "required": ["key", "labels"],
        "additionalProperties": false
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "start": {"type": "string"},
          "end": {"type": "string"},
          "type": {"type": "string"},
          "properties": {"type": "object"}
        },
        "required": ["start", "end", "type"],
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

const graphQuerySchema = `{
  "type": "object",
  "properties": {
    "cypher": {
      "type": "string",
      "description": "Read-only Cypher. Mutating clauses are rejected."
    },
    "parameters": {
      "type": "object",
      "description": "Query parameters referenced as $name."
    }
  },
  "required": ["cypher"],
  "additionalProperties": false
}`

const listPromptsSchema = `{
  "type": "object",
  "properties": {},
  "additionalProperties": false
}`

const getPromptSchema = `{
  "type": "object",
  "properties": {
    "id": {
      "type": "string",
      "description": "Prompt id as returned by list_prompts."
    }
  },
  "required": ["id"],
  "additionalProperties": false
}`
