// Package interpreter provides reference implementations of core.Interpreter.
//
//   - Regex parses the "/intent{json}" shorthand used by buttons and tests.
//   - HTTP delegates to a remote NLU server via POST <url>/model/parse.
//
// LLM backed interpreters live in the openai and anthropic sub packages.
package interpreter
