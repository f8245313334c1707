package index

import (
	"regexp"
	"strings"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/store"
)

// callPattern matches an identifier immediately followed by an opening
// paren: foo(, pkg.Foo(, obj.method(. Good enough to find call sites
// without a grammar; language keywords and the chunk's own name are
// filtered out by the caller.
var callPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// typeTokenPattern matches capitalized identifiers in a signature, the
// heuristic this extractor uses to spot type references: exported Go,
// Java, and C#-style types are capitalized by convention, and this is a
// pragmatic substitute for walking a real type-checked AST.
var typeTokenPattern = regexp.MustCompile(`\b([A-Z][A-Za-z0-9_]*)\b`)

var keywords = map[string]struct{}{
	"if": {}, "for": {}, "switch": {}, "while": {}, "return": {}, "func": {},
	"def": {}, "fn": {}, "function": {}, "catch": {}, "except": {}, "with": {},
	"select": {}, "match": {}, "case": {}, "new": {}, "else": {}, "elif": {},
}

// ExtractCalls finds call-site edges from c into any name present in
// known, the set of function/method names discovered elsewhere in the
// same indexing run. Callees outside the project (stdlib, third-party)
// are dropped: the store's call graph is scoped to project-internal
// structure, and attempting name resolution against every possible
// external symbol would mostly produce noise.
func ExtractCalls(c *chunk.Chunk, known map[string]struct{}) []store.FunctionCall {
	if c.ChunkType != chunk.ChunkTypeFunction && c.ChunkType != chunk.ChunkTypeMethod {
		return nil
	}
	seen := map[string]struct{}{}
	var calls []store.FunctionCall
	for _, m := range callPattern.FindAllStringSubmatch(c.Content, -1) {
		name := m[1]
		if name == c.Name {
			continue
		}
		if _, isKeyword := keywords[name]; isKeyword {
			continue
		}
		if _, ok := known[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		calls = append(calls, store.FunctionCall{
			Caller: c.Name,
			Callee: name,
			File:   c.Origin,
			Line:   c.LineStart,
		})
	}
	return calls
}

// stdlibNoise holds common built-in type names excluded from type edges
// so the graph isn't flooded with edges to every "String" or "Error".
var stdlibNoise = map[string]struct{}{
	"String": {}, "Int": {}, "Bool": {}, "Error": {}, "Context": {},
	"Object": {}, "Any": {}, "Self": {}, "This": {}, "List": {}, "Map": {},
	"Slice": {}, "Struct": {}, "Interface": {}, "Byte": {}, "Float": {},
}

// ExtractTypeRefs finds type-name edges from c's signature (parameter and
// return types) and, for methods, an implementation edge to the
// receiver/enclosing type recorded in ParentTypeName.
func ExtractTypeRefs(c *chunk.Chunk) []store.TypeRef {
	var refs []store.TypeRef
	seen := map[string]struct{}{}

	add := func(name string, kind store.TypeRefKind) {
		if name == c.Name || (name == c.ParentTypeName && kind != store.TypeRefImpl) {
			return
		}
		if _, noise := stdlibNoise[name]; noise {
			return
		}
		key := name + ":" + string(kind)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, store.TypeRef{
			ReferrerChunkID: c.ID,
			TypeName:        name,
			Kind:            kind,
			File:            c.Origin,
		})
	}

	if c.ParentTypeName != "" {
		add(c.ParentTypeName, store.TypeRefImpl)
	}

	sig := c.Signature
	returnSplit := splitReturnClause(sig)
	params, ret := sig, ""
	if returnSplit >= 0 {
		params, ret = sig[:returnSplit], sig[returnSplit:]
	}
	for _, m := range typeTokenPattern.FindAllString(params, -1) {
		add(m, store.TypeRefParam)
	}
	for _, m := range typeTokenPattern.FindAllString(ret, -1) {
		add(m, store.TypeRefReturn)
	}
	return refs
}

// splitReturnClause finds the position after a signature's parameter
// list, the boundary between parameter types and a Go-style
// "func foo(...) ReturnType" or "-> ReturnType" return clause. A leading
// "func (recv Type)" receiver group, if present, is skipped first so it
// isn't mistaken for the parameter list. Returns -1 when no boundary is
// found, in which case the whole signature is treated as parameter-position.
func splitReturnClause(sig string) int {
	if idx := strings.Index(sig, "->"); idx >= 0 {
		return idx
	}

	s, offset := sig, 0
	if strings.HasPrefix(s, "func (") {
		if end := firstParenGroupEnd(s); end >= 0 {
			offset = end
			s = s[offset:]
		}
	}

	if end := firstParenGroupEnd(s); end >= 0 {
		return offset + end
	}
	return -1
}

// firstParenGroupEnd returns the index just past s's first balanced
// top-level paren group, or -1 if s has none.
func firstParenGroupEnd(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
