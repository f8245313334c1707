package chunk

import (
	"strings"
)

// SymbolExtractor extracts symbols from parsed AST.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates a new symbol extractor.
func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{registry: DefaultRegistry()}
}

// NewSymbolExtractorWithRegistry creates a new symbol extractor with a custom registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract extracts symbols from the parsed tree.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol
	tree.Root.Walk(func(n *Node) bool {
		if symbol := e.extractSymbolFromNode(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})

	return symbols
}

func matchesAny(nodeType string, types []string) bool {
	for _, t := range types {
		if nodeType == t {
			return true
		}
	}
	return false
}

// extractSymbolFromNode extracts a symbol from a single node if it matches
// a symbol-defining node type.
func (e *SymbolExtractor) extractSymbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	var chunkType ChunkType
	var found bool

	switch {
	case matchesAny(n.Type, config.FunctionTypes):
		chunkType, found = ChunkTypeFunction, true
	case matchesAny(n.Type, config.MethodTypes):
		chunkType, found = ChunkTypeMethod, true
	case matchesAny(n.Type, config.ClassTypes):
		chunkType, found = ChunkTypeClass, true
	case matchesAny(n.Type, config.StructTypes):
		chunkType, found = ChunkTypeStruct, true
	case matchesAny(n.Type, config.EnumTypes):
		chunkType, found = ChunkTypeEnum, true
	case matchesAny(n.Type, config.TraitTypes):
		chunkType, found = ChunkTypeTrait, true
	case matchesAny(n.Type, config.InterfaceTypes):
		chunkType, found = ChunkTypeInterface, true
	case matchesAny(n.Type, config.TypeDefTypes):
		// Go's type_declaration covers both struct and interface bodies;
		// disambiguate by inspecting the type_spec's value node.
		chunkType, found = classifyGoTypeDecl(n), true
	case matchesAny(n.Type, config.ConstantTypes):
		chunkType, found = ChunkTypeConstant, true
	case matchesAny(n.Type, config.VariableTypes):
		chunkType, found = ChunkTypeConstant, true
	case matchesAny(n.Type, config.PropertyTypes):
		chunkType, found = ChunkTypeProperty, true
	}

	if !found {
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	docComment := e.extractDocComment(n, source, language)
	signature := e.extractSignature(n, source, chunkType, language)
	parentType := ""
	if chunkType == ChunkTypeMethod && language == "go" {
		parentType = extractGoReceiverType(n, source)
	}

	return &Symbol{
		Name:           name,
		Type:           chunkType,
		StartLine:      int(n.StartPoint.Row) + 1,
		EndLine:        int(n.EndPoint.Row) + 1,
		Signature:      signature,
		DocComment:     docComment,
		ParentTypeName: parentType,
	}
}

// classifyGoTypeDecl distinguishes struct vs interface within a Go
// type_declaration node. Any other type spec (an alias or a named
// non-struct type) is classified as a struct.
func classifyGoTypeDecl(n *Node) ChunkType {
	for _, child := range n.Children {
		if child.Type != "type_spec" {
			continue
		}
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "struct_type":
				return ChunkTypeStruct
			case "interface_type":
				return ChunkTypeInterface
			}
		}
	}
	return ChunkTypeStruct
}

// extractGoReceiverType pulls the receiver's named type out of a Go
// method_declaration, e.g. "func (s *Store) Search(...)" -> "Store".
func extractGoReceiverType(n *Node, source []byte) string {
	receiver := n.FindChildByType("parameter_list")
	if receiver == nil {
		return ""
	}
	content := receiver.GetContent(source)
	content = strings.TrimPrefix(content, "(")
	content = strings.TrimSuffix(content, ")")
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	return strings.TrimPrefix(last, "*")
}

func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	switch language {
	case "go":
		return e.extractGoName(n, source)
	case "typescript", "tsx":
		return e.extractTypeScriptName(n, source)
	case "javascript", "jsx":
		return e.extractJavaScriptName(n, source)
	case "python":
		return e.extractPythonName(n, source)
	default:
		for _, child := range n.Children {
			if child.Type == "identifier" {
				return child.GetContent(source)
			}
		}
	}
	return ""
}

func (e *SymbolExtractor) extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		for _, child := range n.Children {
			if child.Type == "identifier" {
				return child.GetContent(source)
			}
		}
	case "method_declaration":
		for _, child := range n.Children {
			if child.Type == "field_identifier" {
				return child.GetContent(source)
			}
		}
	case "type_declaration":
		for _, child := range n.Children {
			if child.Type == "type_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "type_identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	case "const_declaration":
		for _, child := range n.Children {
			if child.Type == "const_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	case "var_declaration":
		for _, child := range n.Children {
			if child.Type == "var_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}
	return ""
}

func (e *SymbolExtractor) extractTypeScriptName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func (e *SymbolExtractor) extractJavaScriptName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}
	for _, child := range n.Children {
		if child.Type == "identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func (e *SymbolExtractor) extractPythonName(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

// extractSpecialSymbol handles cases the static node-type table misses,
// like JS/TS arrow functions assigned to a const.
func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			return e.extractJSVariableFunctionSymbol(n, source)
		}
	}
	return nil
}

func (e *SymbolExtractor) extractJSVariableFunctionSymbol(n *Node, source []byte) *Symbol {
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			if grandchild.Type == "identifier" {
				name = grandchild.GetContent(source)
			}
			if grandchild.Type == "arrow_function" || grandchild.Type == "function" || grandchild.Type == "function_expression" {
				hasFunction = true
			}
		}
		if name != "" && hasFunction {
			content := n.GetContent(source)
			return &Symbol{
				Name:      name,
				Type:      ChunkTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
				Signature: e.extractFunctionSignature(content, "javascript"),
			}
		}
	}
	return nil
}

func (e *SymbolExtractor) extractDocComment(n *Node, source []byte, language string) string {
	if n.StartPoint.Row == 0 {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}
	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

	switch language {
	case "go", "javascript", "jsx", "typescript", "tsx":
		if strings.HasPrefix(prevLine, "//") {
			return strings.TrimSpace(strings.TrimPrefix(prevLine, "//"))
		}
	case "python":
		return "" // docstrings live inside the body, not before it
	}

	return ""
}

// extractSignature extracts the declaration line(s) of a symbol, helping
// embedding models see a symbol's interface without reading its body.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, chunkType ChunkType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}

	switch chunkType {
	case ChunkTypeFunction, ChunkTypeMethod:
		return e.extractFunctionSignature(content, language)
	case ChunkTypeClass, ChunkTypeStruct, ChunkTypeEnum, ChunkTypeTrait, ChunkTypeInterface:
		return e.extractTypeSignature(content, language)
	}

	return ""
}

func (e *SymbolExtractor) extractFunctionSignature(content, language string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	switch language {
	case "go":
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	case "python":
		return firstLine
	case "typescript", "tsx", "javascript", "jsx":
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	}
	return firstLine
}

func (e *SymbolExtractor) extractTypeSignature(content, language string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	switch language {
	case "go":
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	case "python":
		return firstLine
	case "typescript", "tsx", "javascript", "jsx":
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
		return firstLine
	}
	return firstLine
}
