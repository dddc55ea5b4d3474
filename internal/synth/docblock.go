// ABOUTME: Structured doc-comment extraction for function declarations.
// ABOUTME: Parses /** */ blocks for @description, @param, @callable, @internal tags.

package synth

import "strings"

// docBlock holds the parsed contents of a /** */ block.
type docBlock struct {
	description string
	params      map[string]docParam // by parameter name
	callable    bool                // @callable or @tool present
	internal    bool                // @internal present
}

// docParam is a single @param {type} name description tag.
type docParam struct {
	typ         string
	description string
}

// docBlockBefore locates the /** */ block immediately preceding the byte
// offset of a declaration and returns its parsed form plus its start offset,
// or (nil, 0) when absent. Only whitespace and an optional "async" keyword
// may sit between the block and the declaration.
func docBlockBefore(source string, offset int) (*docBlock, int) {
	if offset > len(source) {
		offset = len(source)
	}
	head := strings.TrimRight(source[:offset], " \t\r\n")
	head = strings.TrimSuffix(head, "async")
	head = strings.TrimRight(head, " \t\r\n")
	if !strings.HasSuffix(head, "*/") {
		return nil, 0
	}
	start := strings.LastIndex(head, "/**")
	if start < 0 {
		return nil, 0
	}
	return parseDocBlock(head[start:]), start
}

// parseDocBlock parses the raw /** */ text into tags.
func parseDocBlock(raw string) *docBlock {
	raw = strings.TrimPrefix(raw, "/**")
	raw = strings.TrimSuffix(raw, "*/")

	block := &docBlock{params: make(map[string]docParam)}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "@description"):
			block.description = strings.TrimSpace(strings.TrimPrefix(line, "@description"))
		case strings.HasPrefix(line, "@param"):
			name, p, ok := parseParamTag(strings.TrimSpace(strings.TrimPrefix(line, "@param")))
			if ok {
				block.params[name] = p
			}
		case line == "@callable", line == "@tool":
			block.callable = true
		case line == "@internal":
			block.internal = true
		}
	}
	return block
}

// parseParamTag parses "{type} name description" or "name description".
// The braces and the type are optional; an unrecognized type maps to string.
func parseParamTag(rest string) (string, docParam, bool) {
	var p docParam
	if strings.HasPrefix(rest, "{") {
		end := strings.Index(rest, "}")
		if end < 0 {
			return "", p, false
		}
		p.typ = NormalizeType(strings.ToLower(strings.TrimSpace(rest[1:end])))
		rest = strings.TrimSpace(rest[end+1:])
	}
	if rest == "" {
		return "", p, false
	}
	fields := strings.SplitN(rest, " ", 2)
	name := fields[0]
	if len(fields) == 2 {
		p.description = strings.TrimSpace(fields[1])
	}
	return name, p, true
}
