package jsonrepair

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// parseLiteral is a tolerant recursive-descent parser for JSON-shaped
// literals. Unlike the strict decoder it accepts single-quoted strings,
// unquoted object keys, and trailing commas.
func parseLiteral(s string) (any, error) {
	p := &literalParser{input: []rune(s)}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	return v, nil
}

type literalParser struct {
	input []rune
	pos   int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) peek() (rune, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *literalParser) value() (any, error) {
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '"' || c == '\'':
		return p.quoted(c)
	default:
		return p.bare()
	}
}

func (p *literalParser) object() (map[string]any, error) {
	p.pos++ // consume {
	obj := make(map[string]any)
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated object")
		}
		if c == '}' {
			p.pos++
			return obj, nil
		}
		key, err := p.key()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if c, ok := p.peek(); !ok || c != ':' {
			return nil, fmt.Errorf("expected ':' after key %q", key)
		}
		p.pos++
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = val
		p.skipSpace()
		if c, ok := p.peek(); ok && c == ',' {
			p.pos++ // trailing commas tolerated by the loop head
		}
	}
}

func (p *literalParser) array() ([]any, error) {
	p.pos++ // consume [
	arr := make([]any, 0)
	for {
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated array")
		}
		if c == ']' {
			p.pos++
			return arr, nil
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
		p.skipSpace()
		if c, ok := p.peek(); ok && c == ',' {
			p.pos++
		}
	}
}

func (p *literalParser) key() (string, error) {
	c, ok := p.peek()
	if !ok {
		return "", fmt.Errorf("unexpected end of input in key")
	}
	if c == '"' || c == '\'' {
		s, err := p.quoted(c)
		if err != nil {
			return "", err
		}
		return s, nil
	}
	start := p.pos
	for p.pos < len(p.input) {
		r := p.input[p.pos]
		if r == ':' || r == ',' || r == '}' || unicode.IsSpace(r) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty key at offset %d", start)
	}
	return string(p.input[start:p.pos]), nil
}

func (p *literalParser) quoted(quote rune) (string, error) {
	p.pos++ // consume opening quote
	var b strings.Builder
	for p.pos < len(p.input) {
		r := p.input[p.pos]
		switch r {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", fmt.Errorf("dangling escape")
			}
			p.pos++
			switch esc := p.input[p.pos]; esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case 'b':
				b.WriteRune('\b')
			case 'f':
				b.WriteRune('\f')
			default:
				b.WriteRune(esc)
			}
			p.pos++
		case quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteRune(r)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// bare parses an unquoted scalar: number, boolean, or null. Python-style
// literal spellings are accepted alongside the JSON ones.
func (p *literalParser) bare() (any, error) {
	start := p.pos
	for p.pos < len(p.input) {
		r := p.input[p.pos]
		if r == ',' || r == '}' || r == ']' || unicode.IsSpace(r) {
			break
		}
		p.pos++
	}
	word := string(p.input[start:p.pos])
	switch word {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "null", "None":
		return nil, nil
	}
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized literal %q", word)
}
