package profiler

import (
	"fmt"
	"strings"
	"unicode"
)

// parseParamLiterals decodes the Python-literal-like parameter encoding
// found in query log lines: a tuple or list of scalars, e.g.
//
//	(42, 'alice', None, True)
//
// Only scalar elements are supported; anything else is an error so the
// caller can fall back to storing the raw text. Each element is rendered
// as a string.
func parseParamLiterals(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return nil, nil
	}

	open := s[0]
	var closing byte
	switch open {
	case '(':
		closing = ')'
	case '[':
		closing = ']'
	default:
		return nil, fmt.Errorf("unsupported params encoding")
	}
	if s[len(s)-1] != closing {
		return nil, fmt.Errorf("unterminated params sequence")
	}

	p := &literalParser{input: s[1 : len(s)-1]}
	return p.parse()
}

type literalParser struct {
	input string
	pos   int
}

func (p *literalParser) parse() ([]string, error) {
	var values []string
	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			return values, nil
		}

		value, err := p.scalar()
		if err != nil {
			return nil, err
		}
		values = append(values, value)

		p.skipSpaces()
		if p.pos >= len(p.input) {
			return values, nil
		}
		if p.input[p.pos] != ',' {
			return nil, fmt.Errorf("unexpected character %q at %d", p.input[p.pos], p.pos)
		}
		p.pos++
	}
}

func (p *literalParser) scalar() (string, error) {
	c := p.input[p.pos]
	switch {
	case c == '\'' || c == '"':
		return p.quoted(c)
	case c == 'u' || c == 'b':
		// Python string prefixes: u'...' / b'...'.
		if p.pos+1 < len(p.input) && (p.input[p.pos+1] == '\'' || p.input[p.pos+1] == '"') {
			p.pos++
			return p.quoted(p.input[p.pos])
		}
		return p.word()
	case c == '-' || c == '+' || unicode.IsDigit(rune(c)):
		return p.number()
	case unicode.IsLetter(rune(c)):
		return p.word()
	default:
		return "", fmt.Errorf("unexpected character %q at %d", c, p.pos)
	}
}

func (p *literalParser) quoted(quote byte) (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", fmt.Errorf("dangling escape")
			}
			p.pos++
			b.WriteByte(p.input[p.pos])
			p.pos++
		case quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *literalParser) number() (string, error) {
	start := p.pos
	if c := p.input[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	digits := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsDigit(rune(c)) {
			digits = true
			p.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	if !digits {
		return "", fmt.Errorf("malformed number at %d", start)
	}
	return p.input[start:p.pos], nil
}

// word handles the bare literals None, True, False and NULL.
func (p *literalParser) word() (string, error) {
	start := p.pos
	for p.pos < len(p.input) && unicode.IsLetter(rune(p.input[p.pos])) {
		p.pos++
	}
	switch w := p.input[start:p.pos]; w {
	case "None", "NULL":
		return "", nil
	case "True":
		return "true", nil
	case "False":
		return "false", nil
	default:
		return "", fmt.Errorf("unsupported literal %q", w)
	}
}

func (p *literalParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
