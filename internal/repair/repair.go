// Package repair extracts a JSON object from model output and repairs the
// damage typically caused by truncation.
package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// ErrNoJSON is returned when the text contains no opening brace.
	ErrNoJSON = errors.New("no JSON object found")
	// ErrUnrepairable is returned when every repair attempt fails.
	ErrUnrepairable = errors.New("JSON repair failed")
)

// Option configures a Parser.
type Option func(*Parser)

// WithLenientFallback enables a final attempt through a general-purpose
// JSON repair library after the structural repairs fail.
func WithLenientFallback() Option {
	return func(p *Parser) { p.lenient = true }
}

// Parser repairs model output. The zero value is ready to use.
type Parser struct {
	lenient bool
}

// New returns a Parser with opts applied.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Lenient reports whether the lenient fallback is enabled.
func (p *Parser) Lenient() bool { return p != nil && p.lenient }

var defaultParser = &Parser{}

// Parse extracts and repairs the first JSON object in text with default options.
func Parse(text string) (json.RawMessage, error) { return defaultParser.Parse(text) }

// Decode parses text and unmarshals the result into v with default options.
func Decode(text string, v any) error { return defaultParser.Decode(text, v) }

// Decode parses text and unmarshals the result into v.
func (p *Parser) Decode(text string, v any) error {
	raw, err := p.Parse(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode repaired JSON: %w", err)
	}
	return nil
}

// Parse extracts the greedy outer object of text and returns it as valid JSON.
//
// Repairs run in a fixed order: strip a trailing incomplete string and dangling
// separators, close unresolved brackets and braces in reverse nesting order,
// then drop trailing commas before closers. Parse is pure and never panics.
func (p *Parser) Parse(text string) (json.RawMessage, error) {
	candidate, ok := extract(text)
	if !ok {
		return nil, ErrNoJSON
	}
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	repaired := closeOpen(trimIncomplete(candidate))
	lastErr := validate(repaired)
	if lastErr == nil {
		return json.RawMessage(repaired), nil
	}

	repaired = stripTrailingCommas(repaired)
	if lastErr = validate(repaired); lastErr == nil {
		return json.RawMessage(repaired), nil
	}

	if p.Lenient() {
		fixed, err := jsonrepair.JSONRepair(candidate)
		if err == nil {
			if err = validate(fixed); err == nil {
				return json.RawMessage(fixed), nil
			}
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrUnrepairable, lastErr)
}

func validate(s string) error {
	var v any
	return json.Unmarshal([]byte(s), &v)
}

// extract returns the text from the first '{' to the last '}' after it, or the
// whole suffix from the first '{' when no closing brace follows.
func extract(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text[start:], true
	}
	return text[start : end+1], true
}

type scanState int

const (
	stateNormal scanState = iota
	stateInString
	stateEscaped
)

// scanResult is the scanner state after consuming a whole input.
type scanResult struct {
	state scanState
	// stack holds unresolved openers, innermost last.
	stack []byte
	// braces and brackets count unresolved openers of each kind.
	braces, brackets int
	// strStart is the offset of the opening quote of the last string seen.
	strStart int
	// keyPosition reports whether the last string started where an object key is expected.
	keyPosition bool
}

func scan(s string) scanResult {
	r := scanResult{strStart: -1}
	prev := byte(0) // last significant byte outside strings
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch r.state {
		case stateEscaped:
			r.state = stateInString
		case stateInString:
			switch c {
			case '\\':
				r.state = stateEscaped
			case '"':
				r.state = stateNormal
				prev = '"'
			}
		case stateNormal:
			switch c {
			case '"':
				r.state = stateInString
				r.strStart = i
				top := byte(0)
				if n := len(r.stack); n > 0 {
					top = r.stack[n-1]
				}
				r.keyPosition = top == '{' && (prev == '{' || prev == ',')
			case '{':
				r.stack = append(r.stack, '{')
				r.braces++
			case '[':
				r.stack = append(r.stack, '[')
				r.brackets++
			case '}':
				if n := len(r.stack); n > 0 && r.stack[n-1] == '{' {
					r.stack = r.stack[:n-1]
					r.braces--
				}
			case ']':
				if n := len(r.stack); n > 0 && r.stack[n-1] == '[' {
					r.stack = r.stack[:n-1]
					r.brackets--
				}
			}
			if c != '"' && !isSpace(c) {
				prev = c
			}
		}
	}
	return r
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// trimIncomplete drops an unterminated trailing string and any separator or
// object key left dangling before the truncation point.
func trimIncomplete(s string) string {
	if r := scan(s); r.state != stateNormal && r.strStart >= 0 {
		s = s[:r.strStart]
	}
	for {
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		switch {
		case strings.HasSuffix(s, ","):
			s = s[:len(s)-1]
		case strings.HasSuffix(s, ":"):
			s = strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace)
			if r := scan(s); strings.HasSuffix(s, `"`) && r.strStart >= 0 {
				s = s[:r.strStart]
			}
		case strings.HasSuffix(s, `"`):
			// a complete key with no value yet
			r := scan(s)
			if !r.keyPosition || r.strStart < 0 {
				return s
			}
			s = s[:r.strStart]
		default:
			return s
		}
	}
}

// closeOpen appends the closers for every unresolved opener.
func closeOpen(s string) string {
	r := scan(s)
	if len(r.stack) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + len(r.stack))
	b.WriteString(s)
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// stripTrailingCommas removes commas that directly precede a closer, ignoring
// anything inside string literals.
func stripTrailingCommas(s string) string {
	out := make([]byte, 0, len(s))
	state := stateNormal
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case stateEscaped:
			state = stateInString
		case stateInString:
			switch c {
			case '\\':
				state = stateEscaped
			case '"':
				state = stateNormal
			}
		case stateNormal:
			switch c {
			case '"':
				state = stateInString
			case '}', ']':
				j := len(out)
				for j > 0 && isSpace(out[j-1]) {
					j--
				}
				if j > 0 && out[j-1] == ',' {
					out = append(out[:j-1], out[j:]...)
				}
			}
		}
		out = append(out, c)
	}
	return string(out)
}
