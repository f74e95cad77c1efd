package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	doc, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()

	var payload fileConfig
	if err := dec.Decode(&payload); err != nil {
		return Config{}, nil, locate(doc, err)
	}
	if err := expectEOF(dec); err != nil {
		return Config{}, nil, locate(doc, err)
	}
	return finish(payload, base)
}

// normalizeJSONC blanks out comments and trailing commas with spaces so the
// result is plain JSON with the same byte offsets and line breaks as the input.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	comma := -1

	for i := 0; i < len(out); i++ {
		switch c := out[i]; {
		case c == '"':
			end, ok := skipString(out, i)
			if !ok {
				return string(out), nil
			}
			comma = -1
			i = end
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if out[i] != '\n' && out[i] != '\r' && out[i] != '\t' {
					out[i] = ' '
				}
			}
			i--
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		case c == ',':
			comma = i
		case c == '}' || c == ']':
			if comma >= 0 {
				out[comma] = ' '
			}
			comma = -1
		default:
			comma = -1
		}
	}
	return string(out), nil
}

// skipString returns the index of the closing quote of the string opening at start.
func skipString(b []byte, start int) (int, bool) {
	for i := start + 1; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '"':
			return i, true
		}
	}
	return len(b), false
}

func expectEOF(dec *json.Decoder) error {
	var extra struct{}
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("multiple JSON values are not allowed")
	default:
		return err
	}
}

// locate prefixes decode errors with a 1-based line and column when the error carries an offset.
func locate(doc string, err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		offset    int64
	)
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(doc, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	n := min(int(max(offset, 1)), len(content)) - 1
	if n <= 0 {
		return 1, 1
	}
	prefix := content[:n]
	line := strings.Count(prefix, "\n") + 1
	col := n - (strings.LastIndexByte(prefix, '\n') + 1) + 1
	return line, col
}
