// Package envutil reads and writes the .env file that nutrisurvey setup
// produces and every command loads before reading its config.
package envutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadDotEnv exports every pair in path that is not already set in the
// process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	values, err := ReadDotEnv(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); !exists {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}

// ReadDotEnv parses path without touching the environment. Blank lines,
// comments and lines without '=' are skipped. Later keys win.
func ReadDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if ok {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseLine(raw string) (string, string, bool, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, nil
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false, nil
	}
	value, err := parseValue(strings.TrimSpace(value))
	if err != nil {
		return "", "", false, fmt.Errorf("%s: %w", key, err)
	}
	return key, value, true, nil
}

// parseValue unquotes "..." with Go escapes and '...' literally. Unquoted
// values end at a " #" comment.
func parseValue(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, `"`):
		end := closingDoubleQuote(value)
		if end < 0 {
			return "", errors.New("unterminated quoted value")
		}
		return strconv.Unquote(value[:end+1])
	case strings.HasPrefix(value, "'"):
		end := strings.IndexByte(value[1:], '\'')
		if end < 0 {
			return "", errors.New("unterminated quoted value")
		}
		return value[1 : end+1], nil
	}
	if i := strings.Index(value, " #"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value), nil
}

func closingDoubleQuote(value string) int {
	for i := 1; i < len(value); i++ {
		switch value[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// WriteDotEnv writes header as comment lines followed by values in key
// order. Values that would not read back verbatim are double quoted.
func WriteDotEnv(path, header string, values map[string]string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if header != "" {
		for _, line := range strings.Split(strings.TrimRight(header, "\n"), "\n") {
			b.WriteString("# ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(formatValue(values[k]))
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func formatValue(value string) string {
	if value == "" {
		return value
	}
	if value != strings.TrimSpace(value) || strings.ContainsAny(value, "#\"'\\\n\r\t") {
		return strconv.Quote(value)
	}
	return value
}
