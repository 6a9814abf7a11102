// Package meta reads and writes the small key=value records that make up the
// writer lock's on-disk state, and provides the rename-based primitives that
// create and remove those records in a single filesystem step.
package meta

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrCorrupt is returned when a record cannot be parsed or lacks a required field.
var ErrCorrupt = errors.New("corrupt record")

// Field is a single key=value line of a record.
type Field struct {
	Key   string
	Value string
}

// String returns a Field holding a string value.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int returns a Field holding a decimal integer value.
func Int(key string, value int64) Field {
	return Field{Key: key, Value: strconv.FormatInt(value, 10)}
}

// Time returns a Field holding an RFC 3339 UTC timestamp.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339Nano)}
}

// Encode serializes fields as newline-terminated key=value lines, in order.
func Encode(fields ...Field) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString(f.Key)
		buf.WriteByte('=')
		buf.WriteString(f.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Values is a decoded record. Unknown keys are kept but ignored by callers.
type Values map[string]string

// Decode parses key=value lines. Blank lines are skipped; any other line
// without '=' makes the whole record corrupt.
func Decode(data []byte) (Values, error) {
	values := make(Values)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: malformed line %q", ErrCorrupt, line)
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return values, nil
}

// String returns the value for key, or ErrCorrupt if it is missing or empty.
func (v Values) String(key string) (string, error) {
	s, ok := v[key]
	if !ok || s == "" {
		return "", fmt.Errorf("%w: missing %q", ErrCorrupt, key)
	}
	return s, nil
}

// Int returns the value for key parsed as a decimal integer.
func (v Values) Int(key string) (int64, error) {
	s, err := v.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrCorrupt, key, s)
	}
	return n, nil
}

// Time returns the value for key parsed as an RFC 3339 timestamp. A bare
// integer is accepted as seconds since the epoch.
func (v Values) Time(key string) (time.Time, error) {
	s, err := v.String(key)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s=%q is not a timestamp", ErrCorrupt, key, s)
}
