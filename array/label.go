package array

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Kind identifies the value type stored in a Label.
type Kind uint8

const (
	// KindInt is a signed integer label.
	KindInt Kind = iota
	// KindString is a string label.
	KindString
	// KindTime is a timestamp label stored with nanosecond precision in UTC.
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Label is a single coordinate value along a dimension.
//
// Labels are comparable and can be used as map keys. Labels of different
// kinds never compare equal; ordering sorts by kind first.
type Label struct {
	kind Kind
	num  int64
	str  string
}

// Int returns an integer label.
func Int(v int64) Label { return Label{kind: KindInt, num: v} }

// String returns a string label.
func String(s string) Label { return Label{kind: KindString, str: s} }

// Time returns a timestamp label.
func Time(t time.Time) Label { return Label{kind: KindTime, num: t.UTC().UnixNano()} }

// Kind returns the label kind.
func (l Label) Kind() Kind { return l.kind }

// Int returns the integer value. It is zero for non-integer labels.
func (l Label) Int() int64 {
	if l.kind != KindInt {
		return 0
	}

	return l.num
}

// Str returns the string value. It is empty for non-string labels.
func (l Label) Str() string { return l.str }

// Time returns the timestamp value. It is the zero time for non-time labels.
func (l Label) Time() time.Time {
	if l.kind != KindTime {
		return time.Time{}
	}

	return time.Unix(0, l.num).UTC()
}

// Compare returns -1, 0 or +1 depending on whether l sorts before, equal to
// or after o.
func (l Label) Compare(o Label) int {
	if l.kind != o.kind {
		return cmp.Compare(l.kind, o.kind)
	}

	if l.kind == KindString {
		return cmp.Compare(l.str, o.str)
	}

	return cmp.Compare(l.num, o.num)
}

// Less reports whether l sorts before o.
func (l Label) Less(o Label) bool { return l.Compare(o) < 0 }

func (l Label) String() string {
	switch l.kind {
	case KindInt:
		return strconv.FormatInt(l.num, 10)
	case KindTime:
		return l.Time().Format(time.RFC3339Nano)
	default:
		return l.str
	}
}

type timeLabel struct {
	Time time.Time `json:"time"`
}

// MarshalJSON encodes integers as numbers, strings as strings and timestamps
// as {"time": "<RFC3339>"}.
func (l Label) MarshalJSON() ([]byte, error) {
	switch l.kind {
	case KindInt:
		return strconv.AppendInt(nil, l.num, 10), nil
	case KindTime:
		return json.Marshal(timeLabel{Time: l.Time()})
	default:
		return json.Marshal(l.str)
	}
}

// UnmarshalJSON decodes a label written by MarshalJSON.
func (l *Label) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("array: empty label")
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*l = String(s)
	case '{':
		var t timeLabel
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}

		*l = Time(t.Time)
	default:
		v, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("array: invalid label %s: %w", b, err)
		}

		*l = Int(v)
	}

	return nil
}
