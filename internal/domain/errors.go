package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds matched with errors.Is against the typed errors below.
var (
	ErrData        = errors.New("data error")
	ErrModel       = errors.New("model error")
	ErrAttribution = errors.New("attribution error")
)

// DataError reports a missing or malformed input column.
type DataError struct {
	Op     string
	Column string
	Row    int // 1-based data row; 0 when not row specific
	Msg    string
	Err    error
}

func (e *DataError) Error() string {
	loc := ""
	switch {
	case e.Column != "" && e.Row > 0:
		loc = fmt.Sprintf(" (row %d, column %s)", e.Row, e.Column)
	case e.Column != "":
		loc = fmt.Sprintf(" (column %s)", e.Column)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Op, e.Msg, loc, e.Err)
	}
	return fmt.Sprintf("%s: %s%s", e.Op, e.Msg, loc)
}

func (e *DataError) Unwrap() error { return e.Err }

func (e *DataError) Is(target error) bool { return target == ErrData }

// ModelError reports a violated scoring precondition.
type ModelError struct {
	Op  string
	Msg string
	Err error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ModelError) Unwrap() error { return e.Err }

func (e *ModelError) Is(target error) bool { return target == ErrModel }

// AttributionError reports an attribution request that cannot be served,
// such as an empty flagged set.
type AttributionError struct {
	Op  string
	Msg string
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *AttributionError) Is(target error) bool { return target == ErrAttribution }

// ErrorKind names the taxonomy bucket of err, or "" for anything else.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrModel):
		return "model"
	case errors.Is(err, ErrAttribution):
		return "attribution"
	default:
		return ""
	}
}
