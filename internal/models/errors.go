package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FetchError means the archive could not be downloaded. It aborts the run.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch archive %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ManifestMismatchError means the archive lacks one or more manifest files.
type ManifestMismatchError struct {
	Missing []string
}

func (e *ManifestMismatchError) Error() string {
	return fmt.Sprintf("archive is missing manifest files: %s", strings.Join(e.Missing, ", "))
}

// DecodeError names the column that could not be decoded.
type DecodeError struct {
	Shape    Shape
	Line     int
	Position int
	Field    string
	Raw      string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s line %d: column %d (%s) value %q", e.Shape, e.Line, e.Position, e.Field, e.Raw)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

type UnknownStatusError struct {
	Token string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown status token %q", e.Token)
}

// UnresolvedParentError is reported for a child whose parent is still missing after the retry.
type UnresolvedParentError struct {
	Shape          Shape
	Code           int64
	ParentCode     int64
	ParentTypeCode int
}

func (e *UnresolvedParentError) Error() string {
	return fmt.Sprintf("%s %d: parent %d (type %d) not found", e.Shape, e.Code, e.ParentCode, e.ParentTypeCode)
}

// RejectedStatusError marks a record the register itself flags as erroneous.
type RejectedStatusError struct {
	Token string
}

func (e *RejectedStatusError) Error() string {
	return fmt.Sprintf("record rejected with status %q", e.Token)
}

// RecordError is a record-level failure. It never aborts a run.
type RecordError struct {
	Shape   Shape
	Line    int
	Code    int64
	Message string
	Err     error
	Record  *Record
}

func (e *RecordError) Error() string {
	var recordDetails string
	if e.Record != nil {
		recordJSON, err := json.Marshal(e.Record)
		if err != nil {
			recordDetails = "failed to marshal record to JSON"
		} else {
			recordDetails = string(recordJSON)
		}
	}

	msg := fmt.Sprintf("%s line %d: %s", e.Shape, e.Line, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s - %v", msg, e.Err)
	}
	if recordDetails != "" {
		msg = fmt.Sprintf("%s - Record: %s", msg, recordDetails)
	}
	return msg
}

func (e *RecordError) Unwrap() error { return e.Err }

// Reason classifies the failure for metrics and the rejection log.
func (e *RecordError) Reason() string {
	var (
		decodeErr   *DecodeError
		statusErr   *UnknownStatusError
		parentErr   *UnresolvedParentError
		rejectedErr *RejectedStatusError
	)
	switch {
	case errors.As(e.Err, &decodeErr):
		return "decode"
	case errors.As(e.Err, &statusErr):
		return "unknown_status"
	case errors.As(e.Err, &parentErr):
		return "unresolved_parent"
	case errors.As(e.Err, &rejectedErr):
		return "rejected_status"
	default:
		return "store"
	}
}
