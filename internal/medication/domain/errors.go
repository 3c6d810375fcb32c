package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not_found")
	ErrProtected = errors.New("protected")
)

// ExternalServiceError is an unrecoverable network or HTTP failure against
// the hierarchy source. It aborts the whole import.
type ExternalServiceError struct {
	Endpoint string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service failure against %s: %v", e.Endpoint, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// DataFormatError is an unexpected response or file shape. It aborts the
// whole import.
type DataFormatError struct {
	Source string
	Detail string
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("unexpected data format from %s: %s", e.Source, e.Detail)
}

// ValidationError is a row missing mandatory fields. The pricing importer
// skips the row; the hierarchy importer drops such rows before its
// transaction and fails the run if nothing usable remains.
type ValidationError struct {
	Row    int
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d invalid: field %q %s", e.Row, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed: field %q %s", e.Field, e.Detail)
}

// ConsistencyError means reconciliation found a BNF entry whose declared
// chemical substance has no ChemicalComposition row. It should not happen if
// the hierarchy importer ran first, but it is checked rather than assumed.
type ConsistencyError struct {
	BNFCode      string
	ChemicalName string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("bnf entry %s references chemical %q which does not exist", e.BNFCode, e.ChemicalName)
}
