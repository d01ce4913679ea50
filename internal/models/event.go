// Package models defines the core domain entities for clickjudge.
// These models represent raw impression events, the result-page contexts they
// were observed in, and the judgments derived from them.
// All models include built-in validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Event: one impression of a document for a query, clicked or not.
//   - Context: a (position, result-set size bucket) slot with its own baseline click propensity.
//   - Pair: a (query, document) combination. This is the unit we judge.
package models

import (
	"errors"
	"fmt"
	"strconv"
)

// DefaultResultSetSizeCap is the largest result-set size with its own context bucket.
// Larger result sets share the bucket DefaultResultSetSizeCap+1.
const DefaultResultSetSizeCap = 400

// RawEvent is a single observed impression of a document for a query.
type RawEvent struct {
	QueryID       string `json:"query_id"`
	DocumentID    string `json:"doc_id"`
	Position      int    `json:"position"`
	ResultSetSize int    `json:"num_results"`
	Clicked       bool   `json:"clicked"`
}

// Validate checks that all event fields are valid
func (e *RawEvent) Validate() error {
	if e.QueryID == "" {
		return errors.New("query ID must not be empty")
	}
	if e.DocumentID == "" {
		return errors.New("document ID must not be empty")
	}
	if e.Position < 0 {
		return errors.New("position must not be negative")
	}
	if e.ResultSetSize < 1 {
		return errors.New("result set size must be positive")
	}
	return nil
}

// Pair returns the (query, document) key of the event.
func (e *RawEvent) Pair() PairKey {
	return PairKey{Query: e.QueryID, Document: e.DocumentID}
}

// Context returns the context the event was shown in, bucketing result-set
// sizes above sizeCap into sizeCap+1.
func (e *RawEvent) Context(sizeCap int) ContextKey {
	return NewContextKey(e.Position, e.ResultSetSize, sizeCap)
}

// ContextKey identifies a result-page slot: the position a document was shown
// at and the bucketed size of the result set it was part of.
type ContextKey struct {
	Position   int `json:"position"`
	SizeBucket int `json:"size_bucket"`
}

// NewContextKey builds a context key. When sizeCap is not positive the
// DefaultResultSetSizeCap is used.
func NewContextKey(position, resultSetSize, sizeCap int) ContextKey {
	if sizeCap <= 0 {
		sizeCap = DefaultResultSetSizeCap
	}
	bucket := resultSetSize
	if resultSetSize > sizeCap {
		bucket = sizeCap + 1
	}
	return ContextKey{Position: position, SizeBucket: bucket}
}

// String renders the key as "<position>_<bucket>", e.g. "3_401".
func (k ContextKey) String() string {
	return strconv.Itoa(k.Position) + "_" + strconv.Itoa(k.SizeBucket)
}

// PairKey identifies a (query, document) pair.
type PairKey struct {
	Query    string `json:"query"`
	Document string `json:"product"`
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s/%s", k.Query, k.Document)
}
