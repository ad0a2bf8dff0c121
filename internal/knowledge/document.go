// internal/knowledge/document.go
package knowledge

// LocatorHint is one ordered step recovered from a knowledge document. The
// matcher triple (Field, Op, Value) narrows the target element; Description is
// the human phrasing handed to the planner when the matcher alone is not
// enough to pick a point on screen.
type LocatorHint struct {
	Description string `json:"description" yaml:"description"`
	Field       string `json:"field,omitempty" yaml:"field,omitempty"`
	Op          string `json:"op,omitempty" yaml:"op,omitempty"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`

	// Expect optionally declares a post-action matcher. When present the
	// step is verified deterministically against the captured tree instead
	// of through an LLM judgment.
	Expect *Matcher `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// Matcher is one element predicate over the captured UI tree.
type Matcher struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value string `json:"value" yaml:"value"`
}

// Matcher fields.
const (
	FieldText       = "text"
	FieldLabel      = "label"
	FieldResourceID = "resource_id"
)

// Matcher operators.
const (
	OpEquals   = "equals"
	OpContains = "contains"
)

// KnowledgeDocument is one operational fact about an application: which
// package it lives in and, in order, how to perform the described operation.
// Documents are written by the import path and read-only afterwards.
type KnowledgeDocument struct {
	ID          string        `json:"id" yaml:"id"`
	AppName     string        `json:"app_name" yaml:"app_name"`
	Package     string        `json:"package" yaml:"package"`
	Description string        `json:"description" yaml:"description"`
	Hints       []LocatorHint `json:"hints,omitempty" yaml:"hints,omitempty"`
	Embedding   []float32     `json:"-" yaml:"-"`
}

// Match pairs a retrieved document with its cosine similarity to the query.
type Match struct {
	Document   KnowledgeDocument
	Similarity float32
}
