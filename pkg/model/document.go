package model

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{1,64}$`)
)

const (
	// FieldID is the reserved identity field of every document.
	FieldID = "id"
	// FieldVersion is the reserved version counter, incremented on every update.
	FieldVersion = "version"
)

func CheckDocumentID(id string) bool {
	return idRegex.MatchString(id)
}

// User facing document type, represents a lean JSON object as returned by the store.
//
//	"id" field is reserved for document identity.
//	"version" field is reserved for the update counter.
type Document map[string]interface{}

func (doc Document) GetID() string {
	switch id := doc[FieldID].(type) {
	case string:
		return id
	case fmt.Stringer:
		return id.String()
	}
	return ""
}

func (doc Document) SetID(newID string) {
	doc[FieldID] = newID
}

func (doc Document) GenerateIDIfEmpty() {
	if doc.GetID() == "" {
		doc[FieldID] = uuid.New().String()
	}
}

func (doc Document) HasVersion() bool {
	_, exists := doc[FieldVersion]
	return exists
}

// GetVersion returns the version counter, accepting the numeric kinds produced by
// JSON decoding, BSON decoding and in-process writes.
func (doc Document) GetVersion() int64 {
	switch v := doc[FieldVersion].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return -1
}

func (doc Document) HasKey(key string) bool {
	_, exists := doc[key]
	return exists
}

// Clone returns a shallow copy.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// StripProtectedFields removes the fields a client must never write directly.
func (doc Document) StripProtectedFields() {
	delete(doc, FieldVersion)
}

func (doc Document) ValidateDocument() error {
	if doc == nil {
		return Validationf("data cannot be nil")
	}

	if idVal, ok := doc[FieldID]; ok {
		switch idValue := idVal.(type) {
		case string:
			if idValue == "" {
				return Validationf("data field 'id' cannot be empty")
			}

			if !idRegex.MatchString(idValue) {
				return Validationf("invalid 'id' field: must be 1-64 characters of a-z, A-Z, 0-9, _, ., -")
			}
		case int, int32, int64:
			doc[FieldID] = fmt.Sprintf("%d", idValue)
		default:
			return Validationf("data field 'id' must be a string or integer")
		}
	}

	return nil
}
