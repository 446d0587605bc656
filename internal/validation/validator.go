package validation

import (
	"strings"
	"unicode"

	"github.com/devrev/omnistore/internal/codec"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
)

const (
	// Size limits
	MaxKeySize    = 1024             // 1 KB
	MaxRecordSize = 10 * 1024 * 1024 // 10 MB serialized
	MaxFieldName  = 256
)

// Validator validates storage operations before they reach any backend.
// Validation failures are rejected operations: surfaced to the caller and
// never retried against another backend.
type Validator struct {
	maxKeySize    int
	maxRecordSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:    MaxKeySize,
		maxRecordSize: MaxRecordSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxRecordSize int) *Validator {
	return &Validator{
		maxKeySize:    maxKeySize,
		maxRecordSize: maxRecordSize,
	}
}

// ValidateKey validates a record key
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidKey(key, "key cannot be empty")
	}

	if len(key) > v.maxKeySize {
		return errors.KeyTooLarge(len(key), v.maxKeySize)
	}

	// Null bytes and control characters break backend naming grammars
	if strings.Contains(key, "\x00") {
		return errors.InvalidKey(key, "key cannot contain null bytes")
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.InvalidKey(key, "key cannot contain control characters")
		}
	}

	return nil
}

// ValidateRecord validates a record payload
func (v *Validator) ValidateRecord(rec model.Record) error {
	if rec == nil {
		return errors.InvalidArgument("record is required", nil)
	}

	for name := range rec {
		if name == "" {
			return errors.InvalidArgument("record field name cannot be empty", nil)
		}
		if len(name) > MaxFieldName {
			return errors.InvalidArgument("record field name exceeds maximum length", nil).
				WithDetail("field", name[:MaxFieldName]).
				WithDetail("max_length", MaxFieldName)
		}
	}

	data, err := codec.Encode(rec)
	if err != nil {
		return errors.InvalidArgument("record is not serializable", err)
	}
	if len(data) > v.maxRecordSize {
		return errors.RecordTooLarge(len(data), v.maxRecordSize)
	}

	return nil
}

// ValidateWrite validates a full write operation
func (v *Validator) ValidateWrite(key string, rec model.Record) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	return v.ValidateRecord(rec)
}

// ValidateEdge validates the three parts of a relationship edge
func (v *Validator) ValidateEdge(subject, predicate, object string) error {
	if err := v.ValidateKey(subject); err != nil {
		return err
	}
	if predicate == "" {
		return errors.InvalidArgument("edge predicate cannot be empty", nil)
	}
	if strings.ContainsAny(predicate, ":\x00") {
		return errors.InvalidArgument("edge predicate cannot contain ':' or null bytes", nil).
			WithDetail("predicate", predicate)
	}
	return v.ValidateKey(object)
}
