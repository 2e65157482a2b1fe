// Package diff - field-level record difference computation
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alwitt/stockpile/models"
)

// fields maintained by the store, never diffed or merged from callers
var bookkeepingFields = map[string]bool{
	"id":        true,
	"createdAt": true,
	"updatedAt": true,
}

// IsBookkeepingField whether the field is maintained by the store itself
func IsBookkeepingField(field string) bool {
	return bookkeepingFields[field]
}

// fieldsOf encode a record as a JSON object keyed by field name
func fieldsOf(record models.Record) (map[string]json.RawMessage, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record [%w]", record.Collection(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("failed to split %s record into fields [%w]", record.Collection(), err)
	}
	return fields, nil
}

/*
Compute compute the field-level changes between two versions of a record.

Values are compared by their JSON encoding, so a nil optional price and a price of zero
are different values. Bookkeeping fields are ignored. Neither input is modified.

	@param oldRecord models.Record - the committed version
	@param newRecord models.Record - the proposed version
	@returns the changes ordered by field name
*/
func Compute(oldRecord, newRecord models.Record) ([]models.FieldChange, error) {
	if oldRecord.Collection() != newRecord.Collection() {
		return nil, fmt.Errorf(
			"can't diff a %s record against a %s record",
			oldRecord.Collection(),
			newRecord.Collection(),
		)
	}

	oldFields, err := fieldsOf(oldRecord)
	if err != nil {
		return nil, err
	}
	newFields, err := fieldsOf(newRecord)
	if err != nil {
		return nil, err
	}

	names := map[string]bool{}
	for name := range oldFields {
		names[name] = true
	}
	for name := range newFields {
		names[name] = true
	}

	changes := []models.FieldChange{}
	for name := range names {
		if IsBookkeepingField(name) {
			continue
		}
		oldValue, newValue := oldFields[name], newFields[name]
		if bytes.Equal(oldValue, newValue) {
			continue
		}
		changes = append(changes, models.FieldChange{
			Field:    name,
			OldValue: cloneRaw(oldValue),
			NewValue: cloneRaw(newValue),
		})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

func cloneRaw(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	return append(json.RawMessage{}, value...)
}

/*
Merge overlay a partial JSON object onto a record, producing a new record.

Bookkeeping fields in the partial object are ignored, unknown fields are rejected. The
base record is not modified.

	@param base models.Record - the committed version
	@param partial json.RawMessage - JSON object holding the fields to change
	@returns the merged record
*/
func Merge(base models.Record, partial json.RawMessage) (models.Record, error) {
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(partial, &patch); err != nil {
		return nil, fmt.Errorf(
			"partial %s record is not a JSON object [%w: %s]", base.Collection(), models.ErrValidationFailed, err,
		)
	}

	merged, err := fieldsOf(base)
	if err != nil {
		return nil, err
	}
	for name, value := range patch {
		if IsBookkeepingField(name) {
			continue
		}
		if _, known := merged[name]; !known {
			return nil, fmt.Errorf(
				"%s records have no field '%s' [%w]", base.Collection(), name, models.ErrValidationFailed,
			)
		}
		merged[name] = value
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged %s record [%w]", base.Collection(), err)
	}

	result, err := models.NewRecord(base.Collection())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(encoded, result); err != nil {
		return nil, fmt.Errorf(
			"merged %s record is malformed [%w: %s]", base.Collection(), models.ErrValidationFailed, err,
		)
	}
	return result, nil
}

/*
Apply replay a set of field changes on top of a record

	@param base models.Record - the record to start from
	@param changes []models.FieldChange - the changes to apply
	@returns the resulting record
*/
func Apply(base models.Record, changes []models.FieldChange) (models.Record, error) {
	patch := map[string]json.RawMessage{}
	for _, change := range changes {
		value := change.NewValue
		if value == nil {
			value = json.RawMessage("null")
		}
		patch[change.Field] = value
	}
	encoded, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change set [%w]", err)
	}
	return Merge(base, encoded)
}
