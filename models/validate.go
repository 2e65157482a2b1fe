package models

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"record_status", validateRecordStatusType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"record_collection", validateRecordCollection,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"audit_action", validateAuditActionType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"snapshot_name", validateSnapshotName,
	); err != nil {
		return err
	}

	return nil
}

func validateRecordStatusType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch RecordStatusENUMType(fl.Field().String()) {
	case RecordStatusInUse:
		fallthrough
	case RecordStatusInStock:
		fallthrough
	case RecordStatusRepair:
		fallthrough
	case RecordStatusWrittenOff:
		return true
	}
	return false
}

func validateRecordCollection(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return Collection(fl.Field().String()).IsRecordCollection()
}

func validateAuditActionType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch AuditActionENUMType(fl.Field().String()) {
	case AuditActionCreate:
		fallthrough
	case AuditActionUpdate:
		fallthrough
	case AuditActionDelete:
		return true
	}
	return false
}

// snapshot names double as export file names
var snapshotNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validateSnapshotName(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return snapshotNamePattern.MatchString(fl.Field().String())
}
