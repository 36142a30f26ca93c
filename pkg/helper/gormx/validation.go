package gormx

import (
	"reflect"

	"gorm.io/gorm"

	"capki/pkg/helper"
)

const validateCallback = "capki:validate"

// validatePlugin run struct validation of the model before create and update
type validatePlugin struct{}

func NewValidationPlugin() gorm.Plugin { return validatePlugin{} }

func (validatePlugin) Name() string { return "capki:validation" }

func (p validatePlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if cb.Create().Get(validateCallback) == nil {
		if err := cb.Create().Before("gorm:before_create").Register(validateCallback, p.validate); err != nil {
			return err
		}
	}

	if cb.Update().Get(validateCallback) == nil {
		if err := cb.Update().Before("gorm:before_update").Register(validateCallback, p.validate); err != nil {
			return err
		}
	}

	return nil
}

// validate update by map or column skips struct validation
func (validatePlugin) validate(db *gorm.DB) {
	model := db.Statement.Dest
	if model == nil {
		model = db.Statement.Model
	}
	if model == nil {
		return
	}

	v := reflect.Indirect(reflect.ValueOf(model))
	switch v.Kind() {
	case reflect.Struct:
		if err := helper.ValidateStruct(v.Interface()); err != nil {
			db.AddError(err)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			elem := reflect.Indirect(v.Index(i))
			if elem.Kind() != reflect.Struct {
				continue
			}
			if err := helper.ValidateStruct(elem.Interface()); err != nil {
				db.AddError(err)
				return
			}
		}
	}
}
