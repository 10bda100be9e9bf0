package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type enumValue interface {
	IsValid() bool
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in errors use json tags.
// Extra tags: "notblank" rejects whitespace-only strings, "trimmed_min" is min
// on the trimmed string and "enum" accepts only values whose IsValid is true.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			field := fl.Field()
			if field.Kind() == reflect.Pointer {
				if field.IsNil() {
					return true
				}
				field = field.Elem()
			}
			if field.Kind() != reflect.String {
				return true
			}
			return strings.TrimSpace(field.String()) != ""
		})
		_ = v.RegisterValidation("trimmed_min", func(fl validator.FieldLevel) bool {
			if fl.Field().Kind() != reflect.String {
				return true
			}
			n, err := strconv.Atoi(fl.Param())
			if err != nil {
				return false
			}
			return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= n
		})
		_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
			value, ok := fl.Field().Interface().(enumValue)
			return ok && value.IsValid()
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(Date); ok {
				return d.Time
			}
			return nil
		}, Date{})
		validate = v
	})
	return validate
}

// ValidateInput runs struct validation and reports the first failing rule as InvalidInput.
// Rules are checked in struct field order.
func ValidateInput(input any) error {
	err := Validator().Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return NewInvalidInput("input", err.Error())
	}
	ve := validationErrors[0]
	return NewInvalidInput(ve.Field(), describeRule(ve))
}

func describeRule(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required", "notblank":
		return "is required"
	case "min", "trimmed_min":
		if ve.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", ve.Param())
		}
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "max":
		if ve.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", ve.Param())
		}
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(ve.Param(), " ", ", ")
	case "uuid":
		return "must be a valid UUID"
	case "enum":
		return fmt.Sprintf("%q is not an accepted value", fmt.Sprint(ve.Value()))
	default:
		return "failed rule " + ve.Tag()
	}
}

// ValidateId rejects ids that are not well-formed UUIDs without touching storage.
func ValidateId(field string, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return NewInvalidInput(field, "must be a valid UUID")
	}
	return nil
}
