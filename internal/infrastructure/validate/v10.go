package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// PlaygroundV10 Validator implementation using go-playground
type PlaygroundV10 struct {
	core  *validator.Validate
	trans ut.Translator
}

var _ Validator = &PlaygroundV10{}

// NewValidator create a new Validator whose messages are in locale,
// unknown locales fall back to en
func NewValidator(locale string) *PlaygroundV10 {
	uni := ut.New(en.New(), en.New(), zh.New())
	validate := validator.New()

	var trans ut.Translator
	switch strings.ToLower(locale) {
	case "zh":
		trans, _ = uni.GetTranslator("zh")
		zh_translations.RegisterDefaultTranslations(validate, trans)
	default:
		trans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(validate, trans)
	}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return ""
	})
	return &PlaygroundV10{
		core:  validate,
		trans: trans,
	}
}

// Struct validate struct
func (v PlaygroundV10) Struct(s interface{}) []*FieldError {
	if err := v.core.Struct(s); err != nil {
		return v.fieldErrors(err, "")
	}
	return nil
}

// Var validate a single value against tag, errors are reported under name
func (v PlaygroundV10) Var(name string, value interface{}, tag string) []*FieldError {
	if err := v.core.Var(value, tag); err != nil {
		return v.fieldErrors(err, name)
	}
	return nil
}

// Empty check if value is empty
func (v PlaygroundV10) Empty(varName string, s interface{}) []*FieldError {
	if err := v.core.Var(s, "required"); err != nil {
		return []*FieldError{NewFieldError(varName, fmt.Sprintf("%s is required", varName))}
	}
	return nil
}

func (v PlaygroundV10) fieldErrors(err error, name string) []*FieldError {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		panic(fmt.Errorf("validate: %w", err))
	}
	result := make([]*FieldError, 0, len(errs))
	for _, item := range errs {
		domain := item.Field()
		reason := item.Translate(v.trans)
		if name != "" {
			domain = name
			reason = name + reason
		}
		result = append(result, NewFieldError(domain, reason))
	}
	return result
}
