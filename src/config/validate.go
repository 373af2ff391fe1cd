package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"buildreport-agent/src/faults"
)

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

func validatorInstance() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// report yaml keys rather than Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)
		_ = v.RegisterValidation("baseurl", validBaseURL)
		_ = v.RegisterTranslation("baseurl", trans,
			func(ut ut.Translator) error {
				return ut.Add("baseurl", "{0} must start with http:// or https:// and must not end with /", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("baseurl", fe.Field())
				return msg
			},
		)

		vInst, vTrans = v, trans
	})
	return vInst, vTrans
}

// validBaseURL accepts http:// and https:// URLs without a trailing slash.
func validBaseURL(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.HasSuffix(s, "/") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Validate checks cfg and reports every failing field in one error wrapping
// faults.ErrInvalidConfig.
func Validate(cfg *Config) error {
	v, trans := validatorInstance()

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %v: %w", err, faults.ErrInvalidConfig)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := strings.TrimPrefix(fe.Namespace(), "Config.")
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, fe.Translate(trans)))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), faults.ErrInvalidConfig)
}
