// Package validate holds the process-wide validator with english translations.
// Both the manifest parser and the control API bind through it so field errors
// read the same everywhere
package validate

import (
	"reflect"
	"strings"
	"sync"

	perr "snapvault/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Svc holds a singleton validator and translator
type Svc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *Svc
)

// Init initializes the singleton validator with english translations and json tag names
func Init() *Svc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer json tag names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &Svc{Validator: v, Translator: trans}
	})
	return vSvc
}

// Get returns the validator singleton, initializing on first use
func Get() *Svc {
	if vSvc == nil {
		return Init()
	}
	return vSvc
}

// Struct validates v and folds field errors into a single Validation *Error.
// The first offending field is attached via WithField; all messages are joined
func Struct(v any) error {
	s := Get()
	err := s.Validator.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return perr.Wrap(err, perr.ErrorCodeValidation, "validation failed")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(s.Translator))
	}
	out := perr.New(perr.ErrorCodeValidation, strings.Join(msgs, "; "))
	if len(verrs) > 0 {
		out = perr.WithField(out, verrs[0].Field())
	}
	return out
}
