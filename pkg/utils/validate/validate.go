package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	pkgerrors "ojcore/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	setupOnce sync.Once
	trans     ut.Translator
)

// Setup registers English translations and json field names on gin's validator.
// Safe to call more than once.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)
	})
}

// TranslateErrors maps a binding error to field -> message.
// Errors that are not validation errors land under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}
	fields["detail"] = err.Error()
	return fields
}

// BindJSON binds and validates the JSON body into dst.
func BindJSON(c *gin.Context, dst interface{}) error {
	return wrap(c.ShouldBindJSON(dst))
}

// BindQuery binds and validates query parameters into dst.
func BindQuery(c *gin.Context, dst interface{}) error {
	return wrap(c.ShouldBindQuery(dst))
}

// BindURI binds and validates path parameters into dst.
func BindURI(c *gin.Context, dst interface{}) error {
	return wrap(c.ShouldBindUri(dst))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	out := pkgerrors.New(pkgerrors.ValidationFailed)
	for field, msg := range TranslateErrors(err) {
		out.WithDetail(field, msg)
	}
	return out
}
