package dto

import (
	"html"
	"reflect"
	"strings"

	"custody-engine/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("account_id", validateAccountID)
	}
}

// validateAccountID accepts any identifier ParseAccountID accepts. The null account is
// syntactically valid; the engine decides where it is allowed.
func validateAccountID(fl validator.FieldLevel) bool {
	_, err := domain.ParseAccountID(fl.Field().String())
	return err == nil
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
