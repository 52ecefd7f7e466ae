package settings

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Executor timeout bounds.
const (
	MinTimeout = 5 * time.Second
	MaxTimeout = 10 * time.Second
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("timeout", func(fl validator.FieldLevel) bool {
		d := time.Duration(fl.Field().Int())
		return d >= MinTimeout && d <= MaxTimeout
	})
	return v
}

// ValidationError is one invalid setting.
type ValidationError struct {
	Key     string // dotted TOML key, e.g. "executor.timeout"
	Message string
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid settings (%d):", len(ve))
	for _, e := range ve {
		fmt.Fprintf(&sb, "\n  %s: %s", e.Key, e.Message)
	}
	return sb.String()
}

// Validate checks every field constraint.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		out = append(out, ValidationError{Key: key, Message: message(fe)})
	}
	return out
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname":
		return "must be a valid hostname"
	case "hostname_port":
		return "must be in format 'host:port'"
	case "timeout":
		return fmt.Sprintf("must be between %s and %s", MinTimeout, MaxTimeout)
	}
	if strings.Contains(e.Tag(), "|") {
		return "must be a host or host:port"
	}
	return fmt.Sprintf("validation failed: %s", e.Tag())
}
