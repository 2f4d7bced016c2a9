package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vardalab/varda/pkg/varda"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report option names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate performs validation on the resolved values.
// It returns an ErrConfiguration error if any option is missing, out of range
// or inconsistent with another option. The run must not start with invalid configuration.
// COMPRESSION_METHOD is rewritten to its canonical form.
func Validate(values *Values) error {
	if err := validate.Struct(values); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", varda.ErrConfiguration, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("%w: %s", varda.ErrConfiguration, strings.Join(msgs, "; "))
	}

	method, err := varda.ParseCompressionMethod(values.CompressionMethod)
	if err != nil {
		return err
	}
	values.CompressionMethod = string(method)

	// reduced-space minimization is an autoencoder mode
	if values.ReducedSpace && values.CompressionMethod != string(varda.CompressionAE) {
		return fmt.Errorf("%w: REDUCED_SPACE requires COMPRESSION_METHOD=AE, got %s",
			varda.ErrConfiguration, values.CompressionMethod)
	}

	// undoing normalization needs the statistics normalization produced
	if values.UndoNormalize && !values.Normalize {
		return fmt.Errorf("%w: UNDO_NORMALIZE requires NORMALIZE", varda.ErrConfiguration)
	}

	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s, got %v", fe.Field(), fe.Tag(), fe.Value())
}
