package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml names so messages match the config file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []ValidationError{{Field: "config", Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Message: messageFor(fe),
			})
		}
	}

	// Cross-section rules
	if c.VectorStore.Type == "pgvector" && c.Database.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "database.url",
			Message: "database url is required for the pgvector store",
		})
	}

	if c.Embedder.Provider == "huggingface" && c.LLM.Token == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.token",
			Message: "a Hugging Face token (" + TokenEnv + ") is required for the huggingface embedder",
		})
	}

	return errs
}

// fieldPath drops the root struct name: "Config.llm.temperature" -> "llm.temperature".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "ltfield":
		return "must be less than chunk_size"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
