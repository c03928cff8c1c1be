// Package binding decodes request query strings and JSON bodies into tagged
// structs and validates them.
package binding

import (
	"fmt"
	"io"
	"net/http"

	validatorV10 "github.com/go-playground/validator/v10"

	"github.com/leeforge/workforce/json"
)

type BindError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *BindError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s' %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type ValidationErrors []BindError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve[0].Error())
}

// Problem returns the parameter and reason of the first failure in err, for
// responses that name one offending parameter.
func Problem(err error) (field, reason string) {
	switch e := err.(type) {
	case *BindError:
		return e.Field, e.Message
	case ValidationErrors:
		if len(e) > 0 {
			return e[0].Field, e[0].Message
		}
	}
	return "", err.Error()
}

// Query binds r's query string into v using the default parser, then
// validates v.
func Query(r *http.Request, v any) error {
	return QueryWithParser(r, v, NewQueryParser())
}

// QueryWithParser is Query with a custom parser.
func QueryWithParser(r *http.Request, v any, parser *QueryParser) error {
	if err := parser.Parse(r.URL.Query(), v); err != nil {
		return err
	}
	return validate(v)
}

// JSON decodes r's body into v, then validates v.
func JSON(r *http.Request, v any) error {
	if r.Body == nil {
		return &BindError{Type: "bind_error", Message: "request body is empty"}
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &BindError{Type: "bind_error", Message: "failed to read request body: " + err.Error()}
	}
	if len(body) == 0 {
		return &BindError{Type: "bind_error", Message: "request body is empty"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &BindError{Type: "json_error", Message: "failed to unmarshal JSON: " + err.Error()}
	}
	return validate(v)
}

func validate(v any) error {
	err := validator.Struct(v)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validatorV10.ValidationErrors)
	if !ok {
		return &BindError{Type: "validation_error", Message: err.Error()}
	}
	bindErrors := make(ValidationErrors, 0, len(validationErrors))
	for _, fe := range validationErrors {
		bindErrors = append(bindErrors, BindError{
			Type:    "validation_error",
			Field:   fe.Field(),
			Message: getValidationMessage(fe),
		})
	}
	return bindErrors
}
