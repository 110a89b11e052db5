package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"snap/metrics"
	"snap/storage"
	"snap/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxRequestBodyBytes bounds JSON request bodies
const maxRequestBodyBytes = 1 << 20

// ValidationErrorResponse is returned with 400 whenever a request model fails validation.
// The field name is kept as existing clients read it.
type ValidationErrorResponse struct {
	Erorrs []string `json:"Erorrs"`
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewValidator creates the validator with the custom tags used by request models
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	policy := util.DefaultPasswordPolicy()

	custom := map[string]validator.Func{
		"username": func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		},
		"gender": func(fl validator.FieldLevel) bool {
			_, err := storage.ParseGender(fl.Field().String())
			return err == nil
		},
		"password": func(fl validator.FieldLevel) bool {
			return policy.Validate(fl.Field().String(), siblingString(fl, "Username")) == nil
		},
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("failed to register %s validation: %w", tag, err)
		}
	}
	return v, nil
}

func siblingString(fl validator.FieldLevel, name string) string {
	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return ""
	}
	f := parent.FieldByName(name)
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// Binder decodes and validates request models before any handler runs
type Binder struct {
	validate *validator.Validate
	policy   util.PasswordPolicy
	logger   *zap.SugaredLogger
}

// NewBinder wraps v
func NewBinder(v *validator.Validate, logger *zap.SugaredLogger) *Binder {
	return &Binder{validate: v, policy: util.DefaultPasswordPolicy(), logger: logger}
}

// Bind decodes the JSON body into dst and validates it. The returned messages are
// empty when the model is valid.
func (b *Binder) Bind(r *http.Request, dst interface{}) []string {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return []string{"The request body could not be read."}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []string{"A non-empty request body is required."}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if msgs := typeMismatches(body, dst); len(msgs) > 0 {
				return msgs
			}
		}
		return []string{"The request body is not valid JSON."}
	}

	err = b.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"The request is invalid."}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, b.message(fe))
	}
	return msgs
}

// typeMismatches decodes every top-level member of body on its own and reports
// each one whose JSON type does not fit the target field
func typeMismatches(body []byte, dst interface{}) []string {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil
	}
	t := reflect.TypeOf(dst)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var msgs []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := jsonFieldName(f)
		if !f.IsExported() || name == "-" {
			continue
		}
		raw, ok := memberFold(members, name)
		if !ok {
			continue
		}
		var typeErr *json.UnmarshalTypeError
		if err := json.Unmarshal(raw, reflect.New(f.Type).Interface()); errors.As(err, &typeErr) {
			msgs = append(msgs, fmt.Sprintf("The JSON value for the %s field could not be converted to %s.", f.Name, jsonKind(f.Type)))
		}
	}
	return msgs
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// memberFold matches keys the way encoding/json does, preferring an exact match
func memberFold(members map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if raw, ok := members[name]; ok {
		return raw, true
	}
	for key, raw := range members {
		if strings.EqualFold(key, name) {
			return raw, true
		}
	}
	return nil, false
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	}
	return t.String()
}

func (b *Binder) message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s field is not a valid e-mail address.", field)
	case "min":
		return fmt.Sprintf("The field %s must be a string with a minimum length of %s.", field, fe.Param())
	case "max":
		return fmt.Sprintf("The field %s must be a string with a maximum length of %s.", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("The %s field must be a date formatted as %s.", field, layoutHint(fe.Param()))
	case "username":
		return fmt.Sprintf("The %s field may only contain letters, numbers, underscores, and hyphens.", field)
	case "gender":
		return fmt.Sprintf("The %s field must be one of Unspecified, Male or Female.", field)
	case "password":
		value, _ := fe.Value().(string)
		if err := b.policy.Validate(value, ""); err != nil {
			return fmt.Sprintf("The %s field is invalid: %s.", field, err)
		}
		return fmt.Sprintf("The %s field must not contain the username.", field)
	}
	return fmt.Sprintf("The %s field is invalid.", field)
}

func layoutHint(layout string) string {
	if layout == time.DateOnly {
		return "YYYY-MM-DD"
	}
	return layout
}

// Validated binds the request body to T and only calls handle for a valid model.
// An invalid model is answered with 400 and a ValidationErrorResponse.
func Validated[T any](b *Binder, handle func(w http.ResponseWriter, r *http.Request, req T)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req T
		if msgs := b.Bind(r, &req); len(msgs) > 0 {
			metrics.ValidationFailures.Inc()
			if b.logger != nil {
				b.logger.Debugw("Request validation failed",
					"path", r.URL.Path,
					"errors", len(msgs))
			}
			respondJSON(w, ValidationErrorResponse{Erorrs: msgs}, http.StatusBadRequest, b.logger)
			return
		}
		handle(w, r, req)
	})
}
