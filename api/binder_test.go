package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBinder(t *testing.T) *Binder {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return NewBinder(v, zaptest.NewLogger(t).Sugar())
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeValidation(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var raw map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	require.Contains(t, raw, "Erorrs")
	return raw["Erorrs"]
}

func TestValidated_TwoInvalidFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"username and email", `{"username":"ab","email":"not-an-email","password":"Corr3ct-Horse"}`},
		{"email and password", `{"username":"alice","email":"","password":"short"}`},
		{"username and display name", `{"username":"bad name","email":"a@example.com","password":"Corr3ct-Horse","display_name":"` + strings.Repeat("x", 101) + `"}`},
		{"password contains username", `{"username":"horse","email":"x","password":"Corr3ct-Horse"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := Validated(newTestBinder(t), func(w http.ResponseWriter, r *http.Request, req RegisterRequest) {
				called = true
			})

			rr := postJSON(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.False(t, called, "handler must not run for an invalid model")
			assert.Len(t, decodeValidation(t, rr), 2)
		})
	}
}

func TestValidated_MalformedBody(t *testing.T) {
	h := Validated(newTestBinder(t), func(w http.ResponseWriter, r *http.Request, req LoginRequest) {
		t.Fatal("handler must not run")
	})

	rr := postJSON(t, h, `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []string{"The request body is not valid JSON."}, decodeValidation(t, rr))

	rr = postJSON(t, h, ``)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []string{"A non-empty request body is required."}, decodeValidation(t, rr))
}

func TestValidated_TypeMismatchPerField(t *testing.T) {
	called := false
	h := Validated(newTestBinder(t), func(w http.ResponseWriter, r *http.Request, req RegisterRequest) {
		called = true
	})

	rr := postJSON(t, h, `{"username":5,"Email":7,"password":"Corr3ct-Horse"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
	assert.Equal(t, []string{
		"The JSON value for the Username field could not be converted to a string.",
		"The JSON value for the Email field could not be converted to a string.",
	}, decodeValidation(t, rr))

	rr = postJSON(t, h, `[1, 2]`)
	assert.Equal(t, []string{"The request body is not valid JSON."}, decodeValidation(t, rr))
}

func TestValidated_ValidModelReachesHandler(t *testing.T) {
	var got AboutRequest
	h := Validated(newTestBinder(t), func(w http.ResponseWriter, r *http.Request, req AboutRequest) {
		got = req
		w.WriteHeader(http.StatusNoContent)
	})

	rr := postJSON(t, h, `{"full_name":"Ada Lovelace","gender":"female","birth_date":"1815-12-10"}`)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "Ada Lovelace", got.FullName)
	assert.Equal(t, "female", got.Gender)
}

func TestBinder_Messages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"required", `{"username":"alice","password":"Corr3ct-Horse"}`, "The Email field is required."},
		{"email", `{"username":"alice","email":"nope","password":"Corr3ct-Horse"}`, "The Email field is not a valid e-mail address."},
		{"min", `{"username":"al","email":"a@example.com","password":"Corr3ct-Horse"}`, "The field Username must be a string with a minimum length of 3."},
		{"username charset", `{"username":"al ice","email":"a@example.com","password":"Corr3ct-Horse"}`, "The Username field may only contain letters, numbers, underscores, and hyphens."},
		{"password policy", `{"username":"alice","email":"a@example.com","password":"short"}`, "The Password field is invalid: password must be at least 8 characters long."},
		{"password username", `{"username":"alice","email":"a@example.com","password":"Alice-Pass-1"}`, "The Password field must not contain the username."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Validated(newTestBinder(t), func(http.ResponseWriter, *http.Request, RegisterRequest) {})
			rr := postJSON(t, h, tt.body)
			assert.Equal(t, []string{tt.want}, decodeValidation(t, rr))
		})
	}
}

func TestBinder_AboutMessages(t *testing.T) {
	h := Validated(newTestBinder(t), func(http.ResponseWriter, *http.Request, AboutRequest) {})

	rr := postJSON(t, h, `{"full_name":"Ada","gender":"robot","birth_date":"10/12/1815"}`)

	assert.ElementsMatch(t, []string{
		"The Gender field must be one of Unspecified, Male or Female.",
		"The BirthDate field must be a date formatted as YYYY-MM-DD.",
	}, decodeValidation(t, rr))
}
