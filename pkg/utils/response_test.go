package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) GraphQLResponse {
	t.Helper()
	var resp GraphQLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDataResponse(t *testing.T) {
	c, w := newContext()

	DataResponse(c, "vehicules", []string{"1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"vehicules":["1"]}}`, w.Body.String())
}

func TestErrorResponse(t *testing.T) {
	c, w := newContext()

	ErrorResponse(c, http.StatusOK, "not authenticated", CodeUnauthenticated)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "not authenticated", resp.Errors[0].Message)
	assert.Equal(t, CodeUnauthenticated, resp.Errors[0].Extensions["code"])
	assert.Nil(t, resp.Data)
}

func TestErrorResponse_NoCode(t *testing.T) {
	c, w := newContext()

	ErrorResponse(c, http.StatusBadRequest, "malformed request", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"errors":[{"message":"malformed request"}]}`, w.Body.String())
}

type vehicleInput struct {
	Registration string `json:"immatriculation" validate:"required"`
	Year         int    `json:"annee" validate:"omitempty,min=1900"`
	Status       string `json:"statut" validate:"omitempty,oneof=available unavailable"`
}

func TestValidationErrorResponse(t *testing.T) {
	v := validator.New()
	err := v.Struct(vehicleInput{Year: 1800, Status: "gone"})
	require.Error(t, err)

	c, w := newContext()
	ValidationErrorResponse(c, err)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Len(t, resp.Errors, 3)

	messages := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		assert.Equal(t, CodeBadUserInput, e.Extensions["code"])
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Registration is required")
	assert.Contains(t, messages, "Year must be at least 1900")
	assert.Contains(t, messages, "Status must be one of: available unavailable")
}

func TestValidationErrorResponse_PlainError(t *testing.T) {
	c, w := newContext()

	ValidationErrorResponse(c, errors.New("input must be an object"))

	resp := decode(t, w)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "input must be an object", resp.Errors[0].Message)
	assert.Equal(t, CodeBadUserInput, resp.Errors[0].Extensions["code"])
	assert.NotContains(t, resp.Errors[0].Extensions, "field")
}
