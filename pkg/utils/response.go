package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// GraphQLError is one entry of the errors list of a response.
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLResponse is the standard response envelope of the API.
type GraphQLResponse struct {
	Data   any            `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Error codes reported under extensions.code.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
)

// DataResponse sends a successful result under its field name
func DataResponse(c *gin.Context, field string, value any) {
	c.JSON(http.StatusOK, GraphQLResponse{
		Data: map[string]any{field: value},
	})
}

// ErrorResponse sends a single error. Operation-level failures use 200 like
// any other GraphQL server; statusCode is for malformed requests.
func ErrorResponse(c *gin.Context, statusCode int, message, code string) {
	response := GraphQLResponse{
		Errors: []GraphQLError{{Message: message}},
	}
	if code != "" {
		response.Errors[0].Extensions = map[string]any{"code": code}
	}
	c.JSON(statusCode, response)
}

// ValidationErrorResponse sends one error per failed field
func ValidationErrorResponse(c *gin.Context, err error) {
	var errs []GraphQLError

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			errs = append(errs, GraphQLError{
				Message:    getValidationErrorMessage(fieldError),
				Extensions: map[string]any{"code": CodeBadUserInput, "field": fieldError.Field()},
			})
		}
	} else {
		errs = append(errs, GraphQLError{
			Message:    err.Error(),
			Extensions: map[string]any{"code": CodeBadUserInput},
		})
	}

	c.JSON(http.StatusOK, GraphQLResponse{Errors: errs})
}

// getValidationErrorMessage returns a user-friendly validation error message
func getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	tag := fieldError.Tag()

	switch tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}
