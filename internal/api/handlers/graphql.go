package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"fleet-sync/internal/api/middleware"
	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/repository"
	"fleet-sync/internal/services"
	"fleet-sync/pkg/jwt"
	"fleet-sync/pkg/ratelimit"
	"fleet-sync/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"
)

var errBadInput = errors.New("bad input")

type request struct {
	Query     string                     `json:"query"`
	Variables map[string]json.RawMessage `json:"variables"`

	files  map[string]*multipart.FileHeader
	claims *jwt.Claims
}

type resolver func(c *gin.Context, req *request) (any, error)

// GraphQLHandler serves every operation on a single endpoint, dispatching on
// the root field of the operation text.
type GraphQLHandler struct {
	auth      *services.AuthService
	fleet     *services.FleetService
	limiter   ratelimit.RateLimiter
	validator *validator.Validate
	resolvers map[string]resolver
}

// NewGraphQLHandler builds the handler. limiter may be nil.
func NewGraphQLHandler(auth *services.AuthService, fleet *services.FleetService, limiter ratelimit.RateLimiter) *GraphQLHandler {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	h := &GraphQLHandler{
		auth:      auth,
		fleet:     fleet,
		limiter:   limiter,
		validator: v,
	}
	h.resolvers = map[string]resolver{
		operations.FieldConnexion:              h.signIn,
		operations.FieldDeconnexion:            h.signOut,
		operations.FieldUtilisateur:            h.authenticated(h.me),
		operations.FieldChauffeurs:             h.authenticated(h.drivers),
		operations.FieldCreerChauffeur:         h.authenticated(h.createDriver),
		operations.FieldModifierChauffeur:      h.authenticated(h.updateDriver),
		operations.FieldSupprimerChauffeur:     h.authenticated(h.deleteDriver),
		operations.FieldModifierAccesChauffeur: h.authenticated(h.setDriverAccess),
		operations.FieldVehicules:              h.authenticated(h.vehicles),
		operations.FieldCreerVehicule:          h.authenticated(h.createVehicle),
		operations.FieldModifierVehicule:       h.authenticated(h.updateVehicle),
		operations.FieldSupprimerVehicule:      h.authenticated(h.deleteVehicle),
		operations.FieldRapports:               h.authenticated(h.reports),
		operations.FieldCreerRapport:           h.authenticated(h.createReport),
		operations.FieldModifierRapport:        h.authenticated(h.updateReport),
		operations.FieldSupprimerRapport:       h.authenticated(h.deleteReport),
		operations.FieldTeleverserImage:        h.authenticated(h.uploadImage),
	}
	return h
}

func (h *GraphQLHandler) Handle(c *gin.Context) {
	req, err := parseRequest(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error(), utils.CodeBadUserInput)
		return
	}

	field := operations.RootField(req.Query)
	resolve, ok := h.resolvers[field]
	if !ok {
		utils.ErrorResponse(c, http.StatusBadRequest, fmt.Sprintf("unknown field %q", field), utils.CodeBadUserInput)
		return
	}

	if !h.allow(c, field) {
		return
	}

	value, err := resolve(c, req)
	if err != nil {
		h.fail(c, field, err)
		return
	}
	utils.DataResponse(c, field, value)
}

// allow applies the rate limit of the operation and writes the refusal.
func (h *GraphQLHandler) allow(c *gin.Context, field string) bool {
	if h.limiter == nil {
		return true
	}
	allowed, wait, err := h.limiter.Allow(c.Request.Context(), clientID(c), field)
	if err != nil {
		// Don't block requests when the limiter is unavailable
		glog.Warningf("Rate limiter unavailable: %v", err)
		return true
	}
	if allowed {
		return true
	}
	seconds := int(wait.Seconds() + 0.999)
	c.Header("Retry-After", strconv.Itoa(seconds))
	utils.ErrorResponse(c, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry in %ds", seconds), utils.CodeRateLimited)
	return false
}

// clientID identifies the caller: the user when authenticated, else the address.
func clientID(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func (h *GraphQLHandler) fail(c *gin.Context, field string, err error) {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, services.ErrNotAuthenticated), errors.Is(err, services.ErrTokenExpired):
		utils.ErrorResponse(c, http.StatusOK, err.Error(), utils.CodeUnauthenticated)
	case errors.As(err, &validationErrors):
		utils.ValidationErrorResponse(c, err)
	case errors.Is(err, repository.ErrNotFound):
		utils.ErrorResponse(c, http.StatusOK, err.Error(), utils.CodeNotFound)
	case errors.Is(err, errBadInput),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrUnknownReference),
		errors.Is(err, repository.ErrDuplicate):
		utils.ErrorResponse(c, http.StatusOK, err.Error(), utils.CodeBadUserInput)
	default:
		glog.Errorf("%s failed: %v", field, err)
		utils.ErrorResponse(c, http.StatusOK, "internal server error", utils.CodeInternal)
	}
}

func (h *GraphQLHandler) authenticated(next resolver) resolver {
	return func(c *gin.Context, req *request) (any, error) {
		claims, err := middleware.Claims(c)
		if err != nil {
			return nil, err
		}
		if claims == nil {
			return nil, services.ErrNotAuthenticated
		}
		req.claims = claims
		return next(c, req)
	}
}

func (h *GraphQLHandler) signIn(c *gin.Context, req *request) (any, error) {
	email, err := req.stringVar("email")
	if err != nil {
		return nil, err
	}
	password, err := req.stringVar("motDePasse")
	if err != nil {
		return nil, err
	}
	return h.auth.Login(c.Request.Context(), email, password)
}

// signOut revokes the presented token. Expired or unknown tokens are
// accepted so a client can always sign out.
func (h *GraphQLHandler) signOut(c *gin.Context, req *request) (any, error) {
	token := middleware.Token(c)
	if token == "" {
		return nil, services.ErrNotAuthenticated
	}
	h.auth.Logout(token)
	return true, nil
}

func (h *GraphQLHandler) me(c *gin.Context, req *request) (any, error) {
	id := req.claims.UserID
	if _, ok := req.Variables["id"]; ok {
		var err error
		if id, err = req.stringVar("id"); err != nil {
			return nil, err
		}
	}
	identity, err := h.auth.Identity(c.Request.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("utilisateur %s: %w", id, err)
	}
	return identity, nil
}

func (h *GraphQLHandler) drivers(c *gin.Context, req *request) (any, error) {
	return h.fleet.Drivers(c.Request.Context())
}

func (h *GraphQLHandler) createDriver(c *gin.Context, req *request) (any, error) {
	driver, err := decodeInput[models.Driver](h, req)
	if err != nil {
		return nil, err
	}
	if driver.OrganizationID == "" {
		driver.OrganizationID = req.claims.OrganizationID
	}
	return h.fleet.CreateDriver(c.Request.Context(), driver)
}

func (h *GraphQLHandler) updateDriver(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	driver, err := decodeInput[models.Driver](h, req)
	if err != nil {
		return nil, err
	}
	return notFound[models.Driver]("chauffeur", id)(h.fleet.UpdateDriver(c.Request.Context(), id, driver))
}

func (h *GraphQLHandler) deleteDriver(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	return deleted("chauffeur", id, h.fleet.DeleteDriver(c.Request.Context(), id))
}

func (h *GraphQLHandler) setDriverAccess(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	allowed, err := req.boolVar("acces")
	if err != nil {
		return nil, err
	}
	return notFound[models.Driver]("chauffeur", id)(h.fleet.SetDriverAccess(c.Request.Context(), id, allowed))
}

func (h *GraphQLHandler) vehicles(c *gin.Context, req *request) (any, error) {
	return h.fleet.Vehicles(c.Request.Context())
}

func (h *GraphQLHandler) createVehicle(c *gin.Context, req *request) (any, error) {
	vehicle, err := decodeInput[models.Vehicle](h, req)
	if err != nil {
		return nil, err
	}
	return h.fleet.CreateVehicle(c.Request.Context(), vehicle)
}

func (h *GraphQLHandler) updateVehicle(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	vehicle, err := decodeInput[models.Vehicle](h, req)
	if err != nil {
		return nil, err
	}
	return notFound[models.Vehicle]("vehicule", id)(h.fleet.UpdateVehicle(c.Request.Context(), id, vehicle))
}

func (h *GraphQLHandler) deleteVehicle(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	return deleted("vehicule", id, h.fleet.DeleteVehicle(c.Request.Context(), id))
}

func (h *GraphQLHandler) reports(c *gin.Context, req *request) (any, error) {
	return h.fleet.Reports(c.Request.Context())
}

func (h *GraphQLHandler) createReport(c *gin.Context, req *request) (any, error) {
	report, err := decodeInput[models.Report](h, req)
	if err != nil {
		return nil, err
	}
	return h.fleet.CreateReport(c.Request.Context(), report)
}

func (h *GraphQLHandler) updateReport(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	report, err := decodeInput[models.Report](h, req)
	if err != nil {
		return nil, err
	}
	return notFound[models.Report]("rapport", id)(h.fleet.UpdateReport(c.Request.Context(), id, report))
}

func (h *GraphQLHandler) deleteReport(c *gin.Context, req *request) (any, error) {
	id, err := req.stringVar("id")
	if err != nil {
		return nil, err
	}
	return deleted("rapport", id, h.fleet.DeleteReport(c.Request.Context(), id))
}

func (h *GraphQLHandler) uploadImage(c *gin.Context, req *request) (any, error) {
	header, ok := req.files[operations.UploadFileVariable]
	if !ok {
		return nil, fmt.Errorf("%w: missing file %q", errBadInput, operations.UploadFileVariable)
	}
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable file: %v", errBadInput, err)
	}
	defer file.Close()

	ref, err := h.fleet.UploadImage(header.Filename, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadInput, err)
	}
	return ref, nil
}

// notFound names the missing record in a repository.ErrNotFound.
func notFound[T any](kind, id string) func(T, error) (any, error) {
	return func(value T, err error) (any, error) {
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%s %s: %w", kind, id, err)
			}
			return nil, err
		}
		return value, nil
	}
}

func deleted(kind, id string, err error) (any, error) {
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, err)
		}
		return nil, err
	}
	return true, nil
}

func decodeInput[T any](h *GraphQLHandler, req *request) (T, error) {
	var record T
	raw, ok := req.Variables["input"]
	if !ok {
		return record, fmt.Errorf("%w: missing variable \"input\"", errBadInput)
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("%w: invalid input: %v", errBadInput, err)
	}
	if err := h.validator.Struct(&record); err != nil {
		return record, err
	}
	return record, nil
}

func (r *request) stringVar(name string) (string, error) {
	var value any
	if err := r.variable(name, &value); err != nil {
		return "", err
	}
	// Ids may arrive as numbers.
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: variable %q must be a string", errBadInput, name)
}

func (r *request) boolVar(name string) (bool, error) {
	var value bool
	if err := r.variable(name, &value); err != nil {
		return false, err
	}
	return value, nil
}

func (r *request) variable(name string, dest any) error {
	raw, ok := r.Variables[name]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("%w: missing variable %q", errBadInput, name)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: variable %q: %v", errBadInput, name, err)
	}
	return nil
}

// parseRequest reads a JSON body or the multipart upload convention.
func parseRequest(c *gin.Context) (*request, error) {
	req := &request{}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, fmt.Errorf("invalid multipart request: %w", err)
		}
		ops := form.Value["operations"]
		if len(ops) == 0 {
			return nil, errors.New("missing operations part")
		}
		if err := json.Unmarshal([]byte(ops[0]), req); err != nil {
			return nil, fmt.Errorf("invalid operations part: %w", err)
		}

		var fileMap map[string][]string
		if m := form.Value["map"]; len(m) > 0 {
			if err := json.Unmarshal([]byte(m[0]), &fileMap); err != nil {
				return nil, fmt.Errorf("invalid map part: %w", err)
			}
		}
		req.files = make(map[string]*multipart.FileHeader)
		for key, paths := range fileMap {
			headers := form.File[key]
			if len(headers) == 0 {
				return nil, fmt.Errorf("missing file part %q", key)
			}
			for _, path := range paths {
				req.files[strings.TrimPrefix(path, "variables.")] = headers[0]
			}
		}
	} else if err := c.ShouldBindJSON(req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("missing query")
	}
	return req, nil
}

// jsonFieldName reports validation errors under the API field names.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}
