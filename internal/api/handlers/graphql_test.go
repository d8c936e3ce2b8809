package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleet-sync/internal/api/middleware"
	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/repository"
	"fleet-sync/internal/services"
	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/jwt"
	"fleet-sync/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url  string
	repo *repository.Repository
	auth *services.AuthService
}

func newTestServer(t *testing.T, limiter ratelimit.RateLimiter) *testServer {
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepository()
	auth := services.NewAuthService(repo.Users, jwt.NewJWTUtil("test-secret", "1h"))
	require.NoError(t, auth.EnsureUser(context.Background(), models.Identity{
		Email:          "admin@fleet.local",
		Role:           "admin",
		OrganizationID: "org-1",
	}, "admin123"))
	fleet := services.NewFleetService(repo, nil, services.DiskUploads{Dir: t.TempDir(), URLPrefix: "/uploads"})

	h := NewGraphQLHandler(auth, fleet, limiter)
	router := gin.New()
	router.POST("/graphql", middleware.AuthMiddleware(auth), h.Handle)
	router.GET("/health", NewHealthHandler(repo, nil, nil).HealthCheck)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{url: server.URL, repo: repo, auth: auth}
}

func (s *testServer) client(token string) *graphql.Client {
	return graphql.NewClient(s.url+"/graphql", graphql.WithCredentials(graphql.CredentialFunc(
		func(context.Context) (string, error) { return token, nil },
	)))
}

func (s *testServer) signIn(t *testing.T) string {
	data, err := s.client("").Mutate(context.Background(), operations.SignIn, graphql.Variables{
		"email": "admin@fleet.local", "motDePasse": "admin123",
	})
	require.NoError(t, err)
	payload, err := graphql.Field[operations.AuthPayload](data, operations.FieldConnexion)
	require.NoError(t, err)
	return payload.Token
}

func protocolError(t *testing.T, err error) *graphql.ProtocolError {
	t.Helper()
	var perr *graphql.ProtocolError
	require.True(t, errors.As(err, &perr), "expected a protocol error, got %v", err)
	return perr
}

func TestGraphQL_SignInAndMe(t *testing.T) {
	server := newTestServer(t, nil)
	token := server.signIn(t)

	claims, err := server.auth.Authenticate(token)
	require.NoError(t, err)

	data, err := server.client(token).Request(context.Background(), operations.Me, graphql.Variables{"id": claims.UserID})
	require.NoError(t, err)
	identity, err := graphql.Field[models.Identity](data, operations.FieldUtilisateur)
	require.NoError(t, err)
	assert.Equal(t, "admin@fleet.local", identity.Email)
	assert.Equal(t, "org-1", identity.OrganizationID)
}

func TestGraphQL_SignInRejected(t *testing.T) {
	server := newTestServer(t, nil)

	_, err := server.client("").Mutate(context.Background(), operations.SignIn, graphql.Variables{
		"email": "admin@fleet.local", "motDePasse": "nope",
	})
	perr := protocolError(t, err)
	assert.Equal(t, "invalid credentials", perr.Message)
}

func TestGraphQL_RequiresAuthentication(t *testing.T) {
	server := newTestServer(t, nil)

	_, err := server.client("").Query(context.Background(), operations.ListVehicles, nil)
	perr := protocolError(t, err)
	assert.Equal(t, "not authenticated", perr.Message)
	assert.Equal(t, "UNAUTHENTICATED", perr.Extensions["code"])

	_, err = server.client("forged").Query(context.Background(), operations.ListVehicles, nil)
	assert.Equal(t, "not authenticated", protocolError(t, err).Message)
}

func TestGraphQL_SignOutRevokesToken(t *testing.T) {
	server := newTestServer(t, nil)
	token := server.signIn(t)
	client := server.client(token)

	data, err := client.Mutate(context.Background(), operations.SignOut, nil)
	require.NoError(t, err)
	ok, err := graphql.Field[bool](data, operations.FieldDeconnexion)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = client.Query(context.Background(), operations.ListDrivers, nil, graphql.SkipCache())
	assert.Equal(t, "not authenticated", protocolError(t, err).Message)
}

func TestGraphQL_VehicleLifecycle(t *testing.T) {
	server := newTestServer(t, nil)
	client := server.client(server.signIn(t))
	ctx := context.Background()

	input, err := operations.Input(models.Vehicle{Registration: "AA-123-BB", Make: "Renault", Model: "Master", Year: 2021})
	require.NoError(t, err)
	data, err := client.Mutate(ctx, operations.CreateVehicle, graphql.Variables{"input": input})
	require.NoError(t, err)
	created, err := graphql.Field[models.Vehicle](data, operations.FieldCreerVehicule)
	require.NoError(t, err)
	assert.Equal(t, "1", created.ID)
	assert.Equal(t, models.VehicleAvailable, created.Status)

	created.Status = models.VehicleInRepair
	input, err = operations.Input(created)
	require.NoError(t, err)
	data, err = client.Mutate(ctx, operations.UpdateVehicle, graphql.Variables{"id": created.ID, "input": input})
	require.NoError(t, err)
	updated, err := graphql.Field[models.Vehicle](data, operations.FieldModifierVehicule)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleInRepair, updated.Status)

	data, err = client.Query(ctx, operations.ListVehicles, nil)
	require.NoError(t, err)
	vehicles, err := graphql.Field[[]models.Vehicle](data, operations.FieldVehicules)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "AA-123-BB", vehicles[0].Registration)

	data, err = client.Mutate(ctx, operations.DeleteVehicle, graphql.Variables{"id": created.ID})
	require.NoError(t, err)
	ok, err := graphql.Field[bool](data, operations.FieldSupprimerVehicule)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = client.Mutate(ctx, operations.DeleteVehicle, graphql.Variables{"id": created.ID})
	perr := protocolError(t, err)
	assert.Equal(t, "NOT_FOUND", perr.Extensions["code"])
	assert.Contains(t, perr.Message, "vehicule 1")
}

func TestGraphQL_ValidationErrorsUseFieldNames(t *testing.T) {
	server := newTestServer(t, nil)
	client := server.client(server.signIn(t))

	_, err := client.Mutate(context.Background(), operations.CreateVehicle, graphql.Variables{
		"input": map[string]any{"marque": "Renault", "modele": "Master"},
	})
	perr := protocolError(t, err)
	assert.Equal(t, "immatriculation is required", perr.Message)
	assert.Equal(t, "BAD_USER_INPUT", perr.Extensions["code"])
}

func TestGraphQL_DriverAccessAndOrganization(t *testing.T) {
	server := newTestServer(t, nil)
	client := server.client(server.signIn(t))
	ctx := context.Background()

	input, err := operations.Input(models.Driver{LastName: "Diallo", FirstName: "Awa", LicenseNumber: "P-1"})
	require.NoError(t, err)
	data, err := client.Mutate(ctx, operations.CreateDriver, graphql.Variables{"input": input})
	require.NoError(t, err)
	driver, err := graphql.Field[models.Driver](data, operations.FieldCreerChauffeur)
	require.NoError(t, err)
	assert.Equal(t, "org-1", driver.OrganizationID)

	data, err = client.Mutate(ctx, operations.SetDriverAccess, graphql.Variables{"id": driver.ID, "acces": true})
	require.NoError(t, err)
	driver, err = graphql.Field[models.Driver](data, operations.FieldModifierAccesChauffeur)
	require.NoError(t, err)
	assert.True(t, driver.OrganizationAccess)
}

func TestGraphQL_UploadImage(t *testing.T) {
	server := newTestServer(t, nil)
	client := server.client(server.signIn(t))

	raw, err := client.Upload(context.Background(), operations.UploadImage, nil, operations.UploadFileVariable, graphql.File{
		Name:    "photo.jpg",
		Content: strings.NewReader("jpeg-bytes"),
	})
	require.NoError(t, err)

	var ref string
	require.NoError(t, json.Unmarshal(raw, &ref))
	assert.True(t, strings.HasPrefix(ref, "/uploads/"))
	assert.True(t, strings.HasSuffix(ref, ".jpg"))
}

func TestGraphQL_UnknownFieldAndMalformedBody(t *testing.T) {
	server := newTestServer(t, nil)

	_, err := server.client("").Request(context.Background(), `query { positions { lat } }`, nil)
	var terr *graphql.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadRequest, terr.StatusCode)
	assert.Contains(t, terr.Message, "positions")

	resp, err := http.Post(server.url+"/graphql", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGraphQL_RateLimitedSignIn(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.Limits[ratelimit.CategoryLogin] = ratelimit.RateLimit{BurstSize: 1, WindowSize: time.Minute}
	server := newTestServer(t, ratelimit.NewMemoryRateLimiter(cfg, clockwork.NewFakeClock()))

	server.signIn(t)

	_, err := server.client("").Mutate(context.Background(), operations.SignIn, graphql.Variables{
		"email": "admin@fleet.local", "motDePasse": "admin123",
	})
	var terr *graphql.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusTooManyRequests, terr.StatusCode)
	assert.Contains(t, terr.Message, "rate limit exceeded")
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(t, nil)

	resp, err := http.Get(server.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, true, body.Services["storage"]["healthy"])
}
