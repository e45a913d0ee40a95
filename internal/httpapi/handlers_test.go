package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	apperrors "gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/httpapi"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/session"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

const (
	testToken  = "token-abc"
	testAgency = "agency-test-123"
	testUser   = "user-test-456"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// fakeSessionStore resolves a fixed token set.
type fakeSessionStore struct {
	sessions map[string]session.Data
}

func (f *fakeSessionStore) Save(_ context.Context, token string, data session.Data, _ time.Duration) error {
	f.sessions[token] = data
	return nil
}

func (f *fakeSessionStore) Lookup(_ context.Context, token string) (session.Data, error) {
	data, ok := f.sessions[token]
	if !ok {
		return session.Data{}, fmt.Errorf("%w: session not found or expired", apperrors.ErrUnauthorized)
	}
	return data, nil
}

func (f *fakeSessionStore) Revoke(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionStore) Ping(context.Context) error { return nil }
func (f *fakeSessionStore) Close() error               { return nil }

// fakeImportAPI captures the last call and replies from fixed values.
type fakeImportAPI struct {
	job       *model.ImportJob
	result    *model.ChunkResult
	err       error
	lastCtx   context.Context
	lastChunk model.ChunkRequest
}

func (f *fakeImportAPI) CreateJob(ctx context.Context, filename string) (*model.ImportJob, error) {
	f.lastCtx = ctx
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeImportAPI) ProcessChunk(ctx context.Context, req model.ChunkRequest) (*model.ChunkResult, error) {
	f.lastCtx = ctx
	f.lastChunk = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeImportAPI) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	f.lastCtx = ctx
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

type fakeRunAPI struct {
	job *model.ImportJob
	err error
}

func (f *fakeRunAPI) Run(_ context.Context, _ string, _ model.ColumnMapping, _ string, _ func(model.ChunkResult)) (*model.ImportJob, error) {
	return f.job, f.err
}

type fakeInviteAPI struct {
	result *model.InviteResult
	usage  model.SeatUsage
	err    error
}

func (f *fakeInviteAPI) BulkInvite(_ context.Context, _ model.InviteRequest) (*model.InviteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeInviteAPI) SeatUsageFor(_ context.Context, _ int) (model.SeatUsage, error) {
	if f.err != nil {
		return model.SeatUsage{}, f.err
	}
	return f.usage, nil
}

type testServer struct {
	echo    *echo.Echo
	imports *fakeImportAPI
	run     *fakeRunAPI
	invites *fakeInviteAPI
}

func newTestServer() *testServer {
	ts := &testServer{
		imports: &fakeImportAPI{},
		run:     &fakeRunAPI{},
		invites: &fakeInviteAPI{},
	}
	sessions := &fakeSessionStore{sessions: map[string]session.Data{
		testToken: {UserID: testUser, AgencyID: testAgency, Role: model.RoleAdmin},
	}}
	ts.echo = httpapi.NewServer(0, sessions,
		httpapi.NewImportHandler(ts.imports, ts.run),
		httpapi.NewInvitationHandler(ts.invites))
	return ts
}

func (ts *testServer) request(method, path string, body []byte, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authorized {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer()
	ts.imports.job = &model.ImportJob{ID: "job-1", AgencyID: testAgency}

	t.Run("missing token", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/api/v1/imports/job-1", nil, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/job-1", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer wrong-token")
		rec := httptest.NewRecorder()
		ts.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches handler with identity", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/api/v1/imports/job-1", nil, true)
		require.Equal(t, http.StatusOK, rec.Code)

		agencyID, err := tenant.FromContext(ts.imports.lastCtx)
		require.NoError(t, err)
		assert.Equal(t, testAgency, agencyID)
		userID, err := tenant.UserIDFromContext(ts.imports.lastCtx)
		require.NoError(t, err)
		assert.Equal(t, testUser, userID)
	})
}

func TestCreateJobEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.imports.job = &model.ImportJob{ID: "job-1", AgencyID: testAgency, Filename: "leads.csv", Status: model.JobStatusPending}

	rec := ts.request(http.MethodPost, "/api/v1/imports", []byte(`{"filename":"leads.csv"}`), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, "job-1", data["id"])
	assert.Equal(t, model.JobStatusPending, data["status"])
}

func TestSubmitChunkEndpointPathWinsOverBody(t *testing.T) {
	ts := newTestServer()
	ts.imports.result = &model.ChunkResult{Success: true, Processed: 2, IsComplete: true}

	body := []byte(`{"importJobId":"spoofed","csvData":"email\njane@example.com","chunkIndex":0,"totalChunks":1}`)
	rec := ts.request(http.MethodPost, "/api/v1/imports/job-1/chunks", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "job-1", ts.imports.lastChunk.ImportJobID, "path parameter is authoritative")
	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, true, data["isComplete"])
}

func TestSubmitChunkEndpointEmptyPayload(t *testing.T) {
	ts := newTestServer()
	ts.imports.err = fmt.Errorf("%w: chunk needs a header line and at least one data line", apperrors.ErrEmptyInput)

	rec := ts.request(http.MethodPost, "/api/v1/imports/job-1/chunks", []byte(`{"csvData":"email"}`), true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got := decodeResponse(t, rec)
	errBody := got["error"].(map[string]any)
	assert.Equal(t, "empty_input", errBody["code"])
}

func TestGetJobEndpointNotFound(t *testing.T) {
	ts := newTestServer()
	ts.imports.err = fmt.Errorf("%w: import job missing-id", apperrors.ErrNotFound)

	rec := ts.request(http.MethodGet, "/api/v1/imports/missing-id", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorReportEndpoint(t *testing.T) {
	ts := newTestServer()
	details := []model.RowError{{RowHash: "abc", Message: "Empty row", Data: "{}"}}
	ts.imports.job = &model.ImportJob{
		ID:           "job-1",
		AgencyID:     testAgency,
		ErrorDetails: datatypes.JSON(utils.MustMarshalJSON(details)),
	}

	rec := ts.request(http.MethodGet, "/api/v1/imports/job-1/errors.csv", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "import-job-1-errors.csv")
	assert.Contains(t, rec.Body.String(), "Row,Error,Data")
	assert.Contains(t, rec.Body.String(), "Empty row")
}

func TestSuggestMappingEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := ts.request(http.MethodGet, "/api/v1/imports/mappings/suggest?headers=Email%20Address,First%20Name,Shoe%20Size", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, model.FieldEmail, data["Email Address"])
	assert.Equal(t, model.FieldFirstName, data["First Name"])
	assert.Equal(t, "", data["Shoe Size"], "unknown headers map to skip")
}

func TestSuggestMappingEndpointRequiresHeaders(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(http.MethodGet, "/api/v1/imports/mappings/suggest", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunImportEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.run.job = &model.ImportJob{ID: "job-1", Status: model.JobStatusCompleted, SuccessCount: 3}

	body := []byte(`{"csvData":"email\na@example.com","filename":"leads.csv"}`)
	rec := ts.request(http.MethodPost, "/api/v1/imports/run", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, model.JobStatusCompleted, data["status"])
}

func TestRunImportEndpointIncomplete(t *testing.T) {
	ts := newTestServer()
	ts.run.job = &model.ImportJob{ID: "job-1", Status: model.JobStatusProcessing}
	ts.run.err = fmt.Errorf("%w: job job-1 finished in status processing", apperrors.ErrIncompleteImport)

	rec := ts.request(http.MethodPost, "/api/v1/imports/run", []byte(`{"csvData":"email\na@example.com"}`), true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	got := decodeResponse(t, rec)
	require.NotNil(t, got["data"], "partial job snapshot returned alongside the error")
	assert.NotNil(t, got["error"])
}

func TestBulkInviteEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.invites.result = &model.InviteResult{
		Created:            1,
		CreatedInvitations: []string{"jane@example.com"},
		SeatUsage:          "4 of 10 seats used (3 members, 1 pending invitations), 6 available",
	}

	rec := ts.request(http.MethodPost, "/api/v1/invitations", []byte(`{"emails":["jane@example.com"],"role":"agent"}`), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, float64(1), data["created"])
}

func TestBulkInviteEndpointSeatLimit(t *testing.T) {
	ts := newTestServer()
	ts.invites.err = fmt.Errorf("%w: 10 of 10 seats used (8 members, 2 pending invitations), 0 available", apperrors.ErrSeatLimitExceeded)

	rec := ts.request(http.MethodPost, "/api/v1/invitations", []byte(`{"emails":["jane@example.com"],"role":"agent"}`), true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got := decodeResponse(t, rec)
	errBody := got["error"].(map[string]any)
	assert.Equal(t, "seat_limit_exceeded", errBody["code"])
	assert.Contains(t, errBody["message"], "10 of 10 seats used")
}

func TestBulkInviteEndpointLockUnavailable(t *testing.T) {
	ts := newTestServer()
	ts.invites.err = apperrors.ErrLockUnavailable

	rec := ts.request(http.MethodPost, "/api/v1/invitations", []byte(`{"emails":["jane@example.com"],"role":"agent"}`), true)
	require.Equal(t, http.StatusConflict, rec.Code)

	got := decodeResponse(t, rec)
	errBody := got["error"].(map[string]any)
	assert.Equal(t, "lock_unavailable", errBody["code"])
	assert.Equal(t, true, errBody["retry"])
}

func TestSeatUsageEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.invites.usage = model.SeatUsage{ActiveMembers: 3, PendingInvites: 1, SeatCount: 10, Available: 6, CanProceed: true}

	rec := ts.request(http.MethodGet, "/api/v1/invitations/usage?requested=2", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeResponse(t, rec)
	data := got["data"].(map[string]any)
	assert.Equal(t, float64(6), data["availableSeats"])
	assert.Equal(t, true, data["canProceed"])
}

func TestSeatUsageEndpointBadRequestedParam(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(http.MethodGet, "/api/v1/invitations/usage?requested=-1", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
