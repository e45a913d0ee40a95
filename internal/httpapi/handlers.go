package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
)

// ImportAPI is the import surface the handlers expose over HTTP.
type ImportAPI interface {
	CreateJob(ctx context.Context, filename string) (*model.ImportJob, error)
	ProcessChunk(ctx context.Context, req model.ChunkRequest) (*model.ChunkResult, error)
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
}

// RunAPI drives a whole-file import.
type RunAPI interface {
	Run(ctx context.Context, csvText string, mapping model.ColumnMapping, filename string, onProgress func(model.ChunkResult)) (*model.ImportJob, error)
}

// InviteAPI is the invitation surface the handlers expose over HTTP.
type InviteAPI interface {
	BulkInvite(ctx context.Context, req model.InviteRequest) (*model.InviteResult, error)
	SeatUsageFor(ctx context.Context, requested int) (model.SeatUsage, error)
}

// ImportHandler serves the import endpoints.
type ImportHandler struct {
	imports      ImportAPI
	orchestrator RunAPI
}

// NewImportHandler creates an import handler.
func NewImportHandler(imports ImportAPI, orchestrator RunAPI) *ImportHandler {
	return &ImportHandler{imports: imports, orchestrator: orchestrator}
}

type createJobRequest struct {
	Filename string `json:"filename"`
}

type runImportRequest struct {
	CsvData        string            `json:"csvData"`
	ColumnMappings map[string]string `json:"columnMappings"`
	Filename       string            `json:"filename"`
}

// CreateJob handles POST /api/v1/imports.
func (h *ImportHandler) CreateJob(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	job, err := h.imports.CreateJob(c.Request().Context(), req.Filename)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, apiResponse{Data: job})
}

// SubmitChunk handles POST /api/v1/imports/:id/chunks. The path parameter is
// authoritative for the job ID.
func (h *ImportHandler) SubmitChunk(c echo.Context) error {
	var req model.ChunkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}
	req.ImportJobID = c.Param("id")

	result, err := h.imports.ProcessChunk(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: result})
}

// RunImport handles POST /api/v1/imports/run.
func (h *ImportHandler) RunImport(c echo.Context) error {
	var req runImportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	job, err := h.orchestrator.Run(c.Request().Context(), req.CsvData,
		model.ColumnMapping(req.ColumnMappings), req.Filename, nil)
	if err != nil {
		// A failed run may still carry a partially processed job snapshot.
		status, body := mapError(err)
		return c.JSON(status, apiResponse{Data: job, Error: &body})
	}
	return c.JSON(http.StatusOK, apiResponse{Data: job})
}

// GetJob handles GET /api/v1/imports/:id.
func (h *ImportHandler) GetJob(c echo.Context) error {
	job, err := h.imports.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: job})
}

// ErrorReport handles GET /api/v1/imports/:id/errors.csv.
func (h *ImportHandler) ErrorReport(c echo.Context) error {
	job, err := h.imports.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	report, err := usecase.ErrorReportCSV(job)
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="import-%s-errors.csv"`, job.ID))
	return c.Blob(http.StatusOK, "text/csv", report)
}

// SuggestMapping handles GET /api/v1/imports/mappings/suggest?headers=a,b,c.
func (h *ImportHandler) SuggestMapping(c echo.Context) error {
	raw := c.QueryParam("headers")
	if strings.TrimSpace(raw) == "" {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "headers query parameter is required",
		}})
	}

	headers := strings.Split(raw, ",")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	return c.JSON(http.StatusOK, apiResponse{Data: model.SuggestMapping(headers)})
}

// InvitationHandler serves the invitation endpoints.
type InvitationHandler struct {
	invites InviteAPI
}

// NewInvitationHandler creates an invitation handler.
func NewInvitationHandler(invites InviteAPI) *InvitationHandler {
	return &InvitationHandler{invites: invites}
}

// BulkInvite handles POST /api/v1/invitations.
func (h *InvitationHandler) BulkInvite(c echo.Context) error {
	var req model.InviteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	result, err := h.invites.BulkInvite(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, apiResponse{Data: result})
}

// SeatUsage handles GET /api/v1/invitations/usage?requested=N.
func (h *InvitationHandler) SeatUsage(c echo.Context) error {
	requested := 0
	if raw := c.QueryParam("requested"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "bad_request",
				Message: "requested must be a non-negative integer",
			}})
		}
		requested = n
	}

	usage, err := h.invites.SeatUsageFor(c.Request().Context(), requested)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, apiResponse{Data: usage})
}

func respondError(c echo.Context, err error) error {
	status, body := mapError(err)
	return c.JSON(status, apiResponse{Error: &body})
}
