package certificate

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mccd/mccd/internal/platform/auth"
	"github.com/mccd/mccd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/certificates", h.ListCertificates)
	read.GET("/certificates/:id", h.GetCertificate)
	read.GET("/certificates/:id/audit", h.GetAuditTrail)
	read.POST("/certificates/:id/pdf-generated", h.PDFGenerated)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/certificates", h.SaveCertificate)
}

// SaveRequest is the body of POST /certificates.
type SaveRequest struct {
	Record Record `json:"record"`
	SaveOptions
}

// StatusForKind maps a failed save to its HTTP status.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindLocked:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RequestContext attaches the client details of c to the request context.
func RequestContext(c echo.Context) context.Context {
	return WithClient(c.Request().Context(), ClientInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	})
}

func (h *Handler) SaveCertificate(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := h.svc.Save(RequestContext(c), req.Record, req.SaveOptions)
	if !res.Success {
		return c.JSON(StatusForKind(res.Kind), res)
	}
	if req.IsEditMode && req.CertificateID != nil {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// canView reports whether the caller may read c. Doctors see only the
// certificates they created; registry and department roles see all.
func canView(ctx context.Context, c *Certificate) bool {
	roles := auth.RolesFromContext(ctx)
	if auth.HasAnyRole(roles, auth.RoleAdmin, auth.RoleBirthDeathRegistry,
		auth.RoleHealthDepartment, auth.RoleHealthInformationProfessional) {
		return true
	}
	return auth.UserIDFromContext(ctx) == c.CreatedByID.String()
}

func (h *Handler) load(c echo.Context) (*Certificate, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cert, err := h.svc.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "certificate not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !canView(ctx, cert) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "certificate not found")
	}
	return cert, nil
}

func (h *Handler) GetCertificate(c echo.Context) error {
	cert, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cert)
}

func (h *Handler) ListCertificates(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}

	if s := c.QueryParam("status"); s != "" {
		f.Status = Status(s)
		if !f.Status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be draft or submitted")
		}
	}
	if !auth.HasAnyRole(auth.RolesFromContext(ctx), auth.RoleAdmin, auth.RoleBirthDeathRegistry,
		auth.RoleHealthDepartment, auth.RoleHealthInformationProfessional) {
		uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		f.CreatedBy = &uid
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	cert, err := h.load(c)
	if err != nil {
		return err
	}
	items, err := h.svc.AuditTrail(c.Request().Context(), cert.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// PDFGenerated is called by the document renderer after it produced a
// document for a submitted certificate. The audit middleware records it.
func (h *Handler) PDFGenerated(c echo.Context) error {
	cert, err := h.load(c)
	if err != nil {
		return err
	}
	if cert.Status != StatusSubmitted {
		return echo.NewHTTPError(http.StatusConflict, "only submitted certificates can be rendered")
	}
	return c.NoContent(http.StatusNoContent)
}
