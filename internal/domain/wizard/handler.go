package wizard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mccd/mccd/internal/domain/certificate"
	"github.com/mccd/mccd/internal/platform/auth"
)

type Handler struct {
	sessions *Sessions
}

func NewHandler(sessions *Sessions) *Handler {
	return &Handler{sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/wizard/sessions", auth.RequireRole(auth.WriteRoles...))
	g.POST("", h.OpenSession)
	g.GET("/:sid", h.GetSession)
	g.DELETE("/:sid", h.CloseSession)
	g.POST("/:sid/steps/:step", h.SubmitStep)
	g.POST("/:sid/steps/:step/clear", h.ClearStep)
	g.PUT("/:sid/step", h.SetStep)
	g.POST("/:sid/slots/:group", h.AddSlot)
	g.DELETE("/:sid/slots/:group/:key", h.RemoveSlot)
	g.POST("/:sid/draft", h.SaveDraft)
	g.POST("/:sid/submit", h.Submit)
	g.POST("/:sid/navigate", h.Navigate)
	g.POST("/:sid/navigate/resolve", h.ResolveNavigation)
}

func owner(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	uid, err := owner(c)
	if err != nil {
		return nil, err
	}
	sid, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	s, err := h.sessions.Get(uid, sid)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return s, nil
}

func stepParam(c echo.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid step")
	}
	return n, nil
}

func stepError(err error) error {
	if errors.Is(err, ErrInvalidStep) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type openRequest struct {
	CertificateID *uuid.UUID `json:"certificate_id"`
}

// OpenSession starts a wizard for a new certificate or an existing one.
// A certificate that can no longer be edited gets 423 with its locked view.
func (h *Handler) OpenSession(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s, locked, err := h.sessions.Open(c.Request().Context(), uid, req.CertificateID)
	switch {
	case errors.Is(err, certificate.ErrLocked):
		return c.JSON(http.StatusLocked, locked)
	case errors.Is(err, certificate.ErrNotFound), errors.Is(err, certificate.ErrForbidden):
		return echo.NewHTTPError(http.StatusNotFound, "certificate not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, s.View())
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) CloseSession(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	sid, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if err := h.sessions.Close(uid, sid); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// SubmitStep validates the step's values. Field errors are 422 and leave
// the session as it was.
func (h *Handler) SubmitStep(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	n, err := stepParam(c)
	if err != nil {
		return err
	}
	var values certificate.Record
	if err := c.Bind(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	errs, err := s.SubmitStep(n, values)
	if err != nil {
		return stepError(err)
	}
	if len(errs) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"errors": errs})
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) ClearStep(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	n, err := stepParam(c)
	if err != nil {
		return err
	}
	if err := s.ClearStep(n); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

type setStepRequest struct {
	Step int `json:"step"`
}

func (h *Handler) SetStep(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req setStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.SetStep(req.Step); err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) AddSlot(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	key, added, err := s.AddSlot(c.Param("group"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":     key,
		"added":   added,
		"session": s.View(),
	})
}

func (h *Handler) RemoveSlot(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	removed, err := s.RemoveSlot(c.Param("group"), c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": removed,
		"session": s.View(),
	})
}

type draftRequest struct {
	Step   int                `json:"step"`
	Record certificate.Record `json:"record"`
}

func saveResponse(c echo.Context, res certificate.SaveResult, err error) error {
	if errors.Is(err, ErrSaveInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return stepError(err)
	}
	if !res.Success {
		return c.JSON(certificate.StatusForKind(res.Kind), res)
	}
	return c.JSON(http.StatusOK, res)
}

// SaveDraft saves the accumulated record plus the current step's unvalidated
// values as a draft.
func (h *Handler) SaveDraft(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step == 0 {
		req.Step = s.View().CurrentStep
	}
	res, err := s.SaveDraft(certificate.RequestContext(c), req.Step, req.Record)
	return saveResponse(c, res, err)
}

func (h *Handler) Submit(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	res, err := s.Submit(certificate.RequestContext(c))
	return saveResponse(c, res, err)
}

type navigateRequest struct {
	Target string `json:"target"`
}

func (h *Handler) Navigate(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req navigateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"decision": s.Navigate(req.Target),
		"target":   req.Target,
	})
}

type resolveRequest struct {
	Choice Choice `json:"choice"`
}

func (h *Handler) ResolveNavigation(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, proceed, err := s.ResolveNavigation(req.Choice)
	if errors.Is(err, ErrNoPendingNavigation) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"proceed": proceed,
		"target":  target,
	})
}
