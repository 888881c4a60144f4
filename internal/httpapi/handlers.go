package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"syncd/internal/job"
	"syncd/internal/storage"
	"syncd/internal/task/engine"
	logx "syncd/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
}

type enqueueBody struct {
	Priority string `json:"priority"`
	Source   string `json:"source"`
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) health(c echo.Context) error {
	qs := s.api.QueueStatus()
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"running": qs.Running,
		"pending": len(qs.Pending),
	})
}

func (s *Server) listRuns(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest("limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := s.api.JobStatus(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) listSchedules(c echo.Context) error {
	list, err := s.api.JobSchedules(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) updateSchedule(c echo.Context) error {
	var p job.SchedulePatch
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("decode patch: %v", err)
	}
	if p.IsEmpty() {
		return badRequest("patch has no fields")
	}
	sc, err := s.api.UpdateJobSchedule(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (s *Server) resetSchedules(c echo.Context) error {
	n, err := s.api.ResetToDefaultSchedules(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"corrected": n})
}

func (s *Server) cleanupSchedules(c echo.Context) error {
	rep, err := s.api.CleanupDuplicateSchedules(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) queueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.api.QueueStatus())
}

func (s *Server) runJob(c echo.Context) error {
	t, err := job.ParseType(c.Param("type"))
	if err != nil {
		return err
	}
	src := job.SourceOnline
	if raw := c.QueryParam("source"); raw != "" {
		if src, err = job.ParseSource(raw); err != nil {
			return badRequest("%v", err)
		}
	}
	it, err := s.api.RunManualJob(c.Request().Context(), t, src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, it)
}

func (s *Server) enqueueJob(c echo.Context) error {
	t, err := job.ParseType(c.Param("type"))
	if err != nil {
		return err
	}
	var body enqueueBody
	if err := c.Bind(&body); err != nil {
		return badRequest("decode body: %v", err)
	}
	var p job.Priority
	if strings.TrimSpace(body.Priority) != "" {
		if p, err = job.ParsePriority(body.Priority); err != nil {
			return err
		}
	}
	var src job.Source
	if strings.TrimSpace(body.Source) != "" {
		if src, err = job.ParseSource(body.Source); err != nil {
			return badRequest("%v", err)
		}
	}
	it, err := s.api.AddManualJob(c.Request().Context(), t, p, src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, it)
}

func (s *Server) automationStatus(c echo.Context) error {
	st, err := s.api.AutomationStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, job.ErrUnknownType),
		errors.Is(err, job.ErrUnknownPriority),
		errors.Is(err, job.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrCoalesced), errors.Is(err, engine.ErrStopped):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("http handler failed", logx.String("path", c.Path()), logx.Err(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorBody{Error: msg})
	}
	if err != nil {
		s.log.Warn("write error response", logx.Err(err))
	}
}
