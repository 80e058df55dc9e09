package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/lwarden/fixcal/internal/calib"
	"github.com/lwarden/fixcal/internal/logger"
)

// Server serves the calibration API.
type Server struct {
	store  *RunStore
	runner CalibrationRunner
	log    logger.Logger
	clock  func() time.Time
}

func NewServer(store *RunStore, runner CalibrationRunner, log logger.Logger) *Server {
	if store == nil {
		store = NewRunStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		store:  store,
		runner: runner,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/calibrations", s.handleCreate)
	e.GET("/v1/calibrations", s.handleList)
	e.GET("/v1/calibrations/:id", s.handleGet)
	e.DELETE("/v1/calibrations/:id", s.handleDelete)
}

func (s *Server) handleCreate(c *echo.Context) error {
	if s.runner == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "calibration runner not configured", "", "")
	}
	req, err := decodeJSON[CalibrationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Model == "" {
		return writeBadRequest(c, "model is required")
	}
	if req.Weights == "" {
		return writeBadRequest(c, "weights is required")
	}
	if req.Data == "" {
		return writeBadRequest(c, "data is required")
	}
	applyRequestDefaults(&req)

	if req.Background {
		run := s.store.Create(req, StatusQueued, s.clock())
		go s.execute(context.Background(), run.ID, req)
		return c.JSON(http.StatusAccepted, run)
	}

	run := s.store.Create(req, StatusInProgress, s.clock())
	s.execute(c.Request().Context(), run.ID, req)
	finished, _ := s.store.Get(run.ID)
	return c.JSON(http.StatusOK, finished)
}

// execute runs one calibration and records its outcome.
func (s *Server) execute(ctx context.Context, id string, req CalibrationRequest) {
	s.store.Start(id)
	res, err := s.runner.Calibrate(ctx, &req)
	if err != nil {
		s.log.Error("calibration failed", "run", id, "error", err)
		s.store.Fail(id, err.Error())
		return
	}
	s.store.Complete(id, res)
}

func (s *Server) handleList(c *echo.Context) error {
	return c.JSON(http.StatusOK, CalibrationList{
		Object: "list",
		Data:   s.store.List(),
	})
}

func (s *Server) handleGet(c *echo.Context) error {
	id := c.Param("id")
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "calibration not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDelete(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "calibration not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"object":  "calibration",
		"deleted": true,
	})
}

func applyRequestDefaults(req *CalibrationRequest) {
	if req.TrimmingMode == "" {
		req.TrimmingMode = calib.TrimmingDynamicFixedPoint
	}
	if len(req.WeightBits) == 0 {
		req.WeightBits = []int{8}
	}
	if len(req.ActivationBits) == 0 {
		req.ActivationBits = []int{8}
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, fmt.Errorf("empty request body")
		}
		return v, fmt.Errorf("decode request: %w", err)
	}
	return v, nil
}
