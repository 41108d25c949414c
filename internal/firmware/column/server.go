package column

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/protocol"
)

// Server is the column's synchronous command endpoint. Every request round-
// trips through the control loop, which services one command per cycle, so
// requests are naturally serialized even though gin itself is concurrent.
type Server struct {
	loop    *Loop
	timeout time.Duration
}

// NewServer builds the command endpoint around the loop.
func NewServer(loop *Loop, timeout time.Duration) *Server {
	return &Server{loop: loop, timeout: timeout}
}

// Router returns the gin engine serving the command API.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.status)
		comp := v1.Group("/compartments/:index")
		{
			comp.POST("/unlock", s.unlock)
			comp.POST("/lock", s.lock)
			comp.POST("/outputs", s.setOutput)
			comp.POST("/jog", s.jog)
			comp.POST("/sanitize", s.sanitize)
			comp.POST("/clear-fault", s.clearFault)
		}
	}
	return router
}

func (s *Server) status(c *gin.Context) {
	s.run(c, StatusCommand{})
}

func (s *Server) unlock(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}
	s.run(c, UnlockCommand{Compartment: index})
}

func (s *Server) lock(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}
	s.run(c, LockCommand{Compartment: index})
}

func (s *Server) setOutput(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}

	var req protocol.SetOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.run(c, SetOutputCommand{
		Compartment: index,
		Output:      compartment.OutputName(req.Output),
		On:          req.On,
	})
}

func (s *Server) jog(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}

	var req protocol.JogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.run(c, JogCommand{
		Compartment: index,
		Steps:       req.Steps,
		Open:        req.Direction == "open",
	})
}

func (s *Server) sanitize(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}

	var req protocol.SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.run(c, SanitizeCommand{
		Compartment: index,
		Duration:    time.Duration(req.DurationMs) * time.Millisecond,
	})
}

func (s *Server) clearFault(c *gin.Context) {
	index, ok := s.index(c)
	if !ok {
		return
	}
	s.run(c, ClearFaultCommand{Compartment: index})
}

func (s *Server) run(c *gin.Context, cmd Command) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	statuses, err := s.loop.Execute(ctx, cmd)
	if err != nil {
		c.JSON(statusFor(err), protocol.CommandResponse{
			Error:        err.Error(),
			Compartments: statuses,
		})
		return
	}

	c.JSON(http.StatusOK, protocol.CommandResponse{
		OK:           true,
		Compartments: statuses,
	})
}

func (s *Server) index(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.reject(c, http.StatusBadRequest, "invalid compartment index")
		return 0, false
	}
	return index, true
}

func (s *Server) reject(c *gin.Context, status int, msg string) {
	c.JSON(status, protocol.CommandResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoSuchCompartment):
		return http.StatusNotFound
	case errors.Is(err, compartment.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, compartment.ErrSafetyRejected),
		errors.Is(err, compartment.ErrObstructed),
		errors.Is(err, compartment.ErrNotClosed),
		errors.Is(err, compartment.ErrUnknownOutput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, compartment.ErrFaulted):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
