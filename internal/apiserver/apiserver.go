// Package apiserver exposes a running flash session over a loopback HTTP
// API, so a TUI or a remote dashboard can follow progress without sharing
// process memory with the session itself.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dnx/internal/session"
)

// eventBufferSize bounds how many recent events /api/v1/events replays; a
// slow or absent poller must never make the session's own Notify block,
// so the HTTP layer keeps only a bounded trailing window instead of
// accumulating every event for the life of the flash.
const eventBufferSize = 256

// Server owns the HTTP listener and the bounded event queue fed by a
// session's Observer callback.
type Server struct {
	httpSrv *http.Server

	mu         sync.Mutex
	events     []session.Event
	state      string
	cancelled  bool
	lastError  *session.ErrorEvent
	bytesTotal int64
	cancel     *session.CancelFlag
}

// New builds a Server bound to addr (e.g. "127.0.0.1:8086") and cancel,
// the same CancelFlag the session was constructed with, so /api/v1/cancel
// can request a stop.
func New(addr string, cancel *session.CancelFlag) *Server {
	s := &Server{state: "Invalid", cancel: cancel}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/progress", s.handleProgress)
		api.GET("/events", s.handleEvents)
		api.POST("/cancel", s.handleCancel)
	}

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Observer returns the session.Observer this server subscribes as. Wire
// it into session.Config.Observers.
func (s *Server) Observer() session.Observer {
	return session.ObserverFunc(s.record)
}

func (s *Server) record(e session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	if len(s.events) > eventBufferSize {
		s.events = s.events[len(s.events)-eventBufferSize:]
	}

	switch ev := e.(type) {
	case session.StateChangedEvent:
		s.state = ev.To
	case session.ProgressEvent:
		s.bytesTotal = ev.Current
	case session.ErrorEvent:
		s.lastError = &ev
		s.bytesTotal = ev.BytesTransferred
	case session.CompleteEvent:
		s.state = "Complete"
	}
}

// Serve starts the HTTP listener in the background and blocks until ctx
// is cancelled, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status           string `json:"status"`
	State            string `json:"state"`
	BytesTransferred int64  `json:"bytes_transferred"`
	Cancelled        bool   `json:"cancelled"`
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	status := "running"
	if s.lastError != nil {
		status = "errored"
	}
	if s.state == "Complete" {
		status = "complete"
	}
	resp := healthResponse{
		Status:           status,
		State:            s.state,
		BytesTransferred: s.bytesTotal,
		Cancelled:        s.cancelled,
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

type progressResponse struct {
	State            string               `json:"state"`
	BytesTransferred int64                `json:"bytes_transferred"`
	LastError        *session.ErrorEvent `json:"last_error,omitempty"`
}

func (s *Server) handleProgress(c *gin.Context) {
	s.mu.Lock()
	resp := progressResponse{State: s.state, BytesTransferred: s.bytesTotal, LastError: s.lastError}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvents(c *gin.Context) {
	s.mu.Lock()
	out := make([]session.Event, len(s.events))
	copy(out, s.events)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleCancel(c *gin.Context) {
	if s.cancel == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cancellable session attached"})
		return
	}
	s.cancel.Cancel()

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

// Addr reports the address the server was configured to listen on; useful
// when addr was passed as ":0" and the caller needs the resolved port.
func (s *Server) Addr() string { return s.httpSrv.Addr }

func (s *Server) String() string {
	return fmt.Sprintf("apiserver(%s)", s.httpSrv.Addr)
}
