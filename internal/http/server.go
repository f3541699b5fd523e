package http

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server envuelve http.Server con los timeouts del control API.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start bloquea sirviendo requests. El cierre ordenado vía Shutdown no se
// reporta como error.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drena las conexiones en curso hasta que ctx expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
