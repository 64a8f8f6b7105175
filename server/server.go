// Package server exposes uploads, translation jobs, progress, history and
// downloads over HTTP. The browser uploads a document, starts a job, then
// polls either the job or its session progress file until the output is
// ready for download.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/history"
	"github.com/minios-linux/doctrans/lockfile"
	"github.com/minios-linux/doctrans/progress"
	"github.com/minios-linux/doctrans/translate"
)

// Jobs runs translation jobs. *translate.Manager implements it.
type Jobs interface {
	Submit(ctx context.Context, sub translate.Submission) (string, error)
	Status(ctx context.Context, id string) (*translate.Status, error)
	Cancel(id string) error
}

// Glossaries lists provider glossaries. *deepl.Client implements it.
type Glossaries interface {
	ListGlossaries(ctx context.Context) ([]deepl.Glossary, error)
}

// Options configures a Server.
type Options struct {
	UploadsDir   string
	DownloadsDir string
	// MaxBytes limits uploads. Default: 20 MiB.
	MaxBytes int64
	// PricePerMillion and Currency price upload estimates.
	PricePerMillion float64
	Currency        string
	// Version is reported by /healthz.
	Version string
}

// Deps are the collaborators of a Server. Jobs is required.
type Deps struct {
	Jobs       Jobs
	Estimator  translate.Estimator
	Glossaries Glossaries
	History    *history.Ledger
	Progress   *progress.FileStore
	Results    *lockfile.LockFile
}

// Server is the HTTP API.
type Server struct {
	opts Options
	deps Deps
	echo *echo.Echo
	now  func() time.Time
}

// New builds the server and registers its routes.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Jobs == nil {
		return nil, errors.New("server: job runner is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(log.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
			} else {
				entry.Debug("Request")
			}
			return nil
		},
	}))

	s := &Server{opts: opts, deps: deps, echo: e, now: time.Now}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo

	api := e.Group("/api")
	api.POST("/uploads", s.upload, middleware.BodyLimit(bodyLimit(s.opts.MaxBytes)))
	api.POST("/translations", s.submit)
	api.GET("/translations/:id", s.status)
	api.DELETE("/translations/:id", s.cancel)
	api.GET("/progress/:session", s.progress)
	api.GET("/glossaries", s.glossaries)
	api.GET("/history", s.history)
	api.DELETE("/files/:name", s.purge)

	e.GET("/downloads/:name", s.download)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": s.opts.Version,
		})
	})
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.WithField("addr", addr).Info("Starting HTTP server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// bodyLimit leaves room for the multipart envelope around the file.
func bodyLimit(maxBytes int64) string {
	return strconv.FormatInt((maxBytes+1<<20)/1024, 10) + "K"
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

func fileExists(dir, name string) bool {
	st, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !st.IsDir()
}
