// Package web serves the story browser: catalog cards with posters and
// endpoints to generate, stream and revise stories.
package web

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sealor/storyteller/pkg/studio"
)

//go:embed templates/*.html
var templates embed.FS

type renderer struct {
	tmpl *template.Template
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// New creates the HTTP server of the story browser.
func New(st *studio.Studio, log *zap.Logger) *echo.Echo {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = &renderer{tmpl: template.Must(template.ParseFS(templates, "templates/*.html"))}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error),
			)
			return nil
		},
	}))

	NewHandler(st, log).RegisterRoutes(e)
	return e
}
