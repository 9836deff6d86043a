package demoapi

import (
	"html/template"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, app *App) {
	r.GET("/", app.Root)
	r.GET("/health", app.Health)

	api := r.Group("/api")
	{
		api.GET("/hello", app.Hello)
		api.GET("/status", app.Status)
		api.GET("/protected", app.Protected)
		api.POST("/echo", app.Echo)
	}

	r.GET("/openapi.json", routeDocument(r))
	r.GET("/docs", routePage(r, "API Documentation"))
	r.GET("/redoc", routePage(r, "ReDoc API Docs"))
	r.NoRoute(app.NotFound)
}

type routeEntry struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func listRoutes(r *gin.Engine) []routeEntry {
	routes := r.Routes()
	out := make([]routeEntry, 0, len(routes))
	for _, route := range routes {
		out = append(out, routeEntry{Method: route.Method, Path: route.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func routeDocument(r *gin.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":   "Demo API",
			"version": Version,
			"routes":  listRoutes(r),
		})
	}
}

var routePageTmpl = template.Must(template.New("routes").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>Version {{.Version}}</p><ul>
{{range .Routes}}<li><code>{{.Method}} {{.Path}}</code></li>
{{end}}</ul></body></html>`))

func routePage(r *gin.Engine, title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		_ = routePageTmpl.Execute(c.Writer, map[string]any{
			"Title":   title,
			"Version": Version,
			"Routes":  listRoutes(r),
		})
	}
}
