package demoapi

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// App holds what the handlers need.
type App struct {
	Environment string
	Now         func() time.Time
}

// NewApp returns an App for environment using the wall clock.
func NewApp(environment string) *App {
	return &App{Environment: environment, Now: time.Now}
}

// NewEngine builds the gin engine with every route and middleware installed.
func NewEngine(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.CustomRecovery(app.handlePanic), requestID(), cors())
	Register(r, app)
	return r
}

func (a *App) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Demo API is running",
		"version":     Version,
		"environment": a.Environment,
		"docs":        "/docs",
		"redoc":       "/redoc",
	})
}

func (a *App) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"environment": a.Environment,
		"version":     Version,
	})
}

func (a *App) Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Hello from the demo API!",
		"timestamp": a.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Status reports the serving process. python_version is the wire name the
// front-end expects; it carries the Go runtime version here.
func (a *App) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_status":     "operational",
		"python_version": runtime.Version(),
		"platform":       runtime.GOOS + "/" + runtime.GOARCH,
		"environment":    a.Environment,
	})
}

// Protected is a placeholder; no authentication is enforced.
func (a *App) Protected(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "This is a protected route!"})
}

func (a *App) Echo(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received": body,
		"message":  "Data received successfully!",
	})
}

// NotFound reports the full request URL, scheme and host included.
func (a *App) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"message": "Endpoint not found",
		"path":    requestURL(c.Request),
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

func (a *App) handlePanic(c *gin.Context, err any) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"message": "Internal server error",
		"detail":  fmt.Sprint(err),
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// cors allows any origin, matching a starter stack where the front-end runs
// on its own port.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
