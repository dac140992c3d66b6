// Package api contains the control API server.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/whipgate/internal/conf"
	"github.com/bluenviron/whipgate/internal/ingest"
	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/httpp"
	"github.com/bluenviron/whipgate/internal/registry"
)

type apiError struct {
	Error string `json:"error"`
}

type apiInfo struct {
	Version string    `json:"version"`
	Started time.Time `json:"started"`
}

type apiEndpointList struct {
	ItemCount int             `json:"itemCount"`
	Items     []registry.Info `json:"items"`
}

// API is the control API server.
type API struct {
	Version      string
	Started      time.Time
	Address      string
	Encryption   bool
	ServerKey    string
	ServerCert   string
	AllowOrigin  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Token        string
	AdminKey     string
	Controller   *ingest.Controller
	Registry     *registry.Registry
	Parent       logger.Writer

	httpServer *httpp.Server
}

// Initialize initializes the API.
func (a *API) Initialize() error {
	router := gin.New()

	router.Use(a.middlewarePreflightRequests)
	router.Use(a.middlewareAuth)

	group := router.Group("/v1")

	group.GET("/info", a.onInfo)

	group.GET("/endpoints/list", a.onEndpointsList)
	group.GET("/endpoints/get/:id", a.onEndpointsGet)
	group.POST("/endpoints/add/:id", a.onEndpointsAdd)
	group.DELETE("/endpoints/delete/:id", a.onEndpointsDelete)

	a.httpServer = &httpp.Server{
		Address:      a.Address,
		ReadTimeout:  a.ReadTimeout,
		WriteTimeout: a.WriteTimeout,
		Encryption:   a.Encryption,
		ServerCert:   a.ServerCert,
		ServerKey:    a.ServerKey,
		Handler:      router,
		Parent:       a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on "+a.Address)

	return nil
}

// Close closes the API.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...interface{}) {
	a.Parent.Log(level, "[API] "+format, args...)
}

func (a *API) writeError(ctx *gin.Context, status int, err error) {
	// show error in logs
	a.Log(logger.Error, err.Error())

	// add error to response
	ctx.JSON(status, &apiError{
		Error: err.Error(),
	})
}

func (a *API) middlewarePreflightRequests(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", a.AllowOrigin)

	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET, POST, DELETE")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

func (a *API) middlewareAuth(ctx *gin.Context) {
	if a.Token == "" {
		return
	}

	if ctx.Request.Header.Get("Authorization") != "Bearer "+a.Token {
		a.Log(logger.Info, "connection %s failed to authenticate", ctx.ClientIP())
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, &apiError{
			Error: "authentication error",
		})
		return
	}
}

func (a *API) onInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &apiInfo{
		Version: a.Version,
		Started: a.Started,
	})
}

func (a *API) onEndpointsList(ctx *gin.Context) {
	items := a.Registry.List()

	ctx.JSON(http.StatusOK, &apiEndpointList{
		ItemCount: len(items),
		Items:     items,
	})
}

func (a *API) onEndpointsGet(ctx *gin.Context) {
	info, ok := a.Registry.GetInfo(ctx.Param("id"))
	if !ok {
		a.writeError(ctx, http.StatusNotFound, registry.ErrEndpointNotFound)
		return
	}

	ctx.JSON(http.StatusOK, &info)
}

func (a *API) onEndpointsAdd(ctx *gin.Context) {
	id := ctx.Param("id")

	var cnf conf.Endpoint
	err := ctx.ShouldBindJSON(&cnf)
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	err = cnf.Validate(id)
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	e := registry.NewFromConf(id, &cnf, a.AdminKey)

	err = a.Registry.Create(e)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrEndpointExists) {
			status = http.StatusConflict
		}
		a.writeError(ctx, status, err)
		return
	}

	a.Log(logger.Info, "endpoint %s created", id)

	info, _ := a.Registry.GetInfo(id)
	ctx.JSON(http.StatusCreated, &info)
}

func (a *API) onEndpointsDelete(ctx *gin.Context) {
	id := ctx.Param("id")

	err := a.Controller.DestroyEndpoint(ctx.Request.Context(), id)
	if err != nil {
		a.writeError(ctx, http.StatusNotFound, err)
		return
	}

	a.Log(logger.Info, "endpoint %s destroyed", id)

	ctx.Status(http.StatusOK)
}
