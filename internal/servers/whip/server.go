// Package whip contains the client-facing WHIP server.
package whip

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/whipgate/internal/auth"
	"github.com/bluenviron/whipgate/internal/ingest"
	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/httpp"
	"github.com/bluenviron/whipgate/internal/protocols/whip"
	"github.com/bluenviron/whipgate/internal/registry"
)

type apiError struct {
	Error string `json:"error"`
}

func writeError(ctx *gin.Context, statusCode int, err error) {
	ctx.JSON(statusCode, &apiError{
		Error: err.Error(),
	})
}

func errorStatus(err error) int {
	var aerr auth.Error
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrConflict), errors.As(err, &aerr):
		return http.StatusForbidden
	case errors.Is(err, ingest.ErrUnsupportedMedia):
		return http.StatusNotAcceptable
	case errors.Is(err, ingest.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ingest.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrTrickleDisabled):
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

// Server is the client-facing WHIP server.
type Server struct {
	Address      string
	Encryption   bool
	ServerKey    string
	ServerCert   string
	AllowOrigin  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BasePath     string
	Controller   *ingest.Controller
	Registry     *registry.Registry
	Parent       logger.Writer

	httpServer  *httpp.Server
	reEndpoint  *regexp.Regexp
	reResource  *regexp.Regexp
	healthcheck string
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	s.reEndpoint = regexp.MustCompile("^" + regexp.QuoteMeta(s.BasePath) + "/endpoint/([A-Za-z0-9_-]+)$")
	s.reResource = regexp.MustCompile("^" + regexp.QuoteMeta(s.BasePath) + "/resource/([A-Za-z0-9]+)$")
	s.healthcheck = s.BasePath + "/healthcheck"

	router := gin.New()
	router.Use(s.middlewareOrigin)
	router.NoRoute(s.onRequest)

	s.httpServer = &httpp.Server{
		Address:      s.Address,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Encryption:   s.Encryption,
		ServerCert:   s.ServerCert,
		ServerKey:    s.ServerKey,
		Handler:      router,
		Parent:       s,
	}
	err := s.httpServer.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", s.Address)
	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[WHIP] "+format, args...)
}

// Close closes the server.
func (s *Server) Close() {
	s.httpServer.Close()
}

// BoundAddress returns the address the listener is bound to.
func (s *Server) BoundAddress() string {
	return s.httpServer.BoundAddress()
}

func (s *Server) middlewareOrigin(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", s.AllowOrigin)
	ctx.Header("Access-Control-Allow-Credentials", "true")
}

func (s *Server) onRequest(ctx *gin.Context) {
	if ctx.Request.URL.Path == s.healthcheck {
		if ctx.Request.Method == http.MethodGet {
			ctx.Status(http.StatusOK)
		}
		return
	}

	if m := s.reEndpoint.FindStringSubmatch(ctx.Request.URL.Path); m != nil {
		switch ctx.Request.Method {
		case http.MethodOptions:
			s.onOptions(ctx, m[1])

		case http.MethodPost:
			s.onPublish(ctx, m[1])

		default:
			// RFC 9725: endpoints MUST return 405 to any GET, HEAD
			// or PUT request
			writeError(ctx, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		}
		return
	}

	if m := s.reResource.FindStringSubmatch(ctx.Request.URL.Path); m != nil {
		switch ctx.Request.Method {
		case http.MethodOptions:
			ctx.Header("Access-Control-Allow-Methods", "OPTIONS, PATCH, DELETE")
			ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match")
			ctx.Status(http.StatusNoContent)

		case http.MethodPatch:
			s.onPatch(ctx, m[1])

		case http.MethodDelete:
			s.onDelete(ctx, m[1])

		default:
			writeError(ctx, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		}
		return
	}

	ctx.Status(http.StatusNotFound)
}

// onOptions handles the CORS preflight and advertises the ICE
// servers. It never fails: on authorization failure the Link headers
// are simply dropped.
func (s *Server) onOptions(ctx *gin.Context, endpointID string) {
	ctx.Header("Access-Control-Allow-Methods", "OPTIONS, POST, PATCH, DELETE")
	ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match")
	ctx.Header("Access-Control-Expose-Headers", "Link")

	e, ok := s.Registry.Get(endpointID)
	if ok {
		err := auth.Authenticate(e.Token, ctx.Request.Header.Get("Authorization"))
		if err == nil {
			links := whip.LinkHeaderMarshal(s.Controller.AdvertisedICEServers(e))
			if len(links) != 0 {
				ctx.Writer.Header()["Link"] = links
			}
		}
	}

	ctx.Status(http.StatusNoContent)
}

func (s *Server) onPublish(ctx *gin.Context, endpointID string) {
	contentType := httpp.ParseContentType(ctx.Request.Header.Get("Content-Type"))
	if contentType != "application/sdp" {
		writeError(ctx, http.StatusNotAcceptable, errors.New("invalid Content-Type"))
		return
	}

	offer, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		writeError(ctx, http.StatusBadRequest, err)
		return
	}

	res, err := s.Controller.Publish(ctx.Request.Context(), endpointID,
		ctx.Request.Header.Get("Authorization"), offer)
	if err != nil {
		writeError(ctx, errorStatus(err), err)
		return
	}

	ctx.Header("Content-Type", "application/sdp")
	ctx.Header("Access-Control-Expose-Headers", "Location, Link")
	ctx.Header("ETag", "\""+res.ETag+"\"")
	ctx.Header("Accept-Patch", "application/trickle-ice-sdpfrag")
	ctx.Header("Location", s.BasePath+"/resource/"+res.ResourceID)
	if links := whip.LinkHeaderMarshal(res.ICEServers); len(links) != 0 {
		ctx.Writer.Header()["Link"] = links
	}
	ctx.Writer.WriteHeader(http.StatusCreated)
	ctx.Writer.WriteString(res.Answer) //nolint:errcheck
}

func (s *Server) onPatch(ctx *gin.Context, resourceID string) {
	contentType := httpp.ParseContentType(ctx.Request.Header.Get("Content-Type"))
	if contentType != "application/trickle-ice-sdpfrag" {
		writeError(ctx, http.StatusNotAcceptable, errors.New("invalid Content-Type"))
		return
	}

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		writeError(ctx, http.StatusBadRequest, err)
		return
	}

	res, err := s.Controller.Patch(ctx.Request.Context(), resourceID,
		ctx.Request.Header.Get("Authorization"),
		ctx.Request.Header.Get("If-Match"), body)
	if err != nil {
		writeError(ctx, errorStatus(err), err)
		return
	}

	ctx.Header("ETag", "\""+res.ETag+"\"")

	if !res.Restart {
		ctx.Status(http.StatusNoContent)
		return
	}

	ctx.Header("Content-Type", "application/trickle-ice-sdpfrag")
	ctx.Writer.WriteHeader(http.StatusOK)
	ctx.Writer.Write(res.Body) //nolint:errcheck
}

func (s *Server) onDelete(ctx *gin.Context, resourceID string) {
	err := s.Controller.Teardown(ctx.Request.Context(), resourceID,
		ctx.Request.Header.Get("Authorization"))
	if err != nil {
		writeError(ctx, errorStatus(err), err)
		return
	}

	ctx.Status(http.StatusOK)
}
