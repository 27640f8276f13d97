package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/datastructures"
	"github.com/claritylab/claritylab/verdict"
)

// Classifier produces one verdict. *service.Service implements it.
type Classifier interface {
	Classify(ctx context.Context, req verdict.Request) (verdict.Verdict, error)
}

// Models reports the backend state. *backend.Registry implements it.
type Models interface {
	Loaded() (text bool, image bool)
	Models() (text *datastructures.ModelInfo, image *datastructures.ModelInfo)
}

type Server struct {
	classifier    Classifier
	models        Models
	maxUploadSize int64
}

type RateLimitConfig struct {
	Counter Counter
	Limit   int64
	Window  time.Duration
}

func NewRouter(s *Server, rateLimit *RateLimitConfig) *gin.Engine {
	router := gin.New()

	router.Use(RequestID())
	router.Use(Logger())
	router.Use(Recovery())
	router.Use(CORS())

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/models", s.listModels)
		if rateLimit != nil && rateLimit.Limit > 0 {
			v1.POST("/verdict", RateLimit(rateLimit.Counter, rateLimit.Limit, rateLimit.Window), s.postVerdict)
		} else {
			v1.POST("/verdict", s.postVerdict)
		}
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	text, image := s.models.Loaded()
	status := gin.H{"text": text, "image": image}
	if !text || !image {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    status,
			Error:   &ErrorInfo{Code: "NOT_READY", Message: "backends are not loaded yet"},
			Meta:    newMeta(c),
		})
		return
	}
	respondSuccess(c, http.StatusOK, status)
}

func (s *Server) listModels(c *gin.Context) {
	text, image := s.models.Models()
	respondSuccess(c, http.StatusOK, datastructures.ModelsResult{Text: text, Image: image})
}

func (s *Server) postVerdict(c *gin.Context) {
	req, status, err := s.readRequest(c)
	if err != nil {
		if status == http.StatusRequestEntityTooLarge {
			respondError(c, status, "PAYLOAD_TOO_LARGE", "the upload is too large")
			return
		}
		respondError(c, status, "INVALID_REQUEST", err.Error())
		return
	}

	v, err := s.classifier.Classify(c.Request.Context(), req)
	if err != nil {
		if verdict.IsOperational(err) {
			log.WithField("request_id", c.GetString(requestIDKey)).
				Error("[Verdict] Couldn't classify: ", err.Error())
			commons.ReportError(err, map[string]string{
				"code":       verdict.Code(err),
				"request_id": c.GetString(requestIDKey),
			})
		}
		handleVerdictError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, v.Result())
}

// readRequest accepts a JSON body with a text field, or a form with a text
// field and/or an image file.
func (s *Server) readRequest(c *gin.Context) (verdict.Request, int, error) {
	if s.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize)
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body datastructures.VerdictRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			if isTooLarge(err) {
				return verdict.Request{}, http.StatusRequestEntityTooLarge, err
			}
			if errors.Is(err, io.EOF) {
				return verdict.Request{}, 0, nil
			}
			return verdict.Request{}, http.StatusBadRequest, errors.New("malformed json body")
		}
		return verdict.Request{Text: body.Text}, 0, nil
	}

	if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if isTooLarge(err) {
			return verdict.Request{}, http.StatusRequestEntityTooLarge, err
		}
		return verdict.Request{}, http.StatusBadRequest, errors.New("malformed form")
	}

	req := verdict.Request{Text: c.PostForm("text")}

	header, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return req, 0, nil
		}
		return verdict.Request{}, http.StatusBadRequest, errors.New("image is missing")
	}
	file, err := header.Open()
	if err != nil {
		return verdict.Request{}, http.StatusBadRequest, errors.New("couldn't read image")
	}
	defer file.Close()

	req.Image, err = io.ReadAll(file)
	if err != nil {
		return verdict.Request{}, http.StatusBadRequest, errors.New("couldn't read image")
	}
	return req, 0, nil
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
