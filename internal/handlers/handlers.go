package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/auth"
	"github.com/example/waste-sort/internal/metrics"
	"github.com/example/waste-sort/internal/usecase"
)

// MaxUploadSize is the default cap on an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead is the slack allowed on top of the image for multipart
// boundaries and headers before the body is cut off.
const multipartOverhead = 1 << 20

// Analyzer is the use case surface the handlers depend on.
type Analyzer interface {
	Predict(ctx context.Context, in usecase.PredictInput) (*usecase.PredictResult, error)
	History(ctx context.Context, requestID, userUID string) ([]usecase.HistoryEntry, error)
	GetHistorySummary(ctx context.Context, requestID, userUID string) (*usecase.HistorySummary, error)
}

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Analyzer, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{svc: svc, maxUpload: opts.MaxUploadBytes, logger: opts.Logger.Named("http")}

	router.Use(RequestID(), AccessLog(h.logger))
	if opts.Metrics != nil {
		router.Use(Instrument(opts.Metrics))
		router.GET(metrics.Path, gin.WrapH(opts.Metrics.Handler()))
	}
	router.Use(auth.CallerIdentity())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "API is running!")
	})
	router.POST("/predict", h.predict)

	history := router.Group("/history", auth.RequireCaller())
	history.GET("", h.history)
	history.GET("/summary", h.historySummary)
}

type handler struct {
	svc       Analyzer
	maxUpload int64
	logger    *zap.Logger
}

func (h *handler) predict(c *gin.Context) {
	if c.Request.ContentLength > h.maxUpload+multipartOverhead {
		writeError(c, errPayloadTooLarge)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, errPayloadTooLarge)
			return
		}
		writeError(c, usecase.ErrMissingFile)
		return
	}
	if file.Size > h.maxUpload {
		writeError(c, errPayloadTooLarge)
		return
	}

	src, err := file.Open()
	if err != nil {
		writeError(c, usecase.ErrMissingFile)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		writeError(c, err)
		return
	}
	if int64(len(data)) > h.maxUpload {
		writeError(c, errPayloadTooLarge)
		return
	}
	if len(data) == 0 {
		writeError(c, usecase.ErrMissingFile)
		return
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		writeError(c, errUnsupportedMedia)
		return
	}

	userUID, _ := auth.GetUserID(c.Request.Context())
	result, err := h.svc.Predict(c.Request.Context(), usecase.PredictInput{
		RequestID:   GetRequestID(c),
		UserUID:     userUID,
		ClientIP:    c.ClientIP(),
		Filename:    file.Filename,
		ContentType: detected.String(),
		Image:       data,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"Sampah":            result.Label,
		"Kategori":          result.Category.String(),
		"Deskripsi":         result.Description,
		"LangkahPembuangan": result.DisposalSteps,
		"message":           "Analysis saved successfully",
		"analyze_uid":       result.AnalyzeUID,
		"confidence":        result.Confidence,
	})
}

func (h *handler) history(c *gin.Context) {
	userUID, _ := auth.GetUserID(c.Request.Context())
	entries, err := h.svc.History(c.Request.Context(), GetRequestID(c), userUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *handler) historySummary(c *gin.Context) {
	userUID, _ := auth.GetUserID(c.Request.Context())
	summary, err := h.svc.GetHistorySummary(c.Request.Context(), GetRequestID(c), userUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
