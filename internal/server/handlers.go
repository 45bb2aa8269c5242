package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docfields/internal/document"
	"docfields/internal/pipeline"
)

// extractionRequest is the JSON form of POST /v1/extractions.
type extractionRequest struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	MediaType     string `json:"media_type"`
	ContentBase64 string `json:"content_base64" binding:"required"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeBadRequest = "bad_request"
	codeTimeout    = "timeout"
)

func (s *Server) extract(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	var (
		req pipeline.Request
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = readMultipart(c)
	} else {
		req, err = readJSON(c)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, "document_too_large", "request body exceeds upload limit")
			return
		}
		abort(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	if req.ID == "" {
		req.ID = c.GetHeader(requestIDHeader)
	}
	c.Set("request_id", req.ID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result, err := s.extractor.Extract(ctx, req)
	if err != nil {
		status, code := statusFor(err)
		abort(c, status, code, err.Error())
		return
	}

	c.Set("request_id", result.RequestID)
	c.Header(requestIDHeader, result.RequestID)
	c.JSON(http.StatusOK, result)
}

func readMultipart(c *gin.Context) (pipeline.Request, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("multipart field \"file\": %w", err)
	}

	f, err := header.Open()
	if err != nil {
		return pipeline.Request{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Request{}, err
	}

	mediaType := c.PostForm("media_type")
	if mediaType == "" {
		mediaType = header.Header.Get("Content-Type")
	}

	return pipeline.Request{
		ID:       c.PostForm("id"),
		Document: document.NewSourceDocument(data, header.Filename, mediaType),
	}, nil
}

func readJSON(c *gin.Context) (pipeline.Request, error) {
	var body extractionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return pipeline.Request{}, err
	}

	data, err := base64.StdEncoding.DecodeString(body.ContentBase64)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("content_base64: %w", err)
	}

	return pipeline.Request{
		ID:       body.ID,
		Document: document.NewSourceDocument(data, body.Filename, body.MediaType),
	}, nil
}

// statusFor maps pipeline errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, codeTimeout
	}

	reason := pipeline.FailureReason(err)
	switch reason {
	case "unsupported_media_type":
		return http.StatusUnsupportedMediaType, reason
	case "document_too_large":
		return http.StatusRequestEntityTooLarge, reason
	case "unsupported_page_count", "empty_document", "malformed_document":
		return http.StatusUnprocessableEntity, reason
	default:
		return http.StatusInternalServerError, reason
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
