package routers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ocr-api/internal/ctx"
	"ocr-api/internal/handlers/ocr"
	"ocr-api/internal/shared"

	"github.com/labstack/echo/v4"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the upload limit
const multipartOverhead = 1 << 20

type OCRRouter struct {
	oh             *ocr.OCRHandler
	maxUploadBytes int64
}

func RegisterOCRRoutes(e *echo.Group, oh *ocr.OCRHandler, maxUploadBytes int64) {
	r := OCRRouter{oh: oh, maxUploadBytes: maxUploadBytes}
	v1 := e.Group("/api/v1")
	v1.POST("/ocr", r.OCR)
}

func (r *OCRRouter) OCR(cc echo.Context) error {
	c := cc.(*ctx.Context)

	upload, err := r.readUpload(c)
	if err != nil {
		// readiness wins over a malformed upload
		if rerr := r.oh.CheckReady(); rerr != nil {
			return writeError(c, rerr)
		}
		return writeError(c, err)
	}
	c.LogValues.UploadName = upload.Filename
	c.LogValues.ContentType = upload.ContentType
	c.LogValues.UploadBytes = int64(len(upload.Data))

	out, err := r.oh.Process(ocr.OCRInput{
		RequestID: c.Reqid,
		Upload:    *upload,
		Log:       c.Log,
	})
	if err != nil {
		return writeError(c, err)
	}

	c.LogValues.OCR = &ctx.OCRInfo{
		Model:        out.Response.Model,
		ProcessingMS: out.Response.ProcessingMS,
	}
	if out.Usage != nil {
		c.LogValues.OCR.PromptTokens = out.Usage.PromptTokens
		c.LogValues.OCR.CompletionTokens = out.Usage.CompletionTokens
	}
	return c.JSON(http.StatusOK, out.Response)
}

func (r *OCRRouter) readUpload(c *ctx.Context) (*ocr.Upload, error) {
	req := c.Request()
	if r.maxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, r.maxUploadBytes+multipartOverhead)
	}

	fh, err := c.FormFile(shared.UploadFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.Join(shared.NewRequestError(shared.ErrBadRequest, fmt.Sprintf("uploaded file exceeds the %d byte limit", r.maxUploadBytes)), err)
		}
		return nil, errors.Join(shared.NewRequestError(shared.ErrBadRequest, fmt.Sprintf("multipart form field '%s' with an image is required", shared.UploadFormField)), err)
	}
	if r.maxUploadBytes > 0 && fh.Size > r.maxUploadBytes {
		return nil, shared.NewRequestError(shared.ErrBadRequest, fmt.Sprintf("uploaded file exceeds the %d byte limit", r.maxUploadBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errors.Join(shared.NewRequestError(shared.ErrBadRequest, "failed to read uploaded file"), err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			c.Log.Warnw("Failed to close uploaded file", "error", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Join(shared.NewRequestError(shared.ErrBadRequest, "failed to read uploaded file"), err)
	}
	return &ocr.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
