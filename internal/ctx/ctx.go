// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Added in the ocr route
	UploadName  string
	ContentType string
	UploadBytes int64
	OCR         *OCRInfo

	// Override log Log Level
	// useful when a request succeeds at the http level but something worth
	// surfacing still happened
	LogLevel string

	// Added dynamically
	Error error
}

type OCRInfo struct {
	Model            string
	ProcessingMS     int64
	PromptTokens     uint64
	CompletionTokens uint64
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
// Log level is determined by the status code of the request
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

// Level picks the log level for the end of request line
func (c *ContextLogValues) Level() zapcore.Level {
	if c.LogLevel != "" {
		if lvl, err := zapcore.ParseLevel(c.LogLevel); err == nil {
			return lvl
		}
	}
	switch {
	case c.StatusCode >= 500:
		return zapcore.ErrorLevel
	case c.StatusCode >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.RequestID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	enc.AddString("path", c.Path)
	if c.UploadName != "" || c.UploadBytes != 0 {
		enc.AddString("upload_name", c.UploadName)
		enc.AddString("content_type", c.ContentType)
		enc.AddInt64("upload_bytes", c.UploadBytes)
	}
	if c.OCR != nil {
		enc.AddString("model", c.OCR.Model)
		enc.AddInt64("processing_ms", c.OCR.ProcessingMS)
		enc.AddUint64("prompt_tokens", c.OCR.PromptTokens)
		enc.AddUint64("completion_tokens", c.OCR.CompletionTokens)
	}
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	LogValues *ContextLogValues
}
