package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"ocr-api/internal/config"
	"ocr-api/internal/shared"

	"go.uber.org/zap"
)

const (
	chatCompletionsRoute = "/v1/chat/completions"
	modelsRoute          = "/v1/models"
	maxErrorBody         = 2048
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

var _ Backend = (*Client)(nil)

func NewClient(cfg config.BackendConfig, log *zap.SugaredLogger) *Client {
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
		DisableKeepAlives:   false,
		MaxIdleConnsPerHost: 64,
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = shared.DefaultHTTPTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Transport: tr, Timeout: timeout},
		log:        log,
	}
}

func (c *Client) ChatCompletion(ctx context.Context, req *shared.ChatCompletionRequest) (*shared.ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Join(errors.New("failed marshalling chat completion request"), err)
	}
	var out shared.ChatCompletionResponse
	if err := c.do(ctx, http.MethodPost, chatCompletionsRoute, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListModels(ctx context.Context) ([]shared.BackendModel, error) {
	var out shared.BackendModelList
	if err := c.do(ctx, http.MethodGet, modelsRoute, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, route string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return errors.Join(errors.New("failed building request"), err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Connection":   "keep-alive",
	}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	if reqID, ok := shared.RequestIDFromContext(ctx); ok {
		headers[shared.RequestIDHeader] = reqID
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}

	start := time.Now()
	res, err := c.httpClient.Do(r)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			c.log.Warnw("Failed to close response body", "error", closeErr)
		}
	}()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		serr := &StatusError{StatusCode: res.StatusCode, Body: string(snippet)}
		if res.StatusCode == http.StatusServiceUnavailable {
			return errors.Join(ErrUnavailable, shared.ErrFailedModelReqFromCode, serr)
		}
		return errors.Join(ErrBadResponse, shared.ErrFailedModelReqFromCode, serr)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return classifyTransportError(ctx, err)
		}
		return errors.Join(ErrBadResponse, shared.ErrFailedReadingResponse, err)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return errors.Join(ErrBadResponse, shared.ErrFailedReadingResponse, err)
	}
	c.log.Debugw("Backend request completed", "route", route, "duration", time.Since(start).String())
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return errors.Join(ErrTimeout, shared.ErrModelTimeout, err)
	}
	return errors.Join(ErrUnavailable, shared.ErrFailedModelReq, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
