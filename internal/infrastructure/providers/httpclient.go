package providers

import (
	"context"
	"time"

	"github.com/netresearch/llmrelay/internal/infrastructure/logger"

	"resty.dev/v3"
)

// RequestID carries the inbound request ID into outbound client calls so the
// debug log line can be correlated with the request that triggered it.
type RequestID struct{}

type httpClientStartsAt struct{}
type httpClientRequestBody struct{}

// newHTTPClient builds the resty client every adapter sends through. Request
// and response middleware record timing and log one debug line per upstream
// call.
func newHTTPClient(clientName string) *resty.Client {
	client := resty.New()
	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		start := time.Now()
		ctx := context.WithValue(r.Context(), httpClientStartsAt{}, start)
		ctx = context.WithValue(ctx, httpClientRequestBody{}, r.Body)
		r.SetContext(ctx)
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		log := logger.GetLogger()
		requestID := r.Request.Context().Value(RequestID{})
		startTime, _ := r.Request.Context().Value(httpClientStartsAt{}).(time.Time)
		requestBody := r.Request.Context().Value(httpClientRequestBody{})
		latency := time.Since(startTime)
		var responseBody any
		if !r.Request.DoNotParseResponse {
			responseBody = r.Result()
		}

		requestIDStr := ""
		if reqID, ok := requestID.(string); ok {
			requestIDStr = reqID
		}

		log.Debug().
			Str("request_id", requestIDStr).
			Str("client", clientName).
			Int("status", r.StatusCode()).
			Str("method", r.Request.RawRequest.Method).
			Str("path", r.Request.RawRequest.URL.Path).
			Str("query", r.Request.RawRequest.URL.RawQuery).
			Interface("req_body", requestBody).
			Interface("resp_body", responseBody).
			Dur("latency", latency).
			Msg("HTTP client request")
		return nil
	})
	return client
}
