package processor

import (
	"fmt"
	"net/http"
	"time"

	"hlsflow/internal/worker"

	"resty.dev/v3"
)

func newHTTPClient(baseURL, apiKey string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return client
}

// checkResponse maps an HTTP exchange onto the error taxonomy. 4xx means the
// request itself is wrong, except 408 and 429 which say the dependency is
// busy. Everything else failing is infrastructure.
func checkResponse(what string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: unavailable with status %d: %s", what, code, resp.String())
	case code >= 400 && code < 500:
		return worker.Validationf("%s: rejected with status %d: %s", what, code, resp.String())
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", what, code, resp.String())
	}
}
