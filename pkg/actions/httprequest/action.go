// Package httprequest implements the HTTP request action. Deployment
// verification steps use it to probe health endpoints.
package httprequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// ActionFactory creates http_request actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http_request"
}

func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, errors.New("http_request action requires a 'url' configuration value")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	expectedStatus := http.StatusOK
	if v, ok := config["expected_status"].(float64); ok {
		expectedStatus = int(v)
	}

	return &Action{
		url:            url,
		method:         strings.ToUpper(method),
		body:           body,
		expectedStatus: expectedStatus,
		client:         &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Action performs one HTTP request and fails unless the response status
// matches the expected one.
type Action struct {
	url            string
	method         string
	body           string
	expectedStatus int
	client         *http.Client
}

func (a *Action) Execute(ctx context.Context, _ models.ExecutionContext, logger *slog.Logger) (*models.ActionResult, error) {
	logger = logger.With("action_type", "http_request", "url", a.url, "method", a.method)

	var body io.Reader
	if a.body != "" {
		body = strings.NewReader(a.body)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	logger.Info("Executing HTTP request")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &models.ActionResult{
		Log: []string{
			fmt.Sprintf("%s %s -> %d", a.method, a.url, resp.StatusCode),
			string(respBody),
		},
	}

	if resp.StatusCode != a.expectedStatus {
		return result, fmt.Errorf("unexpected status %d, expected %d", resp.StatusCode, a.expectedStatus)
	}

	return result, nil
}
