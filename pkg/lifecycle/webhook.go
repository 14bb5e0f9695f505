package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookNotifier POSTs install requests as JSON to an external lifecycle
// manager.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier creates a notifier posting to url. A nil client gets a
// default one with DefaultWebhookTimeout.
func NewWebhookNotifier(url string, client *http.Client, logger *slog.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{url: url, httpClient: client, logger: logger}
}

// RequestInstall delivers one install request. Any non-2xx answer is an
// error.
func (w *WebhookNotifier) RequestInstall(ctx context.Context, rec catalog.PluginRecord) error {
	body, err := json.Marshal(NewInstallRequest(rec))
	if err != nil {
		return fmt.Errorf("encoding install request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting install request for %s: %w", rec.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("lifecycle manager returned HTTP %d for %s: %s",
			resp.StatusCode, rec.ID, strings.TrimSpace(string(snippet)))
	}

	w.logger.Debug("install request delivered", "id", rec.ID, "version", rec.Version)
	return nil
}
