package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/go-resty/resty/v2"
)

// UploadPath is appended to the registry base URL
const UploadPath = "/api/v1/plugins"

// ErrRegistryNotConfigured is returned when no registry URL was given
var ErrRegistryNotConfigured = errors.New("registry URL not configured")

// Config holds the publisher settings, already defaulted and validated by
// the config layer
type Config struct {
	Registry string
	Token    string
	Timeout  time.Duration
	Retries  int
}

// Receipt is what the registry answered for an upload
type Receipt struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"-"`
}

// RegistryError reports a non-2xx answer from the registry
type RegistryError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *RegistryError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("registry rejected upload: %s", e.Status)
	}
	return fmt.Sprintf("registry rejected upload: %s: %s", e.Status, body)
}

// Publisher uploads plugin archives to a registry
type Publisher struct {
	cfg    Config
	client *resty.Client
	l      *slog.Logger
}

// NewPublisher creates a publisher with a resty client built from cfg
func NewPublisher(cfg Config, l *slog.Logger) (*Publisher, error) {
	if cfg.Registry == "" {
		return nil, ErrRegistryNotConfigured
	}
	if l == nil {
		l = slog.Default()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Registry, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetHeader("User-Agent", "plugpack")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Publisher{cfg: cfg, client: client, l: l}, nil
}

// Publish uploads the archive at archivePath. The id and version fields are
// read from the archive's own metadata.json.
func (p *Publisher) Publish(ctx context.Context, archivePath string) (*Receipt, error) {
	contents, err := archive.Inspect(archivePath)
	if err != nil {
		return nil, fmt.Errorf("cannot publish %q: %w", archivePath, err)
	}

	p.l.Info("Uploading plugin archive",
		"registry", p.cfg.Registry,
		"id", contents.Metadata.ID,
		"version", contents.Metadata.Version,
		"archive", archivePath)

	receipt := &Receipt{}
	resp, err := p.client.R().
		SetContext(ctx).
		SetFile("archive", archivePath).
		SetFormData(map[string]string{
			"id":      contents.Metadata.ID,
			"version": contents.Metadata.Version,
		}).
		SetResult(receipt).
		Post(UploadPath)
	if err != nil {
		return nil, fmt.Errorf("upload to %q failed: %w", p.cfg.Registry, err)
	}

	if resp.IsError() {
		return nil, &RegistryError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.String(),
		}
	}

	if receipt.ID == "" {
		receipt.ID = contents.Metadata.ID
	}
	if receipt.Version == "" {
		receipt.Version = contents.Metadata.Version
	}
	receipt.StatusCode = resp.StatusCode()

	p.l.Debug("Registry accepted upload", "status", resp.StatusCode(), "url", receipt.URL)
	return receipt, nil
}
