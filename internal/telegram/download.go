package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/raine/local-market-estimator/internal/estimate"
)

// DefaultDownloadTimeout is the default timeout for file downloads
const DefaultDownloadTimeout = 30 * time.Second

// errImageTooLarge is returned when a file exceeds the downloader's limit.
var errImageTooLarge = errors.New("image too large")

// Downloader fetches Telegram files with a size cap.
type Downloader struct {
	client  *resty.Client
	maxSize int64
}

// NewDownloader creates a Downloader capped at estimate.MaxImageSize.
func NewDownloader() *Downloader {
	return &Downloader{
		client:  resty.New().SetTimeout(DefaultDownloadTimeout),
		maxSize: estimate.MaxImageSize,
	}
}

// Download resolves fileID to a URL and downloads it. The declared content
// type of the response is returned alongside the data.
func (d *Downloader) Download(
	ctx context.Context,
	getFileDirectURL func(fileID string) (string, error),
	fileID string,
) ([]byte, string, error) {
	log.Info().Str("fileID", fileID).Msg("downloading telegram file")

	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file URL: %w", err)
	}

	res, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.IsError() {
		return nil, "", fmt.Errorf("download failed: status %d", res.StatusCode())
	}
	if res.RawResponse.ContentLength > d.maxSize {
		return nil, "", errImageTooLarge
	}

	// Use LimitReader to enforce size limit even if Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file data: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", errImageTooLarge
	}

	return data, res.Header().Get("Content-Type"), nil
}
