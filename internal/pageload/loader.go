package pageload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"metricize/internal/metrics"
)

// Input describes where HTML should come from. URL wins over File, File over
// Stdin.
type Input struct {
	// URL, if provided, is fetched via HTTP GET.
	URL string

	// File, if provided, is read from disk.
	File string

	// Stdin is used when URL and File are empty. If nil, stdin reads as empty.
	Stdin io.Reader
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:  client,
		timeout: timeout,
		now:     time.Now,
	}
}

// Load returns the HTML source for the given input.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body for debugging.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	switch {
	case strings.TrimSpace(input.URL) != "":
		return l.fetch(ctx, input.URL)
	case strings.TrimSpace(input.File) != "":
		b, err := os.ReadFile(input.File)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(b), nil
	case input.Stdin == nil:
		return "", nil
	}

	b, err := io.ReadAll(input.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func (l *Loader) fetch(ctx context.Context, url string) (html string, err error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := l.now()
	status := "error"
	defer func() {
		labels := metrics.Labels{"status": status}
		metrics.IncCounter(metrics.HTTPRequestsTotal, 1, labels)
		metrics.ObserveHistogram(metrics.HTTPDurationSeconds, l.now().Sub(start).Seconds(), labels)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "metricize/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}
