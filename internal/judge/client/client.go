package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxConcurrency = 4
	defaultMaxRetries     = 3
	defaultRetryBase      = 500 * time.Millisecond
	defaultRetryMax       = 8 * time.Second
	defaultRequestTimeout = 30 * time.Second

	submissionFields = "stdout,stderr,compile_output,message,status,time,memory"
	maxErrorBody     = 512
)

// Config configures the judge client.
type Config struct {
	BaseURL        string        `yaml:"baseURL"`
	AuthToken      string        `yaml:"authToken"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
	// QueueTimeout bounds the wait for a free slot; zero waits as long as ctx allows.
	QueueTimeout   time.Duration `yaml:"queueTimeout"`
	// MaxRetries of zero uses the default; a negative value disables retries.
	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	LanguageTTL    time.Duration `yaml:"languageTTL"`

	// HTTPClient overrides the default client; RequestTimeout is ignored then.
	HTTPClient *http.Client `yaml:"-"`
}

// RunRequest is one execution of source against stdin.
type RunRequest struct {
	LanguageID     int
	SourceCode     string
	Stdin          string
	ExpectedOutput *string
	CPUTimeLimit   *float64 // seconds
	MemoryLimit    *int64   // KB
	EnableNetwork  bool
}

// RunResult is the decoded judge answer.
type RunResult struct {
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	Status        Status
	TimeSeconds   float64
	MemoryKB      int64
}

// Client talks to a Judge0-compatible execution service.
// At most MaxConcurrency executions are in flight; further callers wait in FIFO order.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client

	slots        *semaphore.Weighted
	queueTimeout time.Duration

	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration

	languages *LanguageCache
	fetches   singleflight.Group
}

// NewClient creates a judge client. languages may be nil, in which case a
// private cache with cfg.LanguageTTL is created.
func NewClient(cfg Config, languages *LanguageCache) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("judge baseURL is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMax
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if languages == nil {
		languages = NewLanguageCache(cfg.LanguageTTL)
	}

	return &Client{
		baseURL:      baseURL,
		authToken:    cfg.AuthToken,
		httpClient:   httpClient,
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		queueTimeout: cfg.QueueTimeout,
		maxRetries:   cfg.MaxRetries,
		retryBase:    cfg.RetryBaseDelay,
		retryMax:     cfg.RetryMaxDelay,
		languages:    languages,
	}, nil
}

// Languages exposes the catalog cache for explicit invalidation.
func (c *Client) Languages() *LanguageCache {
	return c.languages
}

type submissionPayload struct {
	LanguageID     int      `json:"language_id"`
	SourceCode     string   `json:"source_code"`
	Stdin          string   `json:"stdin"`
	ExpectedOutput *string  `json:"expected_output,omitempty"`
	CPUTimeLimit   *float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit    *int64   `json:"memory_limit,omitempty"`
	EnableNetwork  bool     `json:"enable_network"`
}

type submissionResponse struct {
	Stdout        *string    `json:"stdout"`
	Stderr        *string    `json:"stderr"`
	CompileOutput *string    `json:"compile_output"`
	Message       *string    `json:"message"`
	Status        Status     `json:"status"`
	Time          flexNumber `json:"time"`
	Memory        flexNumber `json:"memory"`
}

// RunOne executes a single request, waiting for a free slot and retrying
// transient failures with exponential backoff.
func (c *Client) RunOne(ctx context.Context, req RunRequest) (*RunResult, error) {
	payload := submissionPayload{
		LanguageID:    req.LanguageID,
		SourceCode:    encode(req.SourceCode),
		Stdin:         encode(req.Stdin),
		CPUTimeLimit:  req.CPUTimeLimit,
		MemoryLimit:   req.MemoryLimit,
		EnableNetwork: req.EnableNetwork,
	}
	if req.ExpectedOutput != nil {
		expected := encode(*req.ExpectedOutput)
		payload.ExpectedOutput = &expected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.JudgeExecutionFailed, "encode judge request failed")
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.slots.Release(1)

	path := "/submissions?base64_encoded=true&wait=true&fields=" + submissionFields
	var resp submissionResponse
	if err := c.doWithRetry(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.decode()
}

// ListLanguages returns the judge language catalog, served from cache while fresh.
func (c *Client) ListLanguages(ctx context.Context) ([]Language, error) {
	if cached, ok := c.languages.Get(); ok {
		return cached, nil
	}
	value, err, _ := c.fetches.Do(languageCacheKey, func() (interface{}, error) {
		var languages []Language
		if err := c.doWithRetry(ctx, http.MethodGet, "/languages", nil, &languages); err != nil {
			return nil, err
		}
		c.languages.Set(languages)
		return languages, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Language), nil
}

// RefreshLanguages drops the cached catalog and fetches it again.
func (c *Client) RefreshLanguages(ctx context.Context) ([]Language, error) {
	c.languages.Invalidate()
	return c.ListLanguages(ctx)
}

// SupportsLanguage reports whether languageID is in the judge catalog.
func (c *Client) SupportsLanguage(ctx context.Context, languageID int) (bool, error) {
	languages, err := c.ListLanguages(ctx)
	if err != nil {
		return false, err
	}
	for _, lang := range languages {
		if lang.ID == languageID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) acquire(ctx context.Context) error {
	waitCtx := ctx
	if c.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.queueTimeout)
		defer cancel()
	}
	if err := c.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil {
			return pkgerrors.New(pkgerrors.JudgeQueueFull).WithMessage("judge queue wait timed out")
		}
		return pkgerrors.Wrapf(ctx.Err(), pkgerrors.Timeout, "waiting for judge slot canceled")
	}
	return nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		lastErr = c.do(ctx, method, path, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !isRetryable(lastErr) {
			return pkgerrors.Wrapf(lastErr, pkgerrors.JudgeExecutionFailed, "judge request failed: %v", lastErr)
		}
		if attempt == c.maxRetries {
			break
		}
		delay := ComputeBackoff(attempt, c.retryBase, c.retryMax)
		logger.Warn(ctx, "judge request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return pkgerrors.Wrapf(lastErr, pkgerrors.JudgeExecutionFailed, "judge request failed: %v", lastErr)
		}
	}
	return pkgerrors.Wrapf(lastErr, pkgerrors.JudgeExecutionFailed,
		"judge request failed after %d attempts: %v", c.maxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &statusError{StatusCode: resp.StatusCode, Body: text}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode judge response failed: %v", err)
	}
	return nil
}

func (r submissionResponse) decode() (*RunResult, error) {
	out := &RunResult{
		Status:      r.Status,
		TimeSeconds: float64(r.Time),
		MemoryKB:    int64(r.Memory),
	}
	fields := []struct {
		src *string
		dst *string
	}{
		{r.Stdout, &out.Stdout},
		{r.Stderr, &out.Stderr},
		{r.CompileOutput, &out.CompileOutput},
		{r.Message, &out.Message},
	}
	for _, f := range fields {
		text, err := decode(f.src)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.JudgeExecutionFailed, "decode judge output failed")
		}
		*f.dst = text
	}
	return out, nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decode reverses the judge's base64, which wraps lines every 60 characters.
func decode(s *string) (string, error) {
	if s == nil || *s == "" {
		return "", nil
	}
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(*s)
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// flexNumber accepts a JSON number, a quoted number or null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexNumber(v)
	return nil
}
