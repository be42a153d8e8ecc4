package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/retry"
)

const (
	tracerName      = "serverpulse-agent/api"
	maxResponseBody = 1024 * 1024
)

// ErrRegistrationFailed is returned when the collector rejects the agent
var ErrRegistrationFailed = errors.New("agent registration failed")

// Config holds client connection settings
type Config struct {
	Endpoint  string
	AuthToken string
	AgentID   string
	Timeout   time.Duration
	Retry     retry.Config
}

// Client talks to the ServerPulse collector over HTTPS with a bearer token
type Client struct {
	endpoint  string
	authToken string
	agentID   string
	userAgent string
	http      *http.Client
	retry     retry.Config
}

// NewClient creates a collector client
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		authToken: cfg.AuthToken,
		agentID:   cfg.AgentID,
		userAgent: fmt.Sprintf("ServerPulse-Agent/1.0 (%s)", osName()),
		retry:     cfg.Retry,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// AgentID returns the configured agent id
func (c *Client) AgentID() string {
	return c.agentID
}

// Register announces this host to the collector
func (c *Client) Register(ctx context.Context, info domain.SystemInfo) error {
	reg := Registration{
		AgentID:          c.agentID,
		Hostname:         info.Hostname,
		System:           info.OS,
		Release:          info.KernelVersion,
		Version:          info.PlatformVersion,
		Machine:          info.Arch,
		Processor:        info.CPUModel,
		AgentVersion:     AgentVersion,
		RegistrationTime: time.Now().UTC(),
	}

	if err := c.post(ctx, "/api/v1/agents/register", reg, c.retry); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	log.Info().Str("agent_id", c.agentID).Msg("Agent registered successfully with ServerPulse")
	return nil
}

// SendMetrics posts a metrics snapshot
func (c *Client) SendMetrics(ctx context.Context, snap *domain.MetricsSnapshot) error {
	payload := metricsPayload{AgentID: c.agentID, Timestamp: time.Now().UTC(), Metrics: snap}
	if err := c.post(ctx, c.agentPath("metrics"), payload, c.retry); err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	log.Debug().Msg("Metrics sent successfully")
	return nil
}

// SendHeartbeat reports the agent as online
func (c *Client) SendHeartbeat(ctx context.Context) error {
	payload := heartbeatPayload{AgentID: c.agentID, Timestamp: time.Now().UTC(), Status: "online"}
	if err := c.post(ctx, c.agentPath("heartbeat"), payload, c.retry); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	log.Debug().Msg("Heartbeat sent successfully")
	return nil
}

// SendAlert posts a single alert
func (c *Client) SendAlert(ctx context.Context, alert domain.Alert) error {
	payload := alertPayload{AgentID: c.agentID, Timestamp: time.Now().UTC(), Alert: alert}
	if err := c.post(ctx, c.agentPath("alerts"), payload, c.retry); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	log.Info().Str("type", alert.Type).Str("severity", alert.Severity.String()).Msg("Alert sent")
	return nil
}

// GetCommands fetches pending commands
func (c *Client) GetCommands(ctx context.Context) ([]Command, error) {
	body, err := retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, c.agentPath("commands"), nil, http.StatusOK)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get commands: %w", err)
	}

	var resp commandsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode commands: %w", err)
	}
	return resp.Commands, nil
}

// AcknowledgeCommand reports the result of a command
func (c *Client) AcknowledgeCommand(ctx context.Context, id CommandID, result interface{}) error {
	payload := ackPayload{CommandID: string(id), Result: result, Timestamp: time.Now().UTC()}
	path := c.agentPath("commands/" + url.PathEscape(string(id)) + "/ack")
	if err := c.post(ctx, path, payload, c.retry); err != nil {
		return fmt.Errorf("failed to acknowledge command %s: %w", id, err)
	}
	log.Debug().Str("command_id", string(id)).Msg("Command acknowledged")
	return nil
}

// TestConnection checks the collector health endpoint with a single retry
func (c *Client) TestConnection(ctx context.Context) error {
	cfg := c.retry
	cfg.MaxAttempts = 2
	_, err := retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, "/api/v1/health", nil, http.StatusOK)
	})
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.endpoint, err)
	}
	log.Info().Str("endpoint", c.endpoint).Msg("Connection to ServerPulse successful")
	return nil
}

func (c *Client) agentPath(suffix string) string {
	return "/api/v1/agents/" + url.PathEscape(c.agentID) + "/" + suffix
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, cfg retry.Config) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return retry.Do(ctx, cfg, func() error {
		_, err := c.do(ctx, http.MethodPost, path, body, http.StatusOK, http.StatusCreated)
		return err
	})
}

// do performs one request and returns the response body when the status is accepted
func (c *Client) do(ctx context.Context, method, path string, body []byte, accept ...int) (respBody []byte, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "api."+strings.ToLower(method))
	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("request.id", requestID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	for _, code := range accept {
		if resp.StatusCode == code {
			return respBody, nil
		}
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Msg("API request failed")
	return nil, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
}

func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	default:
		return runtime.GOOS
	}
}
