// Package ccow talks to the external CCOW context vault that holds each user's
// active patient.
package ccow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/metrics"
	"github.com/medz/medz4/internal/models"
	"go.uber.org/zap"
)

const (
	// SetBy identifies this application as the setter of a context.
	SetBy = "med-z4"

	sessionHeader = "X-Session-ID"
	healthTimeout = 2 * time.Second
)

// ContextInfo is the vault's view of a user's active patient.
type ContextInfo struct {
	PatientID string
	SetBy     string
	SetAt     *time.Time
	Email     string
}

type contextResponse struct {
	PatientID string `json:"patient_id"`
	SetBy     string `json:"set_by"`
	SetAt     string `json:"set_at"`
	Email     string `json:"email"`
}

// Client calls the vault. It holds no per-user state.
type Client struct {
	baseURL        string
	healthEndpoint string
	timeout        time.Duration
	http           *http.Client
	logger         *zap.Logger
}

// NewClient creates a vault client from configuration.
func NewClient(cfg config.CCOWConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	health := cfg.HealthEndpoint
	if health == "" {
		health = "/ccow/health"
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		healthEndpoint: health,
		timeout:        timeout,
		http:           &http.Client{},
		logger:         logger.Named("ccow"),
	}
}

// GetActivePatient returns the user's active context, or nil when there is none
// or the vault cannot be reached.
func (c *Client) GetActivePatient(ctx context.Context, sessionID string) *ContextInfo {
	info, _ := c.FetchActivePatient(ctx, sessionID)
	return info
}

// FetchActivePatient is GetActivePatient that also reports whether the vault answered.
func (c *Client) FetchActivePatient(ctx context.Context, sessionID string) (*ContextInfo, bool) {
	resp, err := c.do(ctx, c.timeout, http.MethodGet, "/ccow/active-patient", sessionID, nil)
	if err != nil {
		c.fail("get", err)
		return nil, false
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		metrics.CCOWCall("get", "none")
		return nil, true
	default:
		c.fail("get", fmt.Errorf("unexpected status %d", resp.StatusCode))
		return nil, false
	}

	var out contextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.fail("get", fmt.Errorf("decode: %w", err))
		return nil, false
	}
	if out.PatientID == "" {
		metrics.CCOWCall("get", "none")
		return nil, true
	}

	metrics.CCOWCall("get", "ok")
	return &ContextInfo{
		PatientID: out.PatientID,
		SetBy:     out.SetBy,
		SetAt:     parseTimestamp(out.SetAt),
		Email:     out.Email,
	}, true
}

// SetActivePatient makes patientID the user's active context.
func (c *Client) SetActivePatient(ctx context.Context, sessionID, patientID string) bool {
	body, err := json.Marshal(map[string]string{
		"patient_id": patientID,
		"set_by":     SetBy,
	})
	if err != nil {
		c.fail("set", err)
		return false
	}

	resp, err := c.do(ctx, c.timeout, http.MethodPut, "/ccow/active-patient", sessionID, body)
	if err != nil {
		c.fail("set", err)
		return false
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.fail("set", fmt.Errorf("unexpected status %d", resp.StatusCode))
		return false
	}

	c.logger.Info("context set", zap.String("patient_id", patientID))
	metrics.CCOWCall("set", "ok")
	return true
}

// ClearActivePatient removes the user's active context. Clearing when nothing is
// set counts as success.
func (c *Client) ClearActivePatient(ctx context.Context, sessionID string) bool {
	resp, err := c.do(ctx, c.timeout, http.MethodDelete, "/ccow/active-patient", sessionID, nil)
	if err != nil {
		c.fail("clear", err)
		return false
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		metrics.CCOWCall("clear", "ok")
		return true
	default:
		c.fail("clear", fmt.Errorf("unexpected status %d", resp.StatusCode))
		return false
	}
}

// Health probes the vault's health endpoint.
func (c *Client) Health(ctx context.Context) models.ServiceHealth {
	start := time.Now()
	h := models.ServiceHealth{Name: "CCOW Vault"}

	resp, err := c.do(ctx, healthTimeout, http.MethodGet, c.healthEndpoint, "", nil)
	h.Elapsed = time.Since(start)
	if err != nil {
		c.fail("health", err)
		h.Status = "Unreachable"
		h.Error = err.Error()
		return h
	}
	defer drain(resp)

	h.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		metrics.CCOWCall("health", "ok")
		h.Reachable = true
		h.Status = "Available"
		return h
	}
	c.fail("health", fmt.Errorf("unexpected status %d", resp.StatusCode))
	h.Status = "Unhealthy"
	h.Error = fmt.Sprintf("status %d", resp.StatusCode)
	return h
}

type activePatientsResponse struct {
	Contexts []struct {
		Email     string `json:"email"`
		PatientID string `json:"patient_id"`
		SetBy     string `json:"set_by"`
		SetAt     string `json:"set_at"`
	} `json:"contexts"`
	TotalCount int `json:"total_count"`
}

// ActivePatients lists every user's active context.
func (c *Client) ActivePatients(ctx context.Context, sessionID string) ([]models.ContextEntry, int, error) {
	var out activePatientsResponse
	if err := c.getJSON(ctx, "active_patients", "/ccow/active-patients", sessionID, &out); err != nil {
		return nil, 0, err
	}

	entries := make([]models.ContextEntry, 0, len(out.Contexts))
	for _, ctxEntry := range out.Contexts {
		entries = append(entries, models.ContextEntry{
			Email:     orDefault(ctxEntry.Email, "Unknown"),
			PatientID: orDefault(ctxEntry.PatientID, "N/A"),
			SetBy:     orDefault(ctxEntry.SetBy, "unknown"),
			SetAt:     parseTimestamp(ctxEntry.SetAt),
		})
	}
	return entries, out.TotalCount, nil
}

type historyResponse struct {
	History []struct {
		Action    string `json:"action"`
		Email     string `json:"email"`
		PatientID string `json:"patient_id"`
		Actor     string `json:"actor"`
		Timestamp string `json:"timestamp"`
	} `json:"history"`
}

// History returns the vault's global context change history.
func (c *Client) History(ctx context.Context, sessionID string) ([]models.ContextEvent, error) {
	var out historyResponse
	if err := c.getJSON(ctx, "history", "/ccow/history?scope=global", sessionID, &out); err != nil {
		return nil, err
	}

	events := make([]models.ContextEvent, 0, len(out.History))
	for _, e := range out.History {
		events = append(events, models.ContextEvent{
			Action:    orDefault(e.Action, "unknown"),
			Email:     orDefault(e.Email, "Unknown"),
			PatientID: e.PatientID,
			Actor:     orDefault(e.Actor, "unknown"),
			Timestamp: parseTimestamp(e.Timestamp),
		})
	}
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, op, path, sessionID string, dst any) error {
	resp, err := c.do(ctx, healthTimeout, http.MethodGet, path, sessionID, nil)
	if err != nil {
		c.fail(op, err)
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("CCOW returned status %d", resp.StatusCode)
		c.fail(op, err)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		err = fmt.Errorf("decode %s: %w", op, err)
		c.fail(op, err)
		return err
	}
	metrics.CCOWCall(op, "ok")
	return nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path, sessionID string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		cancel()
		return nil, err
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) fail(op string, err error) {
	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	c.logger.Warn("vault call failed", zap.String("operation", op), zap.Error(err))
	metrics.CCOWCall(op, outcome)
}

// cancelBody releases the per-call timeout once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
