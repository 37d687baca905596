// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/dbbackup/internal/core"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Payload is the JSON body posted for every run
type Payload struct {
	Type       string           `json:"type"`
	RunID      string           `json:"run_id"`
	Database   string           `json:"database"`
	Status     string           `json:"status"`
	Artifact   string           `json:"artifact,omitempty"`
	RemoteKey  string           `json:"remote_key,omitempty"`
	SizeBytes  int64            `json:"size_bytes"`
	Error      string           `json:"error,omitempty"`
	Retention  []RetentionState `json:"retention"`
	StartedAt  string           `json:"started_at"`
	FinishedAt string           `json:"finished_at"`
	DurationS  float64          `json:"duration_seconds"`
}

// RetentionState summarizes one store's retention pass
type RetentionState struct {
	Store    string   `json:"store"`
	Listed   int      `json:"listed"`
	Deleted  int      `json:"deleted"`
	Failures []string `json:"failures,omitempty"`
}

func (w *Webhook) Notify(ctx context.Context, report *core.RunReport) error {
	return w.post(ctx, reportToPayload(report))
}

func reportToPayload(r *core.RunReport) Payload {
	p := Payload{
		Type:       "backup_run",
		RunID:      r.RunID,
		Database:   r.Database,
		Status:     r.Status(),
		Artifact:   r.Artifact.Name,
		RemoteKey:  r.Artifact.RemoteKey,
		SizeBytes:  r.Artifact.Size,
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		FinishedAt: r.FinishedAt.Format(time.RFC3339),
		DurationS:  r.Duration().Seconds(),
	}

	switch {
	case r.Err != nil:
		p.Error = r.Err.Error()
	case r.UploadErr != nil:
		p.Error = r.UploadErr.Error()
	}

	for _, res := range []core.RetentionResult{r.Remote, r.Local} {
		if res.Store == "" {
			continue
		}
		st := RetentionState{Store: res.Store, Listed: res.Listed, Deleted: res.Deleted}
		if res.ListErr != nil {
			st.Failures = append(st.Failures, res.ListErr.Error())
		}
		for _, f := range res.Failures {
			st.Failures = append(st.Failures, f.Error())
		}
		p.Retention = append(p.Retention, st)
	}

	return p
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
