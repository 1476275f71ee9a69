package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/ports/adapter"
)

var _ adapter.InferenceEngine = (*HTTPEngine)(nil)

// HTTPEngine calls a remote model server that returns the raw detector tensor
// as JSON. Retry is left to the queue; this adapter only classifies failures.
type HTTPEngine struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type inferPayload struct {
	Model       string  `json:"model"`
	FileID      string  `json:"file_id"`
	Profile     string  `json:"component_profile"`
	Sensitivity float64 `json:"sensitivity"`
	Image       []byte  `json:"image"`
}

type inferResponse struct {
	Rows        int       `json:"rows"`
	Cols        int       `json:"cols"`
	Data        []float32 `json:"data"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
	Error       string    `json:"error,omitempty"`
}

// NewHTTPEngine builds an engine for baseURL. A zero timeout defaults to 30s.
func NewHTTPEngine(baseURL, model, apiKey string, timeout time.Duration) (*HTTPEngine, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("inference base url empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Infer(ctx context.Context, req adapter.InferRequest) (*detection.RawOutput, error) {
	const op = "http inference"
	if len(req.Image) == 0 {
		return nil, domain.PermanentFile(op, errors.New("empty image"))
	}
	b, err := json.Marshal(inferPayload{
		Model:       e.model,
		FileID:      req.FileID,
		Profile:     req.ComponentProfile,
		Sensitivity: req.Sensitivity,
		Image:       req.Image,
	})
	if err != nil {
		return nil, domain.PermanentFile(op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/infer", bytes.NewReader(b))
	if err != nil {
		return nil, domain.Infrastructure(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.TransientInference(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, domain.TransientInference(op, cause)
		}
		return nil, domain.PermanentFile(op, cause)
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.TransientInference(op, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, domain.PermanentFile(op, errors.New(out.Error))
	}
	return &detection.RawOutput{
		Data:        out.Data,
		Rows:        out.Rows,
		Cols:        out.Cols,
		ImageWidth:  out.ImageWidth,
		ImageHeight: out.ImageHeight,
	}, nil
}
