package collaborators

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/google/uuid"
)

// LabelPrinter implements DocumentGenerator. Labels and tracking numbers are
// keyed by idempotency key so repeated requests return the same document.
type LabelPrinter struct {
	mu       sync.Mutex
	labels   map[string]*ports.Label
	tracking map[string]*ports.Tracking
	baseURL  string
}

// NewLabelPrinter creates a printer serving documents under baseURL
func NewLabelPrinter(baseURL string) *LabelPrinter {
	if baseURL == "" {
		baseURL = "https://labels.local"
	}
	return &LabelPrinter{
		labels:   make(map[string]*ports.Label),
		tracking: make(map[string]*ports.Tracking),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// GenerateLabel returns the existing label for the key or creates one
func (p *LabelPrinter) GenerateLabel(ctx context.Context, req ports.LabelRequest) (*ports.Label, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if req.Carrier == "" {
		return nil, fmt.Errorf("carrier is required to print a label")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.labels[req.IdempotencyKey]; ok {
		c := *l
		return &c, nil
	}
	id := uuid.New().String()
	l := &ports.Label{
		ID:        id,
		Carrier:   req.Carrier,
		Format:    "PDF",
		URL:       fmt.Sprintf("%s/labels/%s.pdf", p.baseURL, id),
		CreatedAt: time.Now(),
	}
	p.labels[req.IdempotencyKey] = l
	c := *l
	return &c, nil
}

// GenerateTracking returns the existing tracking number for the key or creates one
func (p *LabelPrinter) GenerateTracking(ctx context.Context, req ports.TrackingRequest) (*ports.Tracking, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tracking[req.IdempotencyKey]; ok {
		c := *t
		return &c, nil
	}
	number := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
	t := &ports.Tracking{
		Number:  number,
		Carrier: req.Carrier,
		URL:     fmt.Sprintf("%s/track/%s", p.baseURL, number),
	}
	p.tracking[req.IdempotencyKey] = t
	c := *t
	return &c, nil
}

// LabelCount returns the number of distinct labels printed
func (p *LabelPrinter) LabelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.labels)
}
