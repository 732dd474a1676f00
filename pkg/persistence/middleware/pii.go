package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/state"
)

// Mask replaces values whose key matches a PII pattern.
const Mask = "***"

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the
// patterns in user values, node outputs and inputs before they are persisted.
// Masking is one-way: loaded states carry the mask.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PII pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, p *state.Persisted) error {
	// Copy so the caller's snapshot keeps the real values.
	masked := *p
	masked.Values = m.masked(p.Values)
	masked.ExternalInputs = m.masked(p.ExternalInputs)
	masked.WorkflowInputs = m.masked(p.WorkflowInputs)
	if p.NodeOutputs != nil {
		masked.NodeOutputs = make(map[domain.NodeID]map[string]any, len(p.NodeOutputs))
		for id, outputs := range p.NodeOutputs {
			masked.NodeOutputs[id] = m.masked(outputs)
		}
	}
	return m.next.Save(ctx, sessionID, &masked)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*state.Persisted, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) masked(values map[string]any) map[string]any {
	out := domain.CopyValue(values).(map[string]any)
	m.mask(out)
	return out
}

func (m *piiMiddleware) mask(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if m.matches(k) {
				t[k] = Mask
				continue
			}
			m.mask(val)
		}
	case []any:
		for _, val := range t {
			m.mask(val)
		}
	}
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
