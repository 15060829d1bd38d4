package analysis

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/llm"
	"github.com/JakeFAU/hidden-spot/internal/metrics"
)

// ModelSelector holds the process-wide model choice for one capability and
// applies at most one runtime fallback.
type ModelSelector struct {
	mu         sync.Mutex
	current    string
	applied    bool
	preferred  []string
	lister     llm.ModelLister
	capability llm.Capability
	logger     *zap.Logger
}

// NewModelSelector starts on initial. preferred ranks fallback candidates.
func NewModelSelector(lister llm.ModelLister, capability llm.Capability, initial string, preferred []string, logger *zap.Logger) *ModelSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelSelector{
		current:    initial,
		preferred:  slices.Clone(preferred),
		lister:     lister,
		capability: capability,
		logger:     logger,
	}
}

// Current returns the model in use.
func (s *ModelSelector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Fallback reports the model a request that failed on model should be
// retried with. The backend is queried at most once per selector; after a
// switch, callers that still hold the old name are pointed at the new one,
// and a failure on the replacement yields false.
func (s *ModelSelector) Fallback(ctx context.Context, failed string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied {
		if s.current != failed && s.current != "" {
			return s.current, true
		}
		return "", false
	}
	s.applied = true
	if s.lister == nil {
		return "", false
	}

	available, err := s.lister.ListModels(ctx, s.capability)
	if err != nil {
		s.logger.Warn("list models failed", zap.String("capability", string(s.capability)), zap.Error(err))
		return "", false
	}
	next := pickModel(available, s.preferred, failed)
	if next == "" {
		s.logger.Warn("no fallback model available", zap.String("failed", failed))
		return "", false
	}
	s.logger.Info("switching model",
		zap.String("capability", string(s.capability)),
		zap.String("from", failed),
		zap.String("to", next),
	)
	metrics.ObserveModelFallback(string(s.capability), failed, next)
	s.current = next
	return next, true
}

// pickModel returns the first preferred name present in available, else
// the lexically first available name. failed is never chosen.
func pickModel(available, preferred []string, failed string) string {
	set := make(map[string]struct{}, len(available))
	for _, m := range available {
		if m != "" && m != failed {
			set[m] = struct{}{}
		}
	}
	for _, p := range preferred {
		if _, ok := set[p]; ok {
			return p
		}
	}
	if len(set) == 0 {
		return ""
	}
	names := make([]string, 0, len(set))
	for m := range set {
		names = append(names, m)
	}
	slices.Sort(names)
	return names[0]
}
