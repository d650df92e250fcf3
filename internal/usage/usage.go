// Package usage decides whether an AI request may proceed, either with a
// credential or against the metered free trial.
package usage

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/models"
)

// LedgerKey is the storage key of the trial counter.
const LedgerKey = "trialUsageCount"

// DefaultLimit is the number of free trial invocations.
const DefaultLimit = 20

// ErrTrialExhausted is returned when there is no credential and the trial is used up.
var ErrTrialExhausted = errors.New("No API key provided and the free trial is used up. Add your OpenAI API key in settings to keep chatting.")

// Grant sources.
const (
	SourceSupplied = "supplied"
	SourceFallback = "fallback"
	SourceTrial    = "trial"
	SourceDenied   = "denied"
)

// Grant is the outcome of a successful authorization.
type Grant struct {
	Key                string // empty on the trial path
	CountsAgainstTrial bool
	Source             string
}

// KV is the subset of the storage contract the gate needs.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Gate owns the trial ledger.
type Gate struct {
	kv          KV
	limit       int
	fallbackKey string
	metrics     *metrics.Exporter

	mu sync.Mutex
}

// NewGate creates a gate. fallbackKey comes from the environment or the build.
func NewGate(kv KV, limit int, fallbackKey string, m *metrics.Exporter) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Gate{
		kv:          kv,
		limit:       limit,
		fallbackKey: strings.TrimSpace(fallbackKey),
		metrics:     m,
	}
}

// Check reports whether a request could proceed without consuming anything.
// Classification and refinement calls use it.
func (g *Gate) Check(suppliedKey string) (Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decide(suppliedKey)
}

// Authorize is called once per logical request, right before the terminal
// content-producing call. On the trial path it consumes one use.
func (g *Gate) Authorize(suppliedKey string) (Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grant, err := g.decide(suppliedKey)
	if err != nil {
		g.metrics.TrialDecision(SourceDenied)
		return grant, err
	}
	if grant.CountsAgainstTrial {
		next := g.consumed() + 1
		if err := g.kv.Set(LedgerKey, strconv.Itoa(next)); err != nil {
			slog.Error("Failed to write trial ledger", "error", err)
			return Grant{}, errors.Wrap(err, "write trial ledger")
		}
		slog.Info("Trial use consumed", "consumed", next, "limit", g.limit)
	}
	g.metrics.TrialDecision(grant.Source)
	return grant, nil
}

func (g *Gate) decide(suppliedKey string) (Grant, error) {
	if k := strings.TrimSpace(suppliedKey); k != "" {
		return Grant{Key: k, Source: SourceSupplied}, nil
	}
	if g.fallbackKey != "" {
		return Grant{Key: g.fallbackKey, Source: SourceFallback}, nil
	}
	if g.consumed() < g.limit {
		return Grant{CountsAgainstTrial: true, Source: SourceTrial}, nil
	}
	return Grant{}, ErrTrialExhausted
}

// consumed reads the ledger. An unreadable or corrupt value counts as an
// exhausted trial so a damaged ledger can never grant free uses.
func (g *Gate) consumed() int {
	raw, ok, err := g.kv.Get(LedgerKey)
	if err != nil {
		slog.Error("Failed to read trial ledger", "error", err)
		return g.limit
	}
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		slog.Warn("Trial ledger is corrupt, treating trial as used up", "value", raw)
		return g.limit
	}
	return n
}

// Status summarises the ledger. hasKey reports whether the user supplied a key.
func (g *Gate) Status(hasKey bool) models.TrialStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	used := g.consumed()
	remaining := g.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return models.TrialStatus{
		Consumed:      used,
		Limit:         g.limit,
		Remaining:     remaining,
		HasFallback:   g.fallbackKey != "",
		HasCredential: hasKey,
	}
}

// Reset clears the ledger. It is an operator action, not a user one.
func (g *Gate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.kv.Delete(LedgerKey); err != nil {
		return errors.Wrap(err, "reset trial ledger")
	}
	slog.Info("Trial ledger reset")
	return nil
}
