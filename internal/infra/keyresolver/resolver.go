package keyresolver

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"eat/internal/domain"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/telemetry/diagnostics"
	"eat/internal/infra/truststore"
)

// ResolvedKey is a verification key scoped to one verification call.
type ResolvedKey struct {
	KeyID    string
	Strategy string
	Public   *rsa.PublicKey
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Probe   diagnostics.Probe
	// Timeout bounds each strategy attempt.
	Timeout time.Duration
}

// Resolver walks an ordered strategy list and returns the first key found.
type Resolver struct {
	strategies []Strategy
	logger     *zap.Logger
	metrics    domain.Metrics
	probe      diagnostics.Probe
	timeout    time.Duration
}

func New(strategies []Strategy, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultKeyResolutionTimeoutSeconds * time.Second
	}
	return &Resolver{
		strategies: append([]Strategy(nil), strategies...),
		logger:     logger.Named("keyresolver"),
		metrics:    telemetry.OrNoop(opts.Metrics),
		probe:      diagnostics.OrNoop(opts.Probe),
		timeout:    timeout,
	}
}

// NewDefault builds the did.json, trust store, jwks chain.
func NewDefault(fetcher DocumentFetcher, store truststore.Store, opts Options) *Resolver {
	return New([]Strategy{
		DIDWebStrategy{Fetcher: fetcher},
		TrustStoreStrategy{Store: store},
		JWKSStrategy{Fetcher: fetcher},
	}, opts)
}

// Strategies returns the strategy names in the order they are tried.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns the first key any strategy produces for catalogOrigin and
// keyID. Intermediate failures are logged at debug level only.
func (r *Resolver) Resolve(ctx context.Context, catalogOrigin, keyID string) (ResolvedKey, error) {
	const op = "keyresolver.resolve"
	origin, err := url.Parse(strings.TrimSpace(catalogOrigin))
	if err != nil {
		return ResolvedKey{}, domain.KeyResolutionError(op, fmt.Sprintf("invalid catalog origin %q", catalogOrigin), err)
	}
	if len(r.strategies) == 0 {
		return ResolvedKey{}, domain.KeyResolutionError(op, "no key resolution strategies configured", nil)
	}

	logger := telemetry.LoggerWithRequest(ctx, r.logger).With(telemetry.KeyIDField(keyID))
	var lastErr error
	for _, strategy := range r.strategies {
		name := strategy.Name()
		started := time.Now()
		r.probe.Record(diagnostics.Event{
			Origin:   catalogOrigin,
			Step:     diagnostics.StepKeyStrategy,
			Phase:    diagnostics.PhaseEnter,
			Strategy: name,
		})

		key, err := r.attempt(ctx, strategy, origin, keyID)
		r.metrics.ObserveKeyResolution(name, err)
		event := diagnostics.Event{
			Origin:   catalogOrigin,
			Step:     diagnostics.StepKeyStrategy,
			Phase:    diagnostics.PhaseExit,
			Strategy: name,
			Duration: time.Since(started),
		}
		if err != nil {
			event.Phase = diagnostics.PhaseError
			event.Error = err.Error()
			r.probe.Record(event)
			logger.Debug("key strategy failed",
				telemetry.EventField(telemetry.EventStrategyFailed),
				telemetry.StrategyField(name),
				zap.Error(err),
			)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		r.probe.Record(event)
		logger.Debug("key resolved",
			telemetry.EventField(telemetry.EventKeyResolved),
			telemetry.StrategyField(name),
			telemetry.DurationField(event.Duration),
		)
		return ResolvedKey{KeyID: keyID, Strategy: name, Public: key}, nil
	}

	return ResolvedKey{}, domain.KeyResolutionError(op,
		fmt.Sprintf("no strategy produced a key (tried %s): %v", strings.Join(r.Strategies(), ", "), lastErr),
		lastErr)
}

func (r *Resolver) attempt(ctx context.Context, strategy Strategy, origin *url.URL, keyID string) (*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key, err := strategy.Resolve(ctx, origin, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%s: %w", strategy.Name(), ErrNoMatchingKey)
	}
	return key, nil
}
