package transport

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/internal/observe"
)

// Orchestrator is the single entry point for per-call transport resolution.
// It composes the resolver and negotiator and emits one structured summary
// record per call, so the negotiated contract can be reconstructed from the
// log alone.
type Orchestrator struct {
	reg     *Registry
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. metrics and log may be nil, in
// which case the package defaults are used.
func NewOrchestrator(reg *Registry, metrics *observe.Metrics, log *slog.Logger) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{reg: reg, metrics: metrics, log: log}
}

// Resolve produces the transport profile and provider binding for one call.
//
// Resolution is synchronous and performs no I/O: profile and provider lookup
// walk the precedence chain (override, context, default, built-in fallback),
// then the profile's preferred formats are negotiated against the provider's
// static capability declaration. The runtime confirmation, if the provider
// sends one, is applied later by the session via [TransportProfile.WithAck].
func (o *Orchestrator) Resolve(ctx context.Context, ov Overrides) (TransportProfile, Binding, error) {
	ctx, span := observe.StartSpan(ctx, "transport.resolve")
	defer span.End()
	start := time.Now()

	cc := o.reg.contextFor(ov)

	spec, err := o.reg.resolveProfile(ov, cc)
	if err != nil {
		o.metrics.RecordCallFailed(ctx, "profile_not_found")
		return TransportProfile{}, Binding{}, err
	}

	providerName, binding, err := o.reg.resolveProvider(ov, cc)
	if err != nil {
		o.metrics.RecordCallFailed(ctx, "provider_not_found")
		return TransportProfile{}, Binding{}, err
	}

	in, out, remediation, err := negotiate(binding.Adapter.Capabilities(), spec.ProviderInput, spec.ProviderOutput)
	if err != nil {
		o.metrics.RecordCallFailed(ctx, "no_supported_format")
		return TransportProfile{}, Binding{}, err
	}

	tp := TransportProfile{
		Name:           spec.Name,
		Source:         spec.Source,
		Wire:           spec.Wire,
		Provider:       providerName,
		ProviderInput:  in,
		ProviderOutput: out,
		InternalRate:   spec.InternalRate,
		ChunkDuration:  spec.Chunk,
		IdleCutoff:     spec.IdleCutoff,
		Context:        ov.Context,
		Remediation:    remediation,
	}
	if cc != nil {
		tp.Prompt = cc.Prompt
		tp.Greeting = cc.Greeting
	}

	o.metrics.ResolutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", providerName)))
	if remediation != "" {
		o.metrics.RecordRemediation(ctx, providerName)
	}

	log := observe.Logger(ctx).With(
		"profile", tp.Name,
		"source", string(tp.Source),
		"provider", tp.Provider,
		"wire", tp.Wire.String(),
		"provider_input", tp.ProviderInput.String(),
		"provider_output", tp.ProviderOutput.String(),
		"chunk_ms", tp.ChunkDuration.Milliseconds(),
		"idle_cutoff_ms", tp.IdleCutoff.Milliseconds(),
	)
	if tp.Context != "" {
		log = log.With("context", tp.Context)
	}
	if remediation != "" {
		log.Warn("transport profile resolved with format substitution", "remediation", remediation)
	} else {
		log.Info("transport profile resolved")
	}

	return tp, binding, nil
}
