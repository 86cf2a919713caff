package fault

import (
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/infrastructure/monitoring"
	"github.com/kestrel-os/kestrel/internal/process"
	"github.com/kestrel-os/kestrel/internal/snapshot"
)

// Kind classifies what brought a process down.
type Kind string

const (
	// KindAccessViolation: the protection unit denied an access.
	KindAccessViolation Kind = "access-violation"
	// KindBadStackPointer: the stack pointer left the process's RAM,
	// detected at a trap boundary.
	KindBadStackPointer Kind = "bad-stack-pointer"
	// KindBadSyscall: a trap whose encoding indicates corrupted control
	// state, past what argument validation can absorb.
	KindBadSyscall Kind = "bad-syscall"
	// KindRegionLayout: the process's memory could no longer be expressed
	// in the protection unit after a grant boundary change.
	KindRegionLayout Kind = "region-layout"
)

// Handler applies the fault and restart policy.
type Handler struct {
	registry *capsule.Registry
	snaps    *snapshot.Writer
	log      *zap.Logger
	metrics  *monitoring.Metrics

	// preserveGrants keeps grant arena layout across restarts instead of
	// the default full re-layout. An explicit board choice.
	preserveGrants bool
}

// NewHandler creates a fault handler.
func NewHandler(registry *capsule.Registry, snaps *snapshot.Writer, preserveGrants bool,
	log *zap.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		registry:       registry,
		snaps:          snaps,
		preserveGrants: preserveGrants,
		log:            log,
		metrics:        metrics,
	}
}

// OnFault transitions the process to Faulted, records the fault, and
// applies its restart policy. It touches no other process.
func (h *Handler) OnFault(p *process.Process, kind Kind, addr uint32) {
	p.Faults++
	p.State = process.Faulted
	if h.metrics != nil {
		h.metrics.Faults.WithLabelValues(string(kind)).Inc()
	}
	h.log.Warn("process fault",
		zap.Int("pid", p.ID),
		zap.String("name", p.Name),
		zap.String("kind", string(kind)),
		zap.Uint32("addr", addr),
		zap.Int("faults", p.Faults),
		zap.String("policy", policyName(p)),
	)

	if h.snaps != nil {
		if err := h.snaps.Dump(p, string(kind), addr); err != nil {
			h.log.Warn("postmortem snapshot failed", zap.Int("pid", p.ID), zap.Error(err))
		}
	}

	if p.Policy != nil && p.Policy.ShouldRestart(p.Faults) {
		h.Restart(p)
		return
	}
	p.State = process.Stopped
	h.log.Info("process stopped by policy", zap.Int("pid", p.ID), zap.String("name", p.Name))
}

// Restart resets the process in place: fresh register context and stack
// pointer at the entry point, cleared upcall queue and shares, grant arena
// reset per the configured grant policy. The table slot and identity
// survive.
func (h *Handler) Restart(p *process.Process) {
	p.ResetForRestart(h.preserveGrants)
	if h.registry != nil {
		h.registry.NotifyReset(p.ID)
	}
	if h.metrics != nil {
		h.metrics.Restarts.Inc()
	}
	h.log.Info("process restarted",
		zap.Int("pid", p.ID),
		zap.String("name", p.Name),
		zap.String("instance", p.Instance.String()),
		zap.Int("restarts", p.Restarts),
	)
}

func policyName(p *process.Process) string {
	if p.Policy == nil {
		return "none"
	}
	return p.Policy.String()
}
