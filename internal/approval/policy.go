package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchkit/core/internal/core"
)

// CheckpointStatus tracks the lifecycle of a pending approval checkpoint,
// mirroring the phase-A/phase-B split of spec §4.5.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointRejected CheckpointStatus = "rejected"
	CheckpointExpired  CheckpointStatus = "expired"
)

// Checkpoint is the persisted state behind one phase-A request, resumable
// by its ID via CheckApproval.
type Checkpoint struct {
	ApprovalID string
	Request    *core.ApprovalRequest
	Status     CheckpointStatus
	ApprovedBy string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ExpiryConfig controls the PolicyHandler's background expiry scan.
type ExpiryConfig struct {
	// ScanInterval is how often pending checkpoints are checked for
	// expiry. Zero disables the background scan; ExpireDue must then be
	// called explicitly (e.g. from a test).
	ScanInterval time.Duration
	// DefaultTimeout is how long a checkpoint stays pending before it is
	// expired, when there is no Decider or the Decider returns a zero TTL.
	DefaultTimeout time.Duration
}

// Decider is consulted by PolicyHandler on every phase-A request; it
// returns the checkpoint TTL to apply (zero means ExpiryConfig.DefaultTimeout)
// and whether the request should be auto-approved outright (bypassing the
// pending state entirely, e.g. for annotated-safe modules under a rule).
type Decider interface {
	Decide(ctx context.Context, req *core.ApprovalRequest) (ttl time.Duration, autoApprove bool)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req *core.ApprovalRequest) (time.Duration, bool)

func (f DeciderFunc) Decide(ctx context.Context, req *core.ApprovalRequest) (time.Duration, bool) {
	return f(ctx, req)
}

// PolicyHandler is a checkpoint-backed Handler: phase A stores a pending
// Checkpoint and returns ApprovalPending; an operator resolves it out of
// band via Resolve; phase B (CheckApproval) reports the resolved status.
// A background goroutine expires checkpoints that outlive their TTL.
//
// Grounded on the checkpoint/expiry-processor split of a human-in-the-loop
// orchestration layer: SaveCheckpoint/UpdateCheckpointStatus there map to
// save/Resolve here, and StartExpiryProcessor maps to the scan loop started
// by NewPolicyHandler.
type PolicyHandler struct {
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	decider     Decider
	cfg         ExpiryConfig

	stop chan struct{}
	once sync.Once
}

// NewPolicyHandler builds a PolicyHandler and, if cfg.ScanInterval is
// non-zero, starts its background expiry goroutine. Callers must call
// Close when done to stop that goroutine.
func NewPolicyHandler(decider Decider, cfg ExpiryConfig) *PolicyHandler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	h := &PolicyHandler{
		checkpoints: make(map[string]*Checkpoint),
		decider:     decider,
		cfg:         cfg,
		stop:        make(chan struct{}),
	}
	if cfg.ScanInterval > 0 {
		go h.scanLoop()
	}
	return h
}

// Close stops the background expiry goroutine, if running. Safe to call
// more than once.
func (h *PolicyHandler) Close() {
	h.once.Do(func() { close(h.stop) })
}

func (h *PolicyHandler) scanLoop() {
	ticker := time.NewTicker(h.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.ExpireDue(time.Now())
		}
	}
}

// RequestApproval implements Handler phase A.
func (h *PolicyHandler) RequestApproval(ctx context.Context, req *core.ApprovalRequest) (*core.ApprovalResult, error) {
	ttl := h.cfg.DefaultTimeout
	autoApprove := false
	if h.decider != nil {
		d, auto := h.decider.Decide(ctx, req)
		if d > 0 {
			ttl = d
		}
		autoApprove = auto
	}

	if autoApprove {
		return &core.ApprovalResult{Status: core.ApprovalApproved, ApprovedBy: "policy"}, nil
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	cp := &Checkpoint{
		ApprovalID: id,
		Request:    req,
		Status:     CheckpointPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	h.mu.Lock()
	h.checkpoints[id] = cp
	h.mu.Unlock()

	return &core.ApprovalResult{Status: core.ApprovalPending, ApprovalID: id}, nil
}

// CheckApproval implements Handler phase B.
func (h *PolicyHandler) CheckApproval(ctx context.Context, approvalID string) (*core.ApprovalResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp, ok := h.checkpoints[approvalID]
	if !ok {
		return &core.ApprovalResult{Status: core.ApprovalRejected, Reason: "unknown approval id"}, nil
	}

	switch cp.Status {
	case CheckpointApproved:
		return &core.ApprovalResult{Status: core.ApprovalApproved, ApprovedBy: cp.ApprovedBy, ApprovalID: cp.ApprovalID}, nil
	case CheckpointRejected:
		return &core.ApprovalResult{Status: core.ApprovalRejected, Reason: cp.Reason, ApprovalID: cp.ApprovalID}, nil
	case CheckpointExpired:
		return &core.ApprovalResult{Status: core.ApprovalTimeout, ApprovalID: cp.ApprovalID}, nil
	default:
		return &core.ApprovalResult{Status: core.ApprovalPending, ApprovalID: cp.ApprovalID}, nil
	}
}

// Resolve records an operator's decision on a pending checkpoint. Returns
// false if approvalID is unknown or already resolved.
func (h *PolicyHandler) Resolve(approvalID string, approved bool, approvedBy, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp, ok := h.checkpoints[approvalID]
	if !ok || cp.Status != CheckpointPending {
		return false
	}
	if approved {
		cp.Status = CheckpointApproved
		cp.ApprovedBy = approvedBy
	} else {
		cp.Status = CheckpointRejected
		cp.Reason = reason
	}
	return true
}

// ExpireDue marks every pending checkpoint whose ExpiresAt is at or before
// asOf as expired, returning the IDs it expired.
func (h *PolicyHandler) ExpireDue(asOf time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var expired []string
	for id, cp := range h.checkpoints {
		if cp.Status == CheckpointPending && !cp.ExpiresAt.After(asOf) {
			cp.Status = CheckpointExpired
			expired = append(expired, id)
		}
	}
	return expired
}

// Pending returns a snapshot of every checkpoint currently pending.
func (h *PolicyHandler) Pending() []*Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Checkpoint, 0)
	for _, cp := range h.checkpoints {
		if cp.Status == CheckpointPending {
			cpCopy := *cp
			out = append(out, &cpCopy)
		}
	}
	return out
}
