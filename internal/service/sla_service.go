package service

import (
	"context"

	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// SLAService reads the due-time clock of purchase requests. It never writes.
type SLAService struct {
	*engine
}

// NewSLAService creates a new SLAService.
func NewSLAService(d Dependencies) *SLAService {
	return &SLAService{engine: newEngine(d)}
}

// GetSLAStatus classifies how long the request has been in its current status.
func (s *SLAService) GetSLAStatus(ctx context.Context, prID string) (out workflow.SLAStatus, err error) {
	ctx, finish := s.begin(ctx, "get_sla_status", prID)
	defer func() { finish(err) }()

	pr, err := s.load(ctx, prID)
	if err != nil {
		return workflow.SLAStatus{}, err
	}
	out = s.SLA.EvaluateSLA(pr.Status, pr.StatusChangedAt, s.now())
	s.Metrics.IncrementSLA(string(out.Classification))
	return out, nil
}
