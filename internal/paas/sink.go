package paas

import (
	"context"
	"time"

	"go.uber.org/zap"

	"auctionhouse/internal/models"
)

// DivergenceSink raises an alert in the platform log for every record the
// reconciler could not verify.
type DivergenceSink struct {
	Client *Client
	Logger *zap.Logger
}

func (s *DivergenceSink) ReportDivergence(ctx context.Context, d models.Divergence) {
	if s == nil || s.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := s.Client.CreateLog(ctx, LogEntry{
		Action: "record_divergence",
		Level:  "error",
		Details: map[string]any{
			"auction_id": d.AuctionID.String(),
			"operation":  d.Operation,
			"digest":     d.TxDigest,
			"reason":     d.Reason,
			"patch":      string(d.Patch),
		},
	})
	if err != nil && s.Logger != nil {
		s.Logger.Debug("paas divergence alert failed", zap.String("auction_id", d.AuctionID.String()), zap.Error(err))
	}
}
