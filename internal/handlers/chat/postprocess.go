package chat

import (
	"context"
	"errors"

	"relay-api/internal/database"
	"relay-api/internal/metrics"
	"relay-api/internal/shared"
)

// debit runs detached from the request so a client disconnect does not undo
// a charge for a request upstream already accepted. Failures are logged and
// counted, never retried.
func (h *ChatHandler) debit(req *RequestInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), shared.BackgroundWriteTimeout)
	defer cancel()

	if err := h.Accounts.DebitCredit(ctx, req.UserID); err != nil {
		h.Log.Errorw("Failed to debit credit", "request_id", req.ID, "user_id", req.UserID, "error", errors.Join(shared.ErrDebitFailed, err))
		metrics.ErrorCount.WithLabelValues(req.Model, shared.ErrDebitFailed.Code).Inc()
		return
	}
	metrics.CreditUsage.WithLabelValues(req.Model).Inc()
}

// PostProcess observes metrics for a finished relay and stores its request
// record in the background
func (h *ChatHandler) PostProcess(req *RequestInfo, out *RelayOutput) {
	status := "completed"
	switch {
	case out.Canceled:
		status = "canceled"
	case !out.Completed:
		status = "partial"
	}
	metrics.RequestCount.WithLabelValues(req.Model, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Model).Observe(out.TotalTime.Seconds())
	if out.Frames > 0 {
		metrics.TimeToFirstToken.WithLabelValues(req.Model).Observe(out.TimeToFirstToken.Seconds())
	}
	if out.Error != nil {
		metrics.ErrorCount.WithLabelValues(req.Model, shared.ErrorCode(out.Error)).Inc()
	}

	if h.Recorder == nil {
		return
	}
	credits := uint64(0)
	if out.DebitIssued {
		credits = 1
	}
	rec := database.RequestRecord{
		RequestID:        req.ID,
		UserID:           req.UserID,
		Model:            req.Model,
		Credits:          credits,
		TimeToFirstToken: out.TimeToFirstToken,
		TotalTime:        out.TotalTime,
		Completed:        out.Completed,
		Canceled:         out.Canceled,
		CreatedAt:        req.StartTime,
	}
	h.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shared.BackgroundWriteTimeout)
		defer cancel()
		if err := h.Recorder.SaveRequest(ctx, rec); err != nil {
			h.Log.Warnw("Failed to save request record", "request_id", req.ID, "error", errors.Join(shared.ErrSaveRequestFailed, err))
			metrics.ErrorCount.WithLabelValues(req.Model, shared.ErrSaveRequestFailed.Code).Inc()
		}
	})
}
