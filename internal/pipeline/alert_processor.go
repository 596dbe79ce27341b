// --- File: internal/pipeline/alert_processor.go ---
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/dispatch"
	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// AlertDispatcher is the delivery core seen from the ingress side.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, userID string, alert alerting.AlertMessage) (dispatch.Result, error)
	Broadcast(ctx context.Context, alert alerting.AlertMessage) (dispatch.BroadcastResult, error)
}

// ChannelStatus is the reply view of one fallback channel outcome.
type ChannelStatus struct {
	Channel string `json:"channel"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Response is what ingress callers get back for an accepted alert.
type Response struct {
	AlertID    string          `json:"alert_id"`
	Outcome    string          `json:"outcome"`
	Users      int             `json:"users,omitempty"`
	Delivered  int             `json:"delivered"`
	Fallback   []ChannelStatus `json:"fallback,omitempty"`
	QueueError string          `json:"queue_error,omitempty"`
}

// AlertProcessor handles one decoded AlertRequest.
type AlertProcessor func(ctx context.Context, msgID string, req *alerting.AlertRequest) (Response, error)

// NewAlertProcessor routes targeted requests to Dispatch and broadcast
// requests to Broadcast.
func NewAlertProcessor(d AlertDispatcher, logger zerolog.Logger) (AlertProcessor, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	logger = logger.With().Str("component", "AlertProcessor").Logger()

	return func(ctx context.Context, msgID string, req *alerting.AlertRequest) (Response, error) {
		procLogger := logger.With().
			Str("msg_id", msgID).
			Str("alert", req.Alert.ID).
			Bool("broadcast", req.Broadcast).
			Logger()

		if req.Broadcast {
			res, err := d.Broadcast(ctx, req.Alert)
			if err != nil {
				procLogger.Warn().Err(err).Msg("Rejected broadcast")
				return Response{}, err
			}
			return Response{
				AlertID:   req.Alert.ID,
				Outcome:   alerting.OutcomeBroadcast,
				Users:     res.Users,
				Delivered: res.Delivered,
			}, nil
		}

		res, err := d.Dispatch(ctx, req.UserID, req.Alert)
		if err != nil {
			procLogger.Warn().Err(err).Str("user", req.UserID).Msg("Rejected alert")
			return Response{}, err
		}
		resp := Response{AlertID: req.Alert.ID, Outcome: res.Outcome}
		if res.Outcome == alerting.OutcomeDelivered {
			resp.Delivered = 1
		}
		if res.QueueErr != nil {
			resp.QueueError = res.QueueErr.Error()
		}
		for _, r := range res.Fallback.Results {
			resp.Fallback = append(resp.Fallback, channelStatus(r))
		}
		return resp, nil
	}, nil
}

func channelStatus(r fallback.ChannelResult) ChannelStatus {
	s := ChannelStatus{Channel: r.Channel, Outcome: string(r.Outcome)}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}
