package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/rs/zerolog/log"
)

const (
	eventSource     = "patient-triage"
	eventDetailType = "StaffAlert"
)

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// StaffAlert is the event detail published for each staff alert.
type StaffAlert struct {
	SessionID string    `json:"sessionId"`
	Priority  string    `json:"priority"`
	Target    string    `json:"target"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// EventBridgeSink publishes staff alerts to an EventBridge bus, where paging
// and ward-display rules pick them up.
type EventBridgeSink struct {
	client  PutEventsAPI
	busName string
}

// NewEventBridgeSink creates a sink for busName. An empty name targets the
// account's default bus.
func NewEventBridgeSink(client PutEventsAPI, busName string) *EventBridgeSink {
	return &EventBridgeSink{client: client, busName: busName}
}

func (s *EventBridgeSink) AlertStaff(ctx context.Context, sessionID string, a encounter.Action) error {
	detail, err := json.Marshal(StaffAlert{
		SessionID: sessionID,
		Priority:  a.Priority,
		Target:    a.Target,
		Message:   a.Message,
		RaisedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal StaffAlert: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(eventDetailType),
		Detail:     aws.String(string(detail)),
	}
	if s.busName != "" {
		entry.EventBusName = aws.String(s.busName)
	}

	result, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("session_id", sessionID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("session_id", sessionID).Str("priority", a.Priority).Msg("Staff alert published to EventBridge")
	return nil
}
