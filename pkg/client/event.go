package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
)

// Wire views mirrored from the engine's event payloads.

type SessionView struct {
	ID                 string   `json:"id,omitempty"`
	Kind               string   `json:"kind"`
	State              string   `json:"state"`
	DisplayText        string   `json:"displayText,omitempty"`
	Citations          []string `json:"citations,omitempty"`
	SuggestedQuestions []string `json:"suggestedQuestions,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type TurnView struct {
	ID                 string   `json:"id"`
	Index              int      `json:"index"`
	Role               string   `json:"role"`
	DisplayText        string   `json:"displayText"`
	Citations          []string `json:"citations,omitempty"`
	SuggestedFollowUps []string `json:"suggestedFollowUps,omitempty"`
}

type ViewModel struct {
	PageURL        string        `json:"pageUrl,omitempty"`
	ActiveCitation string        `json:"activeCitation,omitempty"`
	Sessions       []SessionView `json:"sessions"`
	Turns          []TurnView    `json:"turns"`
}

type HighlightCommand struct {
	Op   string `json:"op"`
	Key  string `json:"key,omitempty"`
	Path string `json:"path"`
}

type LoginRequired struct {
	Kind string `json:"kind"`
}

type StatusMessage struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Duration  int64  `json:"duration,omitempty"`
	Timestamp string `json:"timestamp"`
}

type LogEntry struct {
	ID         string            `json:"id"`
	Timestamp  string            `json:"timestamp"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

var EventMap = map[string]any{
	"session_created":      SessionView{},
	"session_updated":      SessionView{},
	"turn_created":         TurnView{},
	"turn_updated":         TurnView{},
	"conversation_cleared": TurnView{},
	"highlight_command":    HighlightCommand{},
	"login_required":       LoginRequired{},
	"status_published":     StatusMessage{},
	"log_created":          LogEntry{},
}

type EventMessage struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Event subscribes to the engine's SSE stream and decodes each event into
// its typed payload. Unknown event types are skipped.
func (c *Client) Event(ctx context.Context) (<-chan any, error) {
	events := make(chan any)
	req, err := http.NewRequestWithContext(ctx, "GET", c.Server+"event", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				data := strings.TrimPrefix(line, "data: ")

				var eventMsg EventMessage
				if err := json.Unmarshal([]byte(data), &eventMsg); err != nil {
					continue
				}

				eventTemplate, exists := EventMap[eventMsg.Type]
				if !exists {
					continue
				}

				eventValue := reflect.New(reflect.TypeOf(eventTemplate)).Interface()

				if err := json.Unmarshal(eventMsg.Properties, eventValue); err != nil {
					continue
				}

				select {
				case events <- eventValue:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
