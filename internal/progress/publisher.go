// Package progress publishes decomposition progress on per-workspace
// channels. Delivery is fire-and-forget: there is no buffering and no replay,
// so a subscriber only sees messages published after it subscribed.
package progress

import (
	"time"

	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
)

// Channel names.
const (
	ChannelLog      = "decompose:log"
	ChannelState    = "decompose:state"
	ChannelComplete = "decompose:complete"
	ChannelError    = "decompose:error"
)

// Channels lists every progress channel.
var Channels = []string{ChannelLog, ChannelState, ChannelComplete, ChannelError}

// LogPayload is one line of human-readable progress.
type LogPayload struct {
	Line       string `json:"line"`
	ArtifactID string `json:"artifactId,omitempty"`
}

// StatePayload is a state transition of one artifact.
type StatePayload struct {
	ArtifactID string `json:"artifactId"`
	statestore.State
}

// CompletePayload is published when a run reaches COMPLETED.
type CompletePayload struct {
	Success    bool               `json:"success"`
	StoryCount int                `json:"storyCount"`
	OutputPath string             `json:"outputPath"`
	Verdict    statestore.Verdict `json:"verdict"`
	Issues     []stage.Issue      `json:"issues,omitempty"`
	ArtifactID string             `json:"artifactId,omitempty"`
}

// ErrorPayload is published when a run fails.
type ErrorPayload struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
}

// Message is what subscribers receive.
type Message struct {
	WorkspaceID string    `json:"workspaceId"`
	Channel     string    `json:"channel"`
	Payload     any       `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher fans progress messages out to workspace subscribers.
type Publisher struct {
	bus *event.Bus
}

// NewPublisher creates a Publisher on bus.
func NewPublisher(bus *event.Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Bus returns the underlying event bus.
func (p *Publisher) Bus() *event.Bus { return p.bus }

// Publish sends payload on channel to the subscribers of workspaceID.
func (p *Publisher) Publish(workspaceID, channel string, payload any) {
	p.bus.Publish(event.NewProgressEvent(workspaceID, channel, payload))
}

// Log publishes a log line.
func (p *Publisher) Log(workspaceID, artifactID, line string) {
	p.Publish(workspaceID, ChannelLog, LogPayload{Line: line, ArtifactID: artifactID})
}

// State publishes a state transition.
func (p *Publisher) State(workspaceID, artifactID string, s statestore.State) {
	p.Publish(workspaceID, ChannelState, StatePayload{ArtifactID: artifactID, State: s})
}

// Subscribe registers handler for every channel of workspaceID and returns a
// function that removes it. Handlers run synchronously on the publishing
// goroutine and must not block.
func (p *Publisher) Subscribe(workspaceID string, handler func(Message)) (unsubscribe func()) {
	ids := make([]string, 0, len(Channels))
	for _, ch := range Channels {
		ids = append(ids, p.bus.Subscribe(ch, func(e event.Event) {
			pe, ok := e.(event.ProgressEvent)
			if !ok || pe.WorkspaceID != workspaceID {
				return
			}
			handler(Message{
				WorkspaceID: pe.WorkspaceID,
				Channel:     pe.Channel,
				Payload:     pe.Payload,
				Timestamp:   pe.Timestamp(),
			})
		}))
	}
	return func() {
		for _, id := range ids {
			p.bus.Unsubscribe(id)
		}
	}
}
