package progress

import (
	"testing"

	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/statestore"
)

func TestPublisherScopesByWorkspace(t *testing.T) {
	p := NewPublisher(event.NewBus())

	var got []Message
	unsubscribe := p.Subscribe("ws-a", func(m Message) { got = append(got, m) })

	p.Log("ws-a", "billing", "Generating tasks...")
	p.Log("ws-b", "billing", "other workspace")
	p.State("ws-a", "billing", statestore.State{Status: statestore.StatusReviewing})
	p.Publish("ws-a", ChannelComplete, CompletePayload{Success: true, StoryCount: 3})

	if len(got) != 3 {
		t.Fatalf("received %d messages, want 3", len(got))
	}
	if got[0].Channel != ChannelLog || got[0].Payload.(LogPayload).Line != "Generating tasks..." {
		t.Errorf("first message = %+v", got[0])
	}
	if sp := got[1].Payload.(StatePayload); sp.Status != statestore.StatusReviewing || sp.ArtifactID != "billing" {
		t.Errorf("state payload = %+v", sp)
	}
	if got[2].Payload.(CompletePayload).StoryCount != 3 {
		t.Errorf("complete payload = %+v", got[2].Payload)
	}

	unsubscribe()
	p.Log("ws-a", "billing", "after unsubscribe")
	if len(got) != 3 {
		t.Errorf("received message after unsubscribe")
	}
	if n := p.Bus().SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe, want 0", n)
	}
}

func TestPublisherNoReplay(t *testing.T) {
	p := NewPublisher(event.NewBus())
	p.Log("ws", "a", "before")

	var got []Message
	p.Subscribe("ws", func(m Message) { got = append(got, m) })
	if len(got) != 0 {
		t.Errorf("late subscriber received %d old messages", len(got))
	}
}

func TestPublisherSurvivesPanickingHandler(t *testing.T) {
	p := NewPublisher(event.NewBus())
	p.Subscribe("ws", func(Message) { panic("boom") })

	var delivered bool
	p.Subscribe("ws", func(Message) { delivered = true })

	p.Publish("ws", ChannelError, ErrorPayload{Error: "x"})
	if !delivered {
		t.Error("second handler not called after first panicked")
	}
}
