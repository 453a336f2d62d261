package event

import (
	"fmt"
	"time"
)

type Event interface {
	Message() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	message    string
	occurredAt time.Time
}

func (b BaseEvent) Message() string {
	return b.message
}

func (b BaseEvent) OccurredAt() time.Time {
	return b.occurredAt
}

func Text(format string, args ...any) BaseEvent {
	return BaseEvent{
		message:    fmt.Sprintf(format, args...),
		occurredAt: time.Now(),
	}
}

// CommandReceivedEvent fires when a controller command passes auth and the
// enabled gate, before dispatch.
type CommandReceivedEvent struct {
	BaseEvent
	Sender  string
	Role    string
	Whisper bool
	Raw     string
}

func CommandReceived(sender, role string, whisper bool, raw string) CommandReceivedEvent {
	return CommandReceivedEvent{
		BaseEvent: Text("command from %s: %s", sender, raw),
		Sender:    sender,
		Role:      role,
		Whisper:   whisper,
		Raw:       raw,
	}
}

// CommandFailedEvent fires when a command could not be parsed or executed.
type CommandFailedEvent struct {
	BaseEvent
	Raw    string
	Reason string
}

func CommandFailed(raw, reason string) CommandFailedEvent {
	return CommandFailedEvent{
		BaseEvent: Text("command %q failed: %s", raw, reason),
		Raw:       raw,
		Reason:    reason,
	}
}

// ConnectionEvent fires when a relay endpoint gains or loses its client.
type ConnectionEvent struct {
	BaseEvent
	Role      string
	Connected bool
	Username  string
}

func Connection(role string, connected bool, username string) ConnectionEvent {
	state := "disconnected"
	if connected {
		state = "connected"
	}
	return ConnectionEvent{
		BaseEvent: Text("%s endpoint %s (%s)", role, state, username),
		Role:      role,
		Connected: connected,
		Username:  username,
	}
}

// TaskEvent fires when a repeating movement task starts or stops.
type TaskEvent struct {
	BaseEvent
	TaskID  string
	Kind    string
	Started bool
}

func TaskStarted(id, kind string) TaskEvent {
	return TaskEvent{BaseEvent: Text("%s task started", kind), TaskID: id, Kind: kind, Started: true}
}

func TaskStopped(id, kind string) TaskEvent {
	return TaskEvent{BaseEvent: Text("%s task stopped", kind), TaskID: id, Kind: kind}
}

// StaleWindowEvent fires when input injection hit a closed window handle.
type StaleWindowEvent struct {
	BaseEvent
	Title string
}

func StaleWindow(title string) StaleWindowEvent {
	return StaleWindowEvent{BaseEvent: Text("window %q is gone, re-select with $find", title), Title: title}
}

// AIRequestEvent fires when a question is handed to the browser session.
type AIRequestEvent struct {
	BaseEvent
	Question string
}

func AIRequest(question string) AIRequestEvent {
	return AIRequestEvent{BaseEvent: Text("AI question: %s", question), Question: question}
}

// AIResponseEvent fires when the browser session answered or failed.
type AIResponseEvent struct {
	BaseEvent
	Answer string
	Err    string
}

func AIResponse(answer string, err error) AIResponseEvent {
	e := AIResponseEvent{Answer: answer}
	if err != nil {
		e.Err = err.Error()
		e.BaseEvent = Text("AI failed: %s", err)
	} else {
		e.BaseEvent = Text("AI answered: %s", answer)
	}
	return e
}

// WindowSelectedEvent fires when the registry's selected window changes.
type WindowSelectedEvent struct {
	BaseEvent
	Index int
	Title string
}

func WindowSelected(index int, title string) WindowSelectedEvent {
	return WindowSelectedEvent{
		BaseEvent: Text("selected window %d: %s", index, title),
		Index:     index,
		Title:     title,
	}
}
