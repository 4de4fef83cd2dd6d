package line

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// EventType is the kind of inbound webhook event.
type EventType string

const (
	EventMessage  EventType = "message"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
	EventOther    EventType = "other"
)

// Message types reported in Event.MessageType.
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageVideo   = "video"
	MessageAudio   = "audio"
	MessageFile    = "file"
	MessageLoc     = "location"
	MessageSticker = "sticker"
	MessageUnknown = "unknown"
)

// Event is a decoded webhook event. Text is set only for text messages.
type Event struct {
	ID          string // webhookEventId, used for redelivery de-duplication
	Type        EventType
	RawType     string // SDK type name for EventOther
	UserID      string
	ReplyToken  string
	MessageType string
	Text        string
	Timestamp   time.Time
}

// Callback is a decoded webhook payload.
type Callback struct {
	Destination string
	Events      []Event
}

// ParseCallback decodes a raw webhook body. It does not verify signatures;
// callers must do that first.
func ParseCallback(body []byte) (*Callback, error) {
	var req webhook.CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	out := &Callback{Destination: req.Destination, Events: make([]Event, 0, len(req.Events))}
	for _, ev := range req.Events {
		out.Events = append(out.Events, convertEvent(ev))
	}
	return out, nil
}

// ParseDestination extracts only the destination (bot user ID) so the
// channel secret can be looked up before the payload is trusted.
func ParseDestination(body []byte) (string, error) {
	var head struct {
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	return head.Destination, nil
}

func convertEvent(ev webhook.EventInterface) Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return messageEvent(&e)
	case *webhook.MessageEvent:
		return messageEvent(e)
	case webhook.FollowEvent:
		return baseEvent(EventFollow, e.WebhookEventId, e.Source, e.ReplyToken, e.Timestamp)
	case *webhook.FollowEvent:
		return baseEvent(EventFollow, e.WebhookEventId, e.Source, e.ReplyToken, e.Timestamp)
	case webhook.UnfollowEvent:
		return baseEvent(EventUnfollow, e.WebhookEventId, e.Source, "", e.Timestamp)
	case *webhook.UnfollowEvent:
		return baseEvent(EventUnfollow, e.WebhookEventId, e.Source, "", e.Timestamp)
	default:
		return Event{Type: EventOther, RawType: fmt.Sprintf("%T", ev)}
	}
}

func messageEvent(e *webhook.MessageEvent) Event {
	out := baseEvent(EventMessage, e.WebhookEventId, e.Source, e.ReplyToken, e.Timestamp)
	out.MessageType, out.Text = messageContent(e.Message)
	return out
}

func baseEvent(t EventType, id string, src webhook.SourceInterface, replyToken string, ts int64) Event {
	ev := Event{ID: id, Type: t, UserID: sourceUserID(src), ReplyToken: replyToken}
	if ts > 0 {
		ev.Timestamp = time.UnixMilli(ts)
	}
	return ev
}

func sourceUserID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case *webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case *webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	case *webhook.RoomSource:
		return s.UserId
	}
	return ""
}

func messageContent(m webhook.MessageContentInterface) (typ, text string) {
	switch c := m.(type) {
	case webhook.TextMessageContent:
		return MessageText, c.Text
	case *webhook.TextMessageContent:
		return MessageText, c.Text
	case webhook.ImageMessageContent, *webhook.ImageMessageContent:
		return MessageImage, ""
	case webhook.VideoMessageContent, *webhook.VideoMessageContent:
		return MessageVideo, ""
	case webhook.AudioMessageContent, *webhook.AudioMessageContent:
		return MessageAudio, ""
	case webhook.FileMessageContent, *webhook.FileMessageContent:
		return MessageFile, ""
	case webhook.LocationMessageContent, *webhook.LocationMessageContent:
		return MessageLoc, ""
	case webhook.StickerMessageContent, *webhook.StickerMessageContent:
		return MessageSticker, ""
	}
	return MessageUnknown, ""
}
