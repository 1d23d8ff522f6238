package messaging

import "encoding/json"

// SignatureHeader is the request header carrying the webhook body signature.
const SignatureHeader = "X-Line-Signature"

// Webhook event and message type discriminators. Only text messages from
// user sources drive the queue; everything else is ignored.
const (
	EventTypeMessage = "message"
	MessageTypeText  = "text"
	SourceTypeUser   = "user"
)

// EventSource identifies the sender of a webhook event.
type EventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// EventMessage is the message payload of a message-type event.
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// Event is a single inbound webhook event.
type Event struct {
	Type       string       `json:"type"`
	WebhookID  string       `json:"webhookEventId"`
	ReplyToken string       `json:"replyToken"`
	Timestamp  int64        `json:"timestamp"`
	Source     EventSource  `json:"source"`
	Message    EventMessage `json:"message"`
}

// WebhookBody is the top-level webhook delivery: a batch of events for one
// bot destination.
type WebhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ParseWebhook decodes a raw webhook body. Signature validation is separate
// (ValidateSignature) because it must run against the exact raw bytes.
func ParseWebhook(raw []byte) (*WebhookBody, error) {
	var body WebhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// IsText reports whether the event is a text message from a user and thus
// routable to the queue.
func (e *Event) IsText() bool {
	return e.Type == EventTypeMessage &&
		e.Message.Type == MessageTypeText &&
		e.Source.Type == SourceTypeUser &&
		e.Source.UserID != ""
}

// DedupeKey returns the identifier used for redelivery detection. The
// platform's webhookEventId is preferred; older payloads fall back to the
// message id.
func (e *Event) DedupeKey() string {
	if e.WebhookID != "" {
		return e.WebhookID
	}
	return e.Message.ID
}
