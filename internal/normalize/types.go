// Package normalize converts raw transport events into the business-account
// webhook envelope shared by every channel type.
package normalize

const (
	ObjectBusinessAccount = "whatsapp_business_account"
	MessagingProduct      = "whatsapp"
	FieldMessages         = "messages"
	FieldCalls            = "calls"
)

// Message type tags.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeDocument    = "document"
	TypeSticker     = "sticker"
	TypeReaction    = "reaction"
	TypeUnsupported = "unsupported"
)

// Receipt status tags.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusUnknown   = "unknown"
)

// Error codes attached to degraded messages.
const (
	CodeUnsupportedMessage = 131051
	CodeMediaDownload      = 131052
)

// Envelope is the top-level webhook body.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the normalized items of one change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
	Calls            []Call    `json:"calls,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile Profile `json:"profile"`
	WaID    string  `json:"wa_id"`
}

type Profile struct {
	Name string `json:"name"`
}

// Message is one normalized message. Exactly one body field matches Type.
type Message struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	GroupID   string    `json:"group_id,omitempty"`
	Context   *Context  `json:"context,omitempty"`
	Text      *Text     `json:"text,omitempty"`
	Image     *Media    `json:"image,omitempty"`
	Video     *Media    `json:"video,omitempty"`
	Audio     *Media    `json:"audio,omitempty"`
	Document  *Media    `json:"document,omitempty"`
	Sticker   *Media    `json:"sticker,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
	Errors    []Error   `json:"errors,omitempty"`
}

// Context references the quoted message of a reply.
type Context struct {
	From string `json:"from,omitempty"`
	ID   string `json:"id"`
}

type Text struct {
	Body string `json:"body"`
}

// Media is an attachment rewritten to a gateway URL.
type Media struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type Error struct {
	Code      int        `json:"code"`
	Title     string     `json:"title"`
	Message   string     `json:"message,omitempty"`
	ErrorData *ErrorData `json:"error_data,omitempty"`
}

type ErrorData struct {
	Details string `json:"details"`
}

// Status is a normalized delivery receipt.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Call is a normalized call signal.
type Call struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
	MediaKind string `json:"media_kind"`
	IsGroup   bool   `json:"is_group"`
	Status    string `json:"status"`
}
