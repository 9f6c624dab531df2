package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Type is the registered channel type of this adapter.
const Type = channel.TypeFeishu

const regionLark = "lark"

// messageAPI is the subset of the im/v1 message service used to send.
type messageAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
	Reply(ctx context.Context, req *larkim.ReplyMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error)
}

// Adapter sends messages with the Feishu/Lark open platform SDK. Clients are
// cached per app so tenant tokens are reused.
type Adapter struct {
	logger    *slog.Logger
	mu        sync.Mutex
	clients   map[string]messageAPI
	newClient func(cfg *channel.FeishuConfig) messageAPI
}

var (
	_ channel.Adapter = (*Adapter)(nil)
	_ channel.Sender  = (*Adapter)(nil)
)

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "feishu")),
		clients: make(map[string]messageAPI),
		newClient: func(cfg *channel.FeishuConfig) messageAPI {
			return lark.NewClient(cfg.AppID, cfg.AppSecret, lark.WithOpenBaseUrl(openBaseURL(cfg.Region))).Im.V1.Message
		},
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Feishu / Lark",
		Capabilities: channel.Capabilities{
			Text:   true,
			Media:  true,
			Reply:  true,
			Groups: true,
		},
	}
}

func openBaseURL(region string) string {
	if region == regionLark {
		return lark.LarkBaseUrl
	}
	return lark.FeishuBaseUrl
}

func (a *Adapter) client(cfg *channel.FeishuConfig) messageAPI {
	key := cfg.AppID + "|" + cfg.Region
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[key]; ok {
		return c
	}
	c := a.newClient(cfg)
	a.clients[key] = c
	return c
}

// Send delivers msg. msg.To may carry an open_id:, user_id: or chat_id:
// prefix; a bare id is an open id. ReplyTo replies in the thread of that
// message instead.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Feishu
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing feishu config", channel.ErrInvalidConfig)
	}
	receiveID, receiveType, err := resolveReceiveID(strings.TrimSpace(msg.To))
	if err != nil {
		return channel.SendReceipt{}, err
	}
	msgType, content, err := buildContent(msg)
	if err != nil {
		return channel.SendReceipt{}, err
	}
	api := a.client(cfg)

	if msg.ReplyTo != "" {
		req := larkim.NewReplyMessageReqBuilder().
			MessageId(msg.ReplyTo).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				Content(content).
				MsgType(msgType).
				Uuid(uuid.NewString()).
				Build()).
			Build()
		resp, err := api.Reply(ctx, req)
		if err != nil {
			return channel.SendReceipt{}, fmt.Errorf("feishu reply: %w", err)
		}
		if !resp.Success() {
			a.logger.Warn("reply rejected", slog.String("channel_id", ch.ID), slog.Int("code", resp.Code), slog.String("msg", resp.Msg))
			return channel.SendReceipt{}, fmt.Errorf("feishu reply failed: %s (code: %d)", resp.Msg, resp.Code)
		}
		if resp.Data == nil {
			return receipt(nil, nil), nil
		}
		return receipt(resp.Data.MessageId, resp.Data.ChatId), nil
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := api.Create(ctx, req)
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("feishu send: %w", err)
	}
	if !resp.Success() {
		a.logger.Warn("send rejected", slog.String("channel_id", ch.ID), slog.Int("code", resp.Code), slog.String("msg", resp.Msg))
		return channel.SendReceipt{}, fmt.Errorf("feishu send failed: %s (code: %d)", resp.Msg, resp.Code)
	}
	if resp.Data == nil {
		return receipt(nil, nil), nil
	}
	return receipt(resp.Data.MessageId, resp.Data.ChatId), nil
}

func receipt(messageID, chatID *string) channel.SendReceipt {
	out := channel.SendReceipt{MessageID: deref(messageID), Raw: map[string]any{}}
	out.Raw["message_id"] = out.MessageID
	if c := deref(chatID); c != "" {
		out.Raw["chat_id"] = c
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func resolveReceiveID(raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("%w: feishu target is required", channel.ErrInvalidMessage)
	}
	for prefix, kind := range map[string]string{
		"open_id:": larkim.ReceiveIdTypeOpenId,
		"user_id:": larkim.ReceiveIdTypeUserId,
		"chat_id:": larkim.ReceiveIdTypeChatId,
		"email:":   larkim.ReceiveIdTypeEmail,
	} {
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix), kind, nil
		}
	}
	return raw, larkim.ReceiveIdTypeOpenId, nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
	Href string `json:"href,omitempty"`
}

type postBody struct {
	Title   string          `json:"title,omitempty"`
	Content [][]postElement `json:"content"`
}

// buildContent encodes msg as a text message, or as a post with a link for
// attachments and titled messages.
func buildContent(msg channel.OutboundMessage) (string, string, error) {
	if !msg.IsMedia() && msg.Subject == "" {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return "", "", fmt.Errorf("%w: text is required", channel.ErrInvalidMessage)
		}
		payload, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			return "", "", fmt.Errorf("marshal text content: %w", err)
		}
		return larkim.MsgTypeText, string(payload), nil
	}

	line := make([]postElement, 0, 2)
	if msg.IsMedia() {
		if c := strings.TrimSpace(msg.Caption); c != "" {
			line = append(line, postElement{Tag: "text", Text: c + " "})
		}
		name := msg.FileName
		if name == "" {
			name = msg.MediaURL
		}
		line = append(line, postElement{Tag: "a", Text: name, Href: msg.MediaURL})
	} else {
		line = append(line, postElement{Tag: "text", Text: strings.TrimSpace(msg.Text)})
	}
	payload, err := json.Marshal(map[string]postBody{
		"zh_cn": {Title: msg.Subject, Content: [][]postElement{line}},
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal post content: %w", err)
	}
	return larkim.MsgTypePost, string(payload), nil
}
