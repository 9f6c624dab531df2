package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

type fakeMessages struct {
	created []*larkim.CreateMessageReq
	replied []*larkim.ReplyMessageReq
	code    int
}

func (f *fakeMessages) Create(_ context.Context, req *larkim.CreateMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	f.created = append(f.created, req)
	id, chat := "om_1", "oc_1"
	return &larkim.CreateMessageResp{
		CodeError: larkcore.CodeError{Code: f.code, Msg: "denied"},
		Data:      &larkim.CreateMessageRespData{MessageId: &id, ChatId: &chat},
	}, nil
}

func (f *fakeMessages) Reply(_ context.Context, req *larkim.ReplyMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error) {
	f.replied = append(f.replied, req)
	id := "om_2"
	return &larkim.ReplyMessageResp{Data: &larkim.ReplyMessageRespData{MessageId: &id}}, nil
}

func newTestAdapter(api *fakeMessages) *Adapter {
	a := NewAdapter(nil)
	a.newClient = func(*channel.FeishuConfig) messageAPI { return api }
	return a
}

var feishuChannel = channel.Channel{ID: "fs-1", Type: channel.TypeFeishu, Config: channel.Config{Feishu: &channel.FeishuConfig{AppID: "cli_a", AppSecret: "s"}}}

func TestSendTextAndReply(t *testing.T) {
	t.Parallel()

	api := &fakeMessages{}
	a := newTestAdapter(api)
	receipt, err := a.Send(context.Background(), feishuChannel, channel.OutboundMessage{To: "chat_id:oc_1", Type: channel.MessageText, Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.MessageID != "om_1" || receipt.Raw["chat_id"] != "oc_1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	body := api.created[0].Body
	if *body.ReceiveId != "oc_1" || *body.MsgType != larkim.MsgTypeText || *body.Content != `{"text":"hello"}` {
		t.Fatalf("unexpected body: %s %s %s", *body.ReceiveId, *body.MsgType, *body.Content)
	}

	receipt, err = a.Send(context.Background(), feishuChannel, channel.OutboundMessage{To: "ou_1", Type: channel.MessageText, Text: "re", ReplyTo: "om_0"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if receipt.MessageID != "om_2" || len(api.replied) != 1 || len(api.created) != 1 {
		t.Fatalf("expected reply path, got %+v", receipt)
	}
}

func TestSendRejected(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(&fakeMessages{code: 230002})
	if _, err := a.Send(context.Background(), feishuChannel, channel.OutboundMessage{To: "ou_1", Type: channel.MessageText, Text: "x"}); err == nil {
		t.Fatal("expected rejection error")
	}
	if _, err := a.Send(context.Background(), channel.Channel{ID: "fs-2", Type: channel.TypeFeishu}, channel.OutboundMessage{To: "ou_1", Text: "x"}); !errors.Is(err, channel.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestResolveReceiveID(t *testing.T) {
	t.Parallel()

	cases := map[string][2]string{
		"open_id:ou_1":  {"ou_1", larkim.ReceiveIdTypeOpenId},
		"user_id:u1":    {"u1", larkim.ReceiveIdTypeUserId},
		"chat_id:oc_1":  {"oc_1", larkim.ReceiveIdTypeChatId},
		"email:a@b.com": {"a@b.com", larkim.ReceiveIdTypeEmail},
		"ou_2":          {"ou_2", larkim.ReceiveIdTypeOpenId},
	}
	for raw, want := range cases {
		id, kind, err := resolveReceiveID(raw)
		if err != nil || id != want[0] || kind != want[1] {
			t.Fatalf("resolveReceiveID(%q) = %s %s %v", raw, id, kind, err)
		}
	}
	if _, _, err := resolveReceiveID(""); !errors.Is(err, channel.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestBuildContentMediaPost(t *testing.T) {
	t.Parallel()

	msgType, content, err := buildContent(channel.OutboundMessage{Type: channel.MessageDocument, MediaURL: "https://x/r.pdf", FileName: "r.pdf", Caption: "report"})
	if err != nil || msgType != larkim.MsgTypePost {
		t.Fatalf("unexpected result: %s %v", msgType, err)
	}
	var decoded map[string]postBody
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	line := decoded["zh_cn"].Content[0]
	if len(line) != 2 || line[1].Tag != "a" || line[1].Href != "https://x/r.pdf" || line[1].Text != "r.pdf" {
		t.Fatalf("unexpected post: %+v", line)
	}
}
