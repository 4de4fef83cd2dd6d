package line

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Client implements Gateway on top of the official Messaging API SDK.
type Client struct {
	api *messaging_api.MessagingApiAPI
}

// NewClient builds a client for one channel access token. An empty endpoint
// uses the SDK default (https://api.line.me).
func NewClient(accessToken, endpoint string) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrNotConfigured
	}
	var opts []messaging_api.MessagingApiAPIOption
	if endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(accessToken, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{api: api}, nil
}

// PushText implements Gateway.
func (c *Client) PushText(ctx context.Context, to, text, retryKey string) (*PushResult, error) {
	resp, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To: to,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}, retryKey)
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(resp)
	return &PushResult{Response: string(raw)}, nil
}

// ReplyText implements Gateway.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	return err
}

// GetProfile implements Gateway.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := c.api.WithContext(ctx).GetProfile(userID)
	if err != nil {
		return nil, err
	}
	return &Profile{UserID: p.UserId, DisplayName: p.DisplayName, PictureURL: p.PictureUrl}, nil
}

// SDKFactory builds SDK clients and caches them per channel and token.
type SDKFactory struct {
	Endpoint string

	mu      sync.Mutex
	clients map[string]*Client
}

// ForChannel implements Factory.
func (f *SDKFactory) ForChannel(c Credentials) (Gateway, error) {
	key := c.ChannelID + "\x00" + c.AccessToken
	f.mu.Lock()
	defer f.mu.Unlock()
	if cl, ok := f.clients[key]; ok {
		return cl, nil
	}
	cl, err := NewClient(c.AccessToken, f.Endpoint)
	if err != nil {
		return nil, err
	}
	if f.clients == nil {
		f.clients = make(map[string]*Client)
	}
	f.clients[key] = cl
	return cl, nil
}
