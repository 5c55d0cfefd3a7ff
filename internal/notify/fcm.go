package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/config"
)

// FCMClient delivers push messages through the FCM HTTP endpoint.
type FCMClient struct {
	client    *resty.Client
	url       string
	serverKey string
}

type fcmMessage struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResult struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func NewFCMClient(cfg config.FCM) *FCMClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &FCMClient{client: client, url: cfg.URL, serverKey: cfg.ServerKey}
}

// SendPush sends one message to a device. Without a server key it only logs.
func (f *FCMClient) SendPush(ctx context.Context, deviceToken, title, body, kind string) error {
	if f.serverKey == "" {
		log.Debug().Str("service", "fcm").Str("title", title).Msg("push disabled, no server key configured")
		return nil
	}

	var result fcmResult
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "key="+f.serverKey).
		SetBody(fcmMessage{
			To:           deviceToken,
			Notification: fcmNotification{Title: title, Body: body},
			Data:         map[string]string{"notification_type": kind},
		}).
		SetResult(&result).
		Post(f.url)
	if err != nil {
		return fmt.Errorf("fcm request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("fcm returned status %d", resp.StatusCode())
	}
	if result.Failure > 0 && result.Success == 0 {
		return fmt.Errorf("fcm rejected message for device")
	}
	return nil
}
