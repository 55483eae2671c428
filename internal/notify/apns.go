package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
)

// Sender delivers one payload to one device.
type Sender interface {
	Send(ctx context.Context, deviceToken string, p Payload) error
}

// APNsConfig identifies the provider key and the app.
type APNsConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	KeyPath    string
	Production bool
}

// APNs sends Apple pushes authenticated with an ES256 provider token.
type APNs struct {
	client *apns2.Client
	topic  string
}

// NewAPNs loads the .p8 key at cfg.KeyPath.
func NewAPNs(cfg APNsConfig) (*APNs, error) {
	key, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load apns key: %w", err)
	}
	return newAPNs(cfg, &token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID}), nil
}

// NewAPNsWithKey builds a sender from the contents of a .p8 key.
func NewAPNsWithKey(cfg APNsConfig, p8 []byte) (*APNs, error) {
	key, err := token.AuthKeyFromBytes(p8)
	if err != nil {
		return nil, fmt.Errorf("parse apns key: %w", err)
	}
	return newAPNs(cfg, &token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID}), nil
}

func newAPNs(cfg APNsConfig, tok *token.Token) *APNs {
	client := apns2.NewTokenClient(tok)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNs{client: client, topic: cfg.BundleID}
}

func (a *APNs) Send(ctx context.Context, deviceToken string, p Payload) error {
	if p.Apple == nil {
		return errors.New("apns: not an apple payload")
	}
	res, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		PushType:    apns2.PushTypeAlert,
		Payload:     p.Apple,
	})
	if err != nil {
		return fmt.Errorf("apns: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns: status %d: %s", res.StatusCode, res.Reason)
	}
	return nil
}

// Discard accepts every payload without delivering it. It stands in for platforms
// without a configured provider.
type Discard struct{}

func (Discard) Send(context.Context, string, Payload) error { return nil }
