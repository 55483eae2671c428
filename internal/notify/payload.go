// Package notify delivers tribe events to live connections and member devices.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/teatribe/tribes/internal/model"
)

// Payload is a platform push. Exactly one of Apple and Android is set, matching Platform.
type Payload struct {
	Platform model.DeviceType
	Apple    *ApplePayload
	Android  *AndroidPayload
}

// ApplePayload is an APNs notification body. Metadata keys are emitted next to "aps".
type ApplePayload struct {
	Aps      Aps
	Metadata map[string]string
}

type Aps struct {
	Alert    ApsAlert `json:"alert"`
	Sound    string   `json:"sound"`
	ThreadID string   `json:"thread-id,omitempty"`
}

type ApsAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

func (p ApplePayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		out[k] = v
	}
	out["aps"] = p.Aps
	return json.Marshal(out)
}

// AndroidPayload is an FCM-style message body.
type AndroidPayload struct {
	Notification AndroidNotification `json:"notification"`
	Data         map[string]string   `json:"data,omitempty"`
}

type AndroidNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// BuildPayload assembles the push for a device platform. metadata carries routing
// hints such as the tribe id.
func BuildPayload(dt model.DeviceType, title, body string, metadata map[string]string) (Payload, error) {
	switch dt {
	case model.DeviceApple:
		return Payload{Platform: dt, Apple: &ApplePayload{
			Aps: Aps{
				Alert:    ApsAlert{Title: title, Body: body},
				Sound:    "default",
				ThreadID: metadata["tribeId"],
			},
			Metadata: metadata,
		}}, nil
	case model.DeviceAndroid:
		return Payload{Platform: dt, Android: &AndroidPayload{
			Notification: AndroidNotification{Title: title, Body: body},
			Data:         metadata,
		}}, nil
	}
	return Payload{}, fmt.Errorf("unsupported device type %q", dt)
}
