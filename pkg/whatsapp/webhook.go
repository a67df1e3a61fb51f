package whatsapp

import (
	"encoding/json"
	"errors"
	"strings"
)

// InboundMessage is one text message extracted from a webhook delivery,
// normalized across provider payload shapes.
type InboundMessage struct {
	Sender string
	Name   string
	Text   string
}

// ErrNotAMessage marks webhook deliveries that carry no inbound text,
// such as status updates and outbound echoes. They are acknowledged and
// dropped.
var ErrNotAMessage = errors.New("webhook payload contains no inbound text message")

// greenPayload is the Green API notification shape.
type greenPayload struct {
	TypeWebhook string `json:"typeWebhook"`
	SenderData  struct {
		Sender     string `json:"sender"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
	} `json:"messageData"`
}

// metaPayload is the Meta Business API notification shape.
type metaPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts the inbound text message from a webhook body.
// Green API deliveries are tried first, then the Meta shape. Non-message
// deliveries return ErrNotAMessage.
func ParseWebhook(body []byte) (*InboundMessage, error) {
	var green greenPayload
	if err := json.Unmarshal(body, &green); err == nil && green.TypeWebhook != "" {
		if green.TypeWebhook != "incomingMessageReceived" {
			return nil, ErrNotAMessage
		}
		text := green.MessageData.TextMessageData.TextMessage
		if text == "" {
			text = green.MessageData.ExtendedTextMessageData.Text
		}
		if text == "" {
			return nil, ErrNotAMessage
		}
		return &InboundMessage{
			Sender: NormalizeNumber(green.SenderData.Sender),
			Name:   green.SenderData.SenderName,
			Text:   text,
		}, nil
	}

	var meta metaPayload
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, err
	}
	for _, entry := range meta.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for _, msg := range value.Messages {
				if msg.Type != "" && msg.Type != "text" {
					continue
				}
				if msg.Text.Body == "" {
					continue
				}
				name := ""
				if len(value.Contacts) > 0 {
					name = value.Contacts[0].Profile.Name
				}
				return &InboundMessage{
					Sender: NormalizeNumber(msg.From),
					Name:   name,
					Text:   msg.Text.Body,
				}, nil
			}
		}
	}
	return nil, ErrNotAMessage
}

// NormalizeNumber strips the gateway chat id suffix, leaving the bare
// phone number used as the user key everywhere else.
func NormalizeNumber(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		return raw[:i]
	}
	return raw
}
