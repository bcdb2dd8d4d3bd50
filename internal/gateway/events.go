package gateway

import "encoding/json"

// Frame types exchanged with the messaging network. Inbound payloads are a
// tagged envelope decided once at this boundary; everything downstream sees
// only the canonical message kinds.
const (
	frameChallenge         = "challenge"
	frameChallengeResponse = "challenge_response"
	frameReady             = "ready"
	frameMessage           = "message"
	frameCredentials       = "credentials"
	frameLogout            = "logout"

	frameSendText     = "send_text"
	frameSendVoice    = "send_voice"
	frameSendDocument = "send_document"
	frameSendButtons  = "send_buttons"
)

// Raw payload kinds the network delivers.
const (
	rawKindText         = "text"
	rawKindExtendedText = "extended_text"
	rawKindImage        = "image"
	rawKindAudio        = "audio"
	rawKindDocument     = "document"
	rawKindVideo        = "video"
)

// envelope is the loose inbound frame shape before normalization.
type envelope struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	From        string          `json:"from,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Text        string          `json:"text,omitempty"`
	Caption     string          `json:"caption,omitempty"`
	MediaURL    string          `json:"media_url,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Nonce       string          `json:"nonce,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// outboundFrame is the wire shape for sends and the handshake response.
type outboundFrame struct {
	Type       string   `json:"type"`
	To         string   `json:"to,omitempty"`
	Text       string   `json:"text,omitempty"`
	AudioRef   string   `json:"audio_ref,omitempty"`
	PushToTalk bool     `json:"push_to_talk,omitempty"`
	DocRef     string   `json:"doc_ref,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	Title      string   `json:"title,omitempty"`
	Options    []string `json:"options,omitempty"`
	Response   string   `json:"response,omitempty"`
}
