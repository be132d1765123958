package server

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Wire shape of stream frames, all JSON text:
//
//	{ "route": "<stream>", "payload": ... }
//
// Client payloads: "Connect", "Disconnect", {"Text": {"text": "..."}}.
// Server payloads: {"Text": {"text": "..."}}, {"ServerError": {"callstack": "..."?}}.

type clientPayloadKind int

const (
	payloadConnect clientPayloadKind = iota
	payloadDisconnect
	payloadText
)

type clientPayload struct {
	Kind clientPayloadKind
	Text string
}

type textBody struct {
	Text string `json:"text"`
}

func (p *clientPayload) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Connect":
			p.Kind = payloadConnect
			return nil
		case "Disconnect":
			p.Kind = payloadDisconnect
			return nil
		default:
			return errors.Errorf("unknown stream payload tag %q", tag)
		}
	}

	var tagged struct {
		Text *textBody `json:"Text"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return errors.Wrap(err, "malformed stream payload")
	}
	if tagged.Text == nil {
		return errors.New("stream payload carries no recognized tag")
	}
	p.Kind = payloadText
	p.Text = tagged.Text.Text
	return nil
}

// clientMessage is a decoded client -> server stream frame.
type clientMessage struct {
	Route   string        `json:"route"`
	Payload clientPayload `json:"payload"`
}

type serverErrorBody struct {
	Callstack *string `json:"callstack,omitempty"`
}

type serverPayload struct {
	Text        *textBody        `json:"Text,omitempty"`
	ServerError *serverErrorBody `json:"ServerError,omitempty"`
}

type serverMessage struct {
	Route   string        `json:"route"`
	Payload serverPayload `json:"payload"`
}

func encodeTextFrame(route, text string) ([]byte, error) {
	return json.Marshal(serverMessage{
		Route:   route,
		Payload: serverPayload{Text: &textBody{Text: text}},
	})
}

// encodeErrorFrame builds a ServerError frame. callstack is nil in prod.
func encodeErrorFrame(route string, callstack *string) ([]byte, error) {
	return json.Marshal(serverMessage{
		Route:   route,
		Payload: serverPayload{ServerError: &serverErrorBody{Callstack: callstack}},
	})
}
