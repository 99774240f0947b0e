package webrtc

import (
	"encoding/base64"

	"github.com/goccy/go-json"
)

// Negotiation payloads travel through the rendezvous relay as opaque
// envelopes: a kind tag plus the base64-encoded JSON of the pion value.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

type signalPayload struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

// encode packs obj in base64(JSON) inside a tagged envelope.
func encode(kind string, obj any) ([]byte, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signalPayload{Kind: kind, Data: base64.StdEncoding.EncodeToString(b)})
}

// decode unpacks the base64(JSON) data of a signal payload into obj.
func decode(data string, obj any) error {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}
