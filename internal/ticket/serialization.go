package ticket

import (
	"encoding/json"
	"fmt"
)

// Ticket kind tags used by the storage envelope.
const (
	kindGranting      = "TGT"
	kindService       = "ST"
	kindProxyGranting = "PGT"
)

// envelope is the serialized storage form of a ticket: a kind tag plus the
// variant payload. The tag lets the decoder reconstruct the concrete type
// without inspecting the identifier.
type envelope struct {
	Kind   string          `json:"kind"`
	Ticket json.RawMessage `json:"ticket"`
}

// Encode serializes a ticket into its tagged storage form.
func Encode(t Ticket) ([]byte, error) {
	var kind string
	switch t.(type) {
	case *TicketGrantingTicket:
		kind = kindGranting
	case *ServiceTicket:
		kind = kindService
	case *ProxyGrantingTicket:
		kind = kindProxyGranting
	default:
		return nil, fmt.Errorf("cannot serialize ticket of unknown type %T", t)
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s ticket: %w", kind, err)
	}

	data, err := json.Marshal(envelope{Kind: kind, Ticket: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket envelope: %w", err)
	}
	return data, nil
}

// Decode reconstructs a ticket from its tagged storage form.
func Decode(data []byte) (Ticket, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket envelope: %w", err)
	}

	var (
		t   Ticket
		err error
	)
	switch env.Kind {
	case kindGranting:
		var tgt TicketGrantingTicket
		err = json.Unmarshal(env.Ticket, &tgt)
		t = &tgt
	case kindService:
		var st ServiceTicket
		err = json.Unmarshal(env.Ticket, &st)
		t = &st
	case kindProxyGranting:
		var pgt ProxyGrantingTicket
		err = json.Unmarshal(env.Ticket, &pgt)
		t = &pgt
	default:
		return nil, fmt.Errorf("unknown ticket kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s ticket: %w", env.Kind, err)
	}
	return t, nil
}
