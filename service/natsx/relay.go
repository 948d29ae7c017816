package natsx

import (
	"encoding/json"
	"time"

	"ChatRelay/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Envelope is the cross-gateway fan-out frame: the payload is already the
// serialized client-facing event, so receiving gateways deliver it verbatim
// to their local members.
type Envelope struct {
	GatewayID      string `json:"gatewayId"`
	ConversationID string `json:"conversationId"`
	Payload        []byte `json:"payload"`
}

type Config struct {
	URL           string
	Name          string
	Subject       string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Relay connects a gateway to its peers over a NATS core subject. Local
// delivery never depends on the relay; publish errors are the caller's to
// log and ignore.
type Relay struct {
	cfg       Config
	nc        *nats.Conn
	gatewayID string
	sub       *nats.Subscription
}

func NewRelay(cfg Config, gatewayID string) (*Relay, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = "chat.fanout"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Relay{cfg: cfg, nc: nc, gatewayID: gatewayID}, nil
}

// Publish sends a serialized event to peer gateways.
func (r *Relay) Publish(conversationID string, payload []byte) error {
	env := Envelope{
		GatewayID:      r.gatewayID,
		ConversationID: conversationID,
		Payload:        payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	msg := nats.NewMsg(r.cfg.Subject)
	msg.Data = b
	if err := r.nc.PublishMsg(msg); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// Subscribe starts consuming peer envelopes. Frames published by this
// gateway are skipped; everything else is handed to deliver.
func (r *Relay) Subscribe(deliver func(conversationID string, payload []byte)) error {
	sub, err := r.nc.Subscribe(r.cfg.Subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[natsx] bad envelope: %v", err)
			return
		}
		if env.GatewayID == r.gatewayID {
			return
		}
		deliver(env.ConversationID, env.Payload)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	r.sub = sub
	return nil
}

func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	if r.nc != nil {
		r.nc.Close()
	}
}
