package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/Chase-Garrett/sealedchat/internal/protocol"
)

// NATS fans messages out over core NATS subjects. Core NATS is
// at-most-once, which is the delivery contract here, so JetStream is not
// used.
type NATS struct {
	nc  *nats.Conn
	log logrus.FieldLogger
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string, log logrus.FieldLogger) (*NATS, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name("sealedchat"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{nc: nc, log: log}, nil
}

// Publish sends msg on the subject for address.
func (n *NATS) Publish(ctx context.Context, address string, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := n.nc.Publish(subject(address), data); err != nil {
		return fmt.Errorf("failed to publish message to subject '%s': %w", subject(address), err)
	}
	return nil
}

// Subscribe delivers messages published on address to h.
func (n *NATS) Subscribe(address string, h Handler) (Subscription, error) {
	subj := subject(address)
	sub, err := n.nc.Subscribe(subj, func(m *nats.Msg) {
		var msg protocol.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			n.log.WithField("subject", m.Subject).WithError(err).Warn("dropping undecodable message")
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject '%s': %w", subj, err)
	}
	return sub, nil
}

// Close drains subscriptions and closes the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
