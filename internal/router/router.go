// Package router accepts messages from identified connections, stores them
// and pushes them to the receiver's fan-out address.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/fanout"
	"github.com/Chase-Garrett/sealedchat/internal/protocol"
)

var (
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrStorage          = errors.New("storage error")
)

// TracerName names the router's tracer.
const TracerName = "github.com/Chase-Garrett/sealedchat/internal/router"

// UserLookup resolves whether a username is registered.
type UserLookup interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// Store persists messages.
type Store interface {
	Save(ctx context.Context, msg protocol.Message) (protocol.Message, error)
}

// Router validates, stores and publishes messages.
type Router struct {
	users     UserLookup
	store     Store
	publisher fanout.Publisher
	log       logrus.FieldLogger
	tracer    trace.Tracer
	now       func() time.Time

	routed         *prometheus.CounterVec
	publishFailure prometheus.Counter
}

// New creates a router. tracer and reg may be nil; a nil tracer uses the
// global provider.
func New(users UserLookup, store Store, publisher fanout.Publisher, tracer trace.Tracer, log logrus.FieldLogger, reg prometheus.Registerer) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	r := &Router{
		users:     users,
		store:     store,
		publisher: publisher,
		log:       log,
		tracer:    tracer,
		now:       time.Now,
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sealedchat",
			Name:      "messages_routed_total",
			Help:      "Send attempts by result.",
		}, []string{"result"}),
		publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sealedchat",
			Name:      "publish_failures_total",
			Help:      "Stored messages that could not be handed to the fan-out.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.routed, r.publishFailure)
	}
	return r
}

// Route stores a message from the connection's principal and publishes it
// to the receiver. Validation failures have no side effects; a storage
// failure means nothing is published. Publishing is best-effort and its
// failure does not fail the call.
func (r *Router) Route(ctx context.Context, from auth.Principal, req protocol.SendRequest) (protocol.Message, error) {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("chat.sender", from.String()),
		attribute.String("chat.receiver", req.Receiver),
	))
	defer span.End()

	msg, err := r.route(ctx, from, req)
	r.routed.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
		return protocol.Message{}, err
	}
	span.SetAttributes(attribute.String("chat.message_id", msg.ID))
	return msg, nil
}

func (r *Router) route(ctx context.Context, from auth.Principal, req protocol.SendRequest) (protocol.Message, error) {
	sender, err := from.Require()
	if err != nil {
		return protocol.Message{}, err
	}

	// a validly signed token can outlive its account
	known, err := r.users.Exists(ctx, sender.String())
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !known {
		return protocol.Message{}, fmt.Errorf("%w: no account for %s", auth.ErrUnauthenticated, sender)
	}

	exists, err := r.users.Exists(ctx, req.Receiver)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !exists {
		return protocol.Message{}, ErrReceiverNotFound
	}

	if err := Validate(req); err != nil {
		return protocol.Message{}, err
	}

	// the server clock is the only trusted ordering key
	stored, err := r.store.Save(ctx, protocol.Message{
		Sender:           sender.String(),
		Receiver:         req.Receiver,
		EncryptedAesKey:  req.EncryptedAesKey,
		EncryptedMessage: req.EncryptedMessage,
		IV:               req.IV,
		Timestamp:        r.now().UTC(),
	})
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	log := r.log.WithFields(logrus.Fields{
		"user":       sender,
		"receiver":   stored.Receiver,
		"message_id": stored.ID,
	})
	if err := r.publisher.Publish(ctx, fanout.Address(stored.Receiver), stored); err != nil {
		r.publishFailure.Inc()
		log.WithError(err).Warn("stored message was not published")
	} else {
		log.Debug("message routed")
	}
	return stored, nil
}

// Validate checks the ciphertext fields are present and within bounds.
func Validate(req protocol.SendRequest) error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"encryptedAesKey", req.EncryptedAesKey, protocol.MaxEncryptedKeyLen},
		{"encryptedMessage", req.EncryptedMessage, protocol.MaxEncryptedBodyLen},
		{"iv", req.IV, protocol.MaxIVLen},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, f.name)
		}
		if n := len([]rune(f.value)); n > f.max {
			return fmt.Errorf("%w: %s is %d characters, limit %d", ErrInvalidPayload, f.name, n, f.max)
		}
	}
	return nil
}

// ErrorCode maps a Route error onto the wire error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return protocol.CodeUnauthenticated
	case errors.Is(err, ErrReceiverNotFound):
		return protocol.CodeReceiverNotFound
	case errors.Is(err, ErrInvalidPayload):
		return protocol.CodeInvalidPayload
	default:
		return protocol.CodeStorage
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
