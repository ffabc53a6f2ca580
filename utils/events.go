package utils

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventPublisher emits domain events for realtime consumers.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// NopPublisher drops every event; used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) error { return nil }

// NATSPublisher publishes JSON payloads on core NATS subjects.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) Publish(subject string, payload any) error {
	if p.nc == nil || p.nc.IsClosed() {
		return nats.ErrConnectionClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

// ConnectNATS dials the server with reconnect handling that logs through zap.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("whisperhub"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				Logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			Logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			Logger.Error("nats error", zap.Error(err))
		}),
		nats.DrainTimeout(10*time.Second),
	)
}
