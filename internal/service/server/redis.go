package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"private_feed/internal/repository"
	"private_feed/internal/utils/log"
)

const eventChannel = "pf:doc-events"

type eventEnvelope struct {
	Origin string           `json:"origin"`
	Event  repository.Event `json:"event"`
}

// publish reports a local write to local watchers and other replicas.
func (s *HttpServer) publish(ev repository.Event) {
	s.broadcast(ev)
	if s.redisService == nil {
		return
	}

	data, err := json.Marshal(eventEnvelope{Origin: s.origin, Event: ev})
	if err != nil {
		log.Error("marshal event failed", zap.Error(err))
		return
	}
	if err := s.redisService.Publish(context.TODO(), eventChannel, data); err != nil {
		log.Error("publish event failed", zap.Error(err))
	}
}

// relayEvents forwards writes made on other replicas to local watchers.
func (s *HttpServer) relayEvents(ctx context.Context) error {
	return s.redisService.Subscribe(ctx, eventChannel, func(payload string) {
		var env eventEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			return
		}
		if env.Origin == s.origin {
			return
		}
		s.broadcast(env.Event)
	})
}
