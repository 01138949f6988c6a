package dispatch

import (
	"context"
	"fmt"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
)

// Router maps a decoded queue event to the channel's dispatcher. Routing is
// by registration table, so adding a channel never touches the consumer.
type Router struct {
	dispatchers map[outbox.Channel]ChannelDispatcher
	logger      log.Logger
}

// NewRouter builds a Router over the given dispatchers. Registering two
// dispatchers for one channel is refused.
func NewRouter(logger log.Logger, dispatchers ...ChannelDispatcher) (*Router, error) {
	router := &Router{
		dispatchers: make(map[outbox.Channel]ChannelDispatcher, len(dispatchers)),
		logger:      log.OrNop(logger),
	}

	for _, dispatcher := range dispatchers {
		if nilcheck.Interface(dispatcher) {
			continue
		}

		channel := dispatcher.Channel()
		if _, exists := router.dispatchers[channel]; exists {
			return nil, fmt.Errorf("duplicate dispatcher for channel %s", channel)
		}

		router.dispatchers[channel] = dispatcher
	}

	return router, nil
}

// Route dispatches one event. An unregistered channel is a loud error so the
// consumer requeues and the gap shows up in logs instead of silently eating
// notifications.
func (router *Router) Route(ctx context.Context, event *outbox.EventMessage) error {
	if event == nil {
		return outbox.ErrRecordRequired
	}

	dispatcher, ok := router.dispatchers[event.Channel]
	if !ok {
		router.logger.Log(ctx, log.LevelError, "no dispatcher for channel",
			log.String("channel", event.Channel.String()),
			log.String("event_id", event.EventID.String()),
		)

		return fmt.Errorf("%w: %s", ErrNoDispatcher, event.Channel)
	}

	return dispatcher.Dispatch(ctx, event)
}

// Channels reports the registered channels.
func (router *Router) Channels() []outbox.Channel {
	channels := make([]outbox.Channel, 0, len(router.dispatchers))
	for channel := range router.dispatchers {
		channels = append(channels, channel)
	}

	return channels
}
