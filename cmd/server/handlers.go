package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/callback"
	"github.com/avaropoint/wpsgate/internal/openapi"
	"github.com/avaropoint/wpsgate/internal/protocol"
)

// logHandler records every accepted event.
func logHandler(log *zap.Logger) EventHandler {
	return EventHandlerFunc(func(_ context.Context, ev *callback.Event) error {
		fields := []zap.Field{
			zap.Stringer("scheme", ev.Scheme),
			zap.String("topic", ev.Topic),
			zap.String("operation", ev.Operation),
			zap.String("message_id", ev.MessageID),
		}
		if isMessageTopic(ev.Topic) {
			msg := protocol.ParseMessage(ev.Payload)
			fields = append(fields,
				zap.String("chat_id", msg.ChatID),
				zap.String("chat_type", msg.ChatType),
				zap.String("sender_id", msg.SenderID),
				zap.String("message_type", msg.Type))
		}
		log.Info("event received", fields...)
		return nil
	})
}

// echoHandler logs the event, then answers text messages by echoing them
// back into the originating chat. It exercises the outbound signing path
// end to end.
func echoHandler(log *zap.Logger, api *openapi.Client) EventHandler {
	base := logHandler(log)
	return EventHandlerFunc(func(ctx context.Context, ev *callback.Event) error {
		if err := base.HandleEvent(ctx, ev); err != nil {
			return err
		}
		if !isMessageTopic(ev.Topic) {
			return nil
		}
		msg := protocol.ParseMessage(ev.Payload)
		if msg.Type != "text" || strings.TrimSpace(msg.Content) == "" {
			return nil
		}

		var id string
		var err error
		if msg.IsGroup() {
			id, err = api.Reply(ctx, msg.ChatID, msg.Content)
		} else {
			id, err = api.SendText(ctx, openapi.ReceiverUser, msg.SenderID, msg.Content)
		}
		if err != nil {
			return fmt.Errorf("echo %s: %w", msg.ID, err)
		}
		log.Info("echo sent", zap.String("reply_to", msg.ID), zap.String("message_id", id))
		return nil
	})
}

func isMessageTopic(topic string) bool {
	return topic == protocol.TopicChatMessage || topic == protocol.TopicMessageCreate
}
