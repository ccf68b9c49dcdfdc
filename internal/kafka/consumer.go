package kafka

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

// NotificationFeedHandler logs the delivered notification stream. Useful as a
// tail of what donors and requesters were told.
type NotificationFeedHandler struct{}

func (NotificationFeedHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (NotificationFeedHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h NotificationFeedHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log.Printf("Notification feed: target=%s partition=%d offset=%d value=%s",
			string(msg.Key), msg.Partition, msg.Offset, string(msg.Value))
		session.MarkMessage(msg, "")
	}
	return nil
}

func StartFeedConsumer(ctx context.Context, brokers []string, groupID string, topics []string) {
	config := sarama.NewConfig()

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		log.Printf("Error creating consumer group: %v", err)
		return
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			log.Printf("Error closing consumer group: %v", err)
		}
	}()

	handler := NotificationFeedHandler{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
				log.Printf("Error from consumer: %v", err)
			}
		}
	}
}
