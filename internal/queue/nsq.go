package queue

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type NsqConfig struct {
	Topic   string
	Address string
	Port    int
}

type nsqProducer interface {
	Publish(topic string, body []byte) error
	Stop()
}

type NsqPublisher struct {
	config   *NsqConfig
	producer nsqProducer
}

func newNsqPublisher(config *NsqConfig) (*NsqPublisher, error) {
	if config == nil || config.Topic == "" {
		return nil, errors.New("nsq events require a topic")
	}

	address := fmt.Sprintf("%s:%d", config.Address, config.Port)
	producer, err := nsq.NewProducer(address, nsq.NewConfig())

	if err != nil {
		return nil, errors.Wrap(err, "failed to create NSQ producer")
	}

	return &NsqPublisher{config: config, producer: producer}, nil
}

func (n *NsqPublisher) Publish(_ context.Context, event *CompletionEvent) error {
	data, err := encodeEvent(event)

	if err != nil {
		return err
	}

	return errors.Wrapf(n.producer.Publish(n.config.Topic, data), "failed to publish %s to NSQ", event.ID)
}

func (n *NsqPublisher) Stop() error {
	log.Info().Msg("stopping NSQ producer")

	n.producer.Stop()
	return nil
}
