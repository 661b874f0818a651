/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
)

// pooledSubscriber manages a pool of consumers on a subscription. Each consumer listens
// on the subscription's queue and forwards the message to a Go channel that is consumed
// by the subscriber.
type pooledSubscriber struct {
	subscription string
	msgChan      chan *message.Message
	consumers    []reflect.SelectCase
	logger       *log.Log
}

func newPooledSubscriber(ctx context.Context, size int, subscriber subscriber,
	subscription string) (*pooledSubscriber, error) {
	l := log.New(loggerModule, log.WithFields(logfields.WithSubscription(subscription)))

	p := &pooledSubscriber{
		subscription: subscription,
		msgChan:      make(chan *message.Message, size),
		consumers:    make([]reflect.SelectCase, size),
		logger:       l,
	}

	for i := 0; i < size; i++ {
		l.Debug("Subscribing...", logfields.WithIndex(i))

		msgChan, err := subscriber.Subscribe(ctx, subscription)
		if err != nil {
			return nil, fmt.Errorf("subscribe to subscription [%s]: %w", subscription, err)
		}

		p.consumers[i].Dir = reflect.SelectRecv
		p.consumers[i].Chan = reflect.ValueOf(msgChan)
	}

	return p, nil
}

func (s *pooledSubscriber) start() {
	go func() {
		s.logger.Info("Started pooled subscriber", logfields.WithSize(len(s.consumers)))

		for {
			i, value, ok := reflect.Select(s.consumers)

			if !ok {
				s.logger.Info("Message channel was closed. Exiting pooled subscriber.", logfields.WithIndex(i))

				return
			}

			msg := value.Interface().(*message.Message) //nolint:forcetypeassert

			s.logger.Debug("Pool subscriber got message", logfields.WithIndex(i), logfields.WithMessageID(msg.UUID))

			s.msgChan <- msg
		}
	}()
}

func (s *pooledSubscriber) stop() {
	s.logger.Info("Closing pooled subscriber")

	close(s.msgChan)
}
