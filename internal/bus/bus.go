/*
Copyright the Sonobuoy contributors 2019

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bus wraps the MQTT client used for shadow sync and sensor
// publish (spec.md §4.5/§4.6): QoS 1 throughout, reconnect handling
// delegated to the underlying client, topics addressed as plain strings
// by callers.
package bus

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/classify"
)

const qos1 = byte(1)

// Handler is invoked for every message received on a subscribed topic.
type Handler func(topic string, payload []byte)

// Bus is a thin wrapper around the paho client, following the
// connect/stop/ready-channel shape of the teacher's aggregation server.
type Bus struct {
	client mqtt.Client
	log    *logrus.Entry
}

// Connect dials brokerURL (e.g. "tcp://localhost:1883") and blocks until
// the connection either succeeds or times out.
func Connect(brokerURL, clientID string, log *logrus.Entry) (*Bus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("bus connection lost, reconnecting")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("bus reconnecting")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, classify.New(classify.CategoryTransient, errors.New("bus connect timed out"))
	}
	if err := token.Error(); err != nil {
		return nil, classify.New(classify.CategoryTransient, errors.Wrap(err, "bus connect"))
	}

	return &Bus{client: client, log: log}, nil
}

// Publish sends payload to topic at QoS 1. A disconnected bus drops the
// publish and returns a transient "bus disconnected" error (spec.md §4.5:
// "if the bus disconnects, publishes are dropped and reissued on reconnect
// with a fresh version number" — the caller, not Bus, owns
// re-publish-with-new-version semantics).
func (b *Bus) Publish(topic string, payload []byte) error {
	if !b.client.IsConnected() {
		b.log.WithField("topic", topic).Debug("bus disconnected, dropping publish")
		return classify.New(classify.CategoryTransient, errors.New("bus disconnected"))
	}
	token := b.client.Publish(topic, qos1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return classify.New(classify.CategoryTransient, errors.Wrap(err, "bus publish"))
	}
	return nil
}

// Subscribe registers handler for topic at QoS 1.
func (b *Bus) Subscribe(topic string, handler Handler) error {
	token := b.client.Subscribe(topic, qos1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return classify.New(classify.CategoryTransient, errors.Wrapf(err, "bus subscribe %s", topic))
	}
	return nil
}

// Disconnect closes the connection, waiting up to the given grace period
// for in-flight publishes to flush.
func (b *Bus) Disconnect(grace time.Duration) {
	b.client.Disconnect(uint(grace.Milliseconds()))
}
