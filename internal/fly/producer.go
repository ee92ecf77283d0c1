// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package fly

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// Producer sends messages to Kafka topics.
type Producer interface {
	Send(ctx context.Context, topic string, message Message) error
	BatchSend(ctx context.Context, topic string, messages []Message) error
	Close() error
}

// ProducerConfig contains configuration for the Kafka producer
type ProducerConfig struct {
	Brokers         []string
	BatchSize       int
	BatchTimeout    time.Duration
	RequiredAcks    kafka.RequiredAcks
	Compression     kafka.Compression
	MaxMessageBytes int

	SASLMechanism sasl.Mechanism
	TLSConfig     *tls.Config

	ConnectionTimeout time.Duration
}

// kafkaProducer keeps one writer per topic. Request topics are created on
// the fly, so the writer set grows with the number of requests seen.
type kafkaProducer struct {
	config    ProducerConfig
	transport *kafka.Transport

	writersMu sync.RWMutex
	writers   map[string]*kafka.Writer
}

var _ Producer = (*kafkaProducer)(nil)

// NewProducer creates a new Kafka producer
func NewProducer(config ProducerConfig) Producer {
	timeout := config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &kafkaProducer{
		config: config,
		transport: &kafka.Transport{
			SASL:        config.SASLMechanism,
			TLS:         config.TLSConfig,
			DialTimeout: timeout,
		},
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *kafkaProducer) getWriter(topic string) *kafka.Writer {
	p.writersMu.RLock()
	w, ok := p.writers[topic]
	p.writersMu.RUnlock()
	if ok {
		return w
	}

	p.writersMu.Lock()
	defer p.writersMu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w = &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		RequiredAcks: p.config.RequiredAcks,
		Transport:    p.transport,
		Compression:  p.config.Compression,
	}
	if p.config.MaxMessageBytes > 0 {
		w.BatchBytes = int64(p.config.MaxMessageBytes)
	}
	p.writers[topic] = w
	return w
}

func (p *kafkaProducer) Send(ctx context.Context, topic string, message Message) error {
	return p.BatchSend(ctx, topic, []Message{message})
}

func (p *kafkaProducer) BatchSend(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	kmsgs := make([]kafka.Message, len(messages))
	for i := range messages {
		kmsgs[i] = messages[i].record()
	}

	done := observeSend(ctx, messages)
	err := p.getWriter(topic).WriteMessages(ctx, kmsgs...)
	done(err)
	return err
}

func (p *kafkaProducer) Close() error {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var errs []error
	for _, w := range p.writers {
		errs = append(errs, w.Close())
	}
	p.writers = make(map[string]*kafka.Writer)
	return errors.Join(errs...)
}
