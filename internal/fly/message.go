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
	"slices"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a Kafka record as the workers see it.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ConsumedMessage is a Message plus the position it was read from.
type ConsumedMessage struct {
	Message
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// Size is the number of key and value bytes.
func (m *Message) Size() int {
	return len(m.Key) + len(m.Value)
}

// record converts m for a kafka-go writer. Headers are written in key
// order.
func (m *Message) record() kafka.Message {
	km := kafka.Message{Key: m.Key, Value: m.Value}
	if len(m.Headers) == 0 {
		return km
	}
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	km.Headers = make([]kafka.Header, len(keys))
	for i, k := range keys {
		km.Headers[i] = kafka.Header{Key: k, Value: []byte(m.Headers[k])}
	}
	return km
}

// consumed converts a fetched record. A repeated header keeps its last value.
func consumed(km kafka.Message) ConsumedMessage {
	cm := ConsumedMessage{
		Message:   Message{Key: km.Key, Value: km.Value},
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Timestamp: km.Time,
	}
	for _, h := range km.Headers {
		if cm.Headers == nil {
			cm.Headers = make(map[string]string, len(km.Headers))
		}
		cm.Headers[h.Key] = string(h.Value)
	}
	return cm
}
