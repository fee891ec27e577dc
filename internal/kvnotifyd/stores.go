// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package kvnotifyd

import (
	"fmt"
	"io"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/kvstore/amqpfeed"
	"github.com/innovationmech/kvnotify/pkg/kvstore/consulkv"
	"github.com/innovationmech/kvnotify/pkg/kvstore/filekv"
	"github.com/innovationmech/kvnotify/pkg/kvstore/kafkafeed"
	"github.com/innovationmech/kvnotify/pkg/kvstore/memory"
	"github.com/innovationmech/kvnotify/pkg/kvstore/natskv"
	"github.com/innovationmech/kvnotify/pkg/kvstore/rediskv"
	"github.com/innovationmech/kvnotify/pkg/kvstore/sqlkv"
)

// OpenStore creates the store selected by cfg.Type.
func OpenStore(cfg StoreConfig) (kvstore.Store, error) {
	switch cfg.Type {
	case StoreMemory:
		return memory.New(), nil
	case StoreRedis:
		return rediskv.New(cfg.Redis), nil
	case StoreNATS:
		return natskv.Open(cfg.NATS)
	case StoreConsul:
		return consulkv.New(cfg.Consul)
	case StoreFile:
		return filekv.New(cfg.File)
	case StoreSQL:
		return sqlkv.Open(cfg.SQL)
	case StoreKafka:
		return kafkafeed.New(cfg.Kafka)
	case StoreAMQP:
		return amqpfeed.New(cfg.AMQP)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// CloseStore releases the connections held by store, if any.
func CloseStore(store kvstore.Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
