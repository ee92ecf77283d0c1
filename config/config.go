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

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/transformer/internal/cloudstorage"
	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/healthcheck"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
	"github.com/cardinalhq/transformer/internal/publish"
	"github.com/cardinalhq/transformer/internal/pubsub"
	"github.com/cardinalhq/transformer/internal/wirebatch"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Transform   TransformConfig    `mapstructure:"transform"`
	Kafka       fly.Config         `mapstructure:"kafka"`
	Queue       pubsub.Config      `mapstructure:"queue"`
	ObjectStore ObjectStoreConfig  `mapstructure:"objectstore"`
	Status      StatusConfig       `mapstructure:"status"`
	Health      healthcheck.Config `mapstructure:"health"`
	Debug       DebugConfig        `mapstructure:"debug"`
}

// TransformConfig controls how a file is read, encoded and published.
type TransformConfig struct {
	// Columns is the default comma-separated "Collection.field" list, used
	// when a work item does not name its own.
	Columns     string        `mapstructure:"columns"`
	ChunkSize   int64         `mapstructure:"chunk_size"`
	BatchRows   int64         `mapstructure:"batch_rows"`
	Compression string        `mapstructure:"compression"`
	EventLimit  int64         `mapstructure:"event_limit"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	TmpDir      string        `mapstructure:"tmpdir"`

	// DefaultCollection names the single collection of a plain parquet file.
	DefaultCollection string `mapstructure:"default_collection"`

	PublishToKafka bool   `mapstructure:"publish_to_kafka"`
	FailureTopic   string `mapstructure:"failure_topic"`

	// AvgBytesPerColumn feeds the validator's max-event-size estimate.
	AvgBytesPerColumn int64 `mapstructure:"avg_bytes_per_column"`
}

// ObjectStoreConfig enables the object-store sink and describes how to
// reach remote input files.
type ObjectStoreConfig struct {
	Enabled      bool                 `mapstructure:"enabled"`
	Bucket       string               `mapstructure:"bucket"`
	ResultFormat string               `mapstructure:"result_format"`
	Profile      cloudstorage.Profile `mapstructure:"profile"`
}

// StatusConfig controls calls to the coordinating service.
type StatusConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DebugConfig controls operator debugging aids.
type DebugConfig struct {
	// PprofPort serves net/http/pprof; zero or negative disables it.
	PprofPort int `mapstructure:"pprof_port"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Transform: TransformConfig{
			ChunkSize:         10000,
			BatchRows:         10000,
			Compression:       string(wirebatch.CompressionNone),
			ReadTimeout:       5 * time.Minute,
			DefaultCollection: "Events",
			PublishToKafka:    true,
			FailureTopic:      "transformation_failures",
			AvgBytesPerColumn: 40,
		},
		Kafka: *fly.DefaultConfig(),
		Queue: pubsub.DefaultConfig(),
		ObjectStore: ObjectStoreConfig{
			ResultFormat: string(publish.FormatArrow),
			Profile:      cloudstorage.Profile{Provider: "aws"},
		},
		Status: StatusConfig{Timeout: 30 * time.Second},
		Health: healthcheck.DefaultConfig(),
		Debug:  DebugConfig{PprofPort: 6060},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "TRANSFORMER" and the dot character
// in keys is replaced by an underscore. For example, "kafka.brokers" becomes
// "TRANSFORMER_KAFKA_BROKERS".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TRANSFORMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("kafka.brokers"); b != "" {
		cfg.Kafka.Brokers = splitList(b)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BusEnabled reports whether batches are published to Kafka.
func (c *Config) BusEnabled() bool {
	return c.Transform.PublishToKafka && len(c.Kafka.Brokers) > 0
}

// Validate checks the settings every worker depends on. It does not check
// the column list, which a work item may supply.
func (c *Config) Validate() error {
	t := c.Transform
	if t.ChunkSize <= 0 {
		return pipelineerr.NewConfiguration("transform.chunk_size", "must be positive")
	}
	if t.BatchRows <= 0 {
		return pipelineerr.NewConfiguration("transform.batch_rows", "must be positive")
	}
	if t.EventLimit < 0 {
		return pipelineerr.NewConfiguration("transform.event_limit", "must not be negative")
	}
	if t.ReadTimeout <= 0 {
		return pipelineerr.NewConfiguration("transform.read_timeout", "must be positive")
	}
	if _, err := wirebatch.ParseCompression(t.Compression); err != nil {
		return err
	}
	if t.Columns != "" {
		if _, err := columns.ParseList(t.Columns); err != nil {
			return err
		}
	}
	if !c.BusEnabled() && !c.ObjectStore.Enabled {
		return pipelineerr.NewConfiguration("sinks", "neither kafka publishing nor the object store is enabled")
	}
	if c.ObjectStore.Enabled {
		if _, err := publish.ParseFormat(c.ObjectStore.ResultFormat); err != nil {
			return err
		}
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
