/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package config holds RustySquid's layered configuration: compiled-in
// defaults, overridden by an optional TOML file, then by environment
// variables, then by command-line flags — the same layering order the
// teacher's config.Load uses, generalized from origin/cache-backend
// fields to the fields a forward-caching proxy actually needs.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ListenConfig controls the accept loop (C9).
type ListenConfig struct {
	Port            int    `toml:"port"`
	Address         string `toml:"address"`
	MaxConnections  int    `toml:"max_connections"`
	ShutdownGraceMS int    `toml:"shutdown_grace_ms"`
}

// CachingConfig controls the bounded LRU cache (C3/C4) and cache policy
// (C6).
type CachingConfig struct {
	Compression          bool  `toml:"compression"`
	DisableHeuristicTTL  bool  `toml:"disable_heuristic_ttl"`
	MemoryThresholdBytes int64 `toml:"memory_threshold_bytes"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Implementation string `toml:"implementation"`
}

// RustySquidConfig is the top-level, TOML-serializable configuration
// struct, mirroring the shape of the teacher's TricksterConfig but scoped
// to a single generic upstream rather than a map of named origins.
type RustySquidConfig struct {
	Listen  ListenConfig  `toml:"listen"`
	Caching CachingConfig `toml:"caching"`
	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
}

// NewConfig returns a RustySquidConfig populated with compiled-in
// defaults, the starting point for the file/env/flag overlay in Load.
func NewConfig() *RustySquidConfig {
	return &RustySquidConfig{
		Listen: ListenConfig{
			Port:            defaultListenPort,
			Address:         defaultListenAddress,
			MaxConnections:  defaultMaxConnections,
			ShutdownGraceMS: defaultShutdownGraceMS,
		},
		Caching: CachingConfig{
			Compression:          defaultCacheCompression,
			DisableHeuristicTTL:  defaultDisableHeuristicTTL,
			MemoryThresholdBytes: defaultMemoryThresholdBytes,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Tracing: TracingConfig{
			Implementation: defaultTracerImplementation,
		},
	}
}

// loadFile overlays path's TOML contents onto c. Fields absent from the
// file keep whatever value c already carried (defaults, typically) —
// BurntSushi/toml only assigns fields it actually finds in the document,
// which is what gives this overlay its "file wins only where present"
// behavior without the teacher's separate metadata.IsDefined bookkeeping.
func (c *RustySquidConfig) loadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("loading config file %s: %w", path, err)
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *RustySquidConfig) Copy() *RustySquidConfig {
	cp := *c
	return &cp
}
