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

package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Load returns the running configuration, starting from compiled-in
// defaults, then overlaying an optional config file, then environment
// variables, then command-line flags — each layer only overriding fields
// it actually sets, per the teacher's file→env→flags discipline in
// config.Load.
func Load(applicationName, applicationVersion string, arguments []string) (*RustySquidConfig, error) {
	c := NewConfig()

	fs := flag.NewFlagSet(applicationName, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML configuration file")
	printVersion := fs.Bool("version", false, "print version and exit")
	port := fs.Int("port", 0, "listen port (overrides RUSTYSQUID_PORT and the config file)")
	bind := fs.String("bind", "", "bind address (overrides RUSTYSQUID_BIND and the config file)")
	logLevel := fs.String("log-level", "", "minimum log severity (overrides RUST_LOG and the config file)")

	if err := fs.Parse(arguments); err != nil {
		return nil, err
	}
	if *printVersion {
		fmt.Printf("%s %s\n", applicationName, applicationVersion)
		return nil, nil
	}

	if err := c.loadFile(*configPath); err != nil {
		return nil, err
	}

	loadEnvVars(c)

	if *port != 0 {
		c.Listen.Port = *port
	}
	if *bind != "" {
		c.Listen.Address = *bind
	}
	if *logLevel != "" {
		c.Logging.LogLevel = *logLevel
	}

	if err := validate(c); err != nil {
		return nil, err
	}

	return c, nil
}

// loadEnvVars overlays the recognized environment variables onto c, per
// spec.md §6's CLI surface: RUST_LOG for log level, RUSTYSQUID_PORT and
// RUSTYSQUID_BIND for the listener.
func loadEnvVars(c *RustySquidConfig) {
	if v := os.Getenv("RUST_LOG"); v != "" {
		c.Logging.LogLevel = v
	}
	if v := os.Getenv("RUSTYSQUID_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = n
		}
	}
	if v := os.Getenv("RUSTYSQUID_BIND"); v != "" {
		c.Listen.Address = v
	}
}

// validate rejects configurations the rest of the system cannot safely
// start from.
func validate(c *RustySquidConfig) error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Listen.Port)
	}
	if c.Listen.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.Listen.MaxConnections)
	}
	return nil
}
