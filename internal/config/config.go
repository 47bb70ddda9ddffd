package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the primary's settings, loaded from a key=value file. Missing
// keys keep their defaults; unknown keys are ignored so old configs keep
// working.
type Config struct {
	ListenAddress string
	ListenPort    int
	DataDir       string
	Blobs         bool
	// Keepalive enables TCP keepalive probes on replica connections; zero
	// disables them.
	Keepalive time.Duration
	Debug     bool
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1",
		ListenPort:    8100,
		DataDir:       ".replistream",
	}
}

// Load reads path into a Config on top of the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "listen_address":
			cfg.ListenAddress = value
		case "listen_port":
			cfg.ListenPort, err = strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid listen port value: %w", err)
			}
		case "data_dir":
			cfg.DataDir = value
		case "blobs":
			cfg.Blobs = value == "true"
		case "keepalive_seconds":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid keepalive value: %w", err)
			}
			cfg.Keepalive = time.Duration(secs) * time.Second
		case "debug":
			cfg.Debug = value == "true"
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return cfg, nil
}
