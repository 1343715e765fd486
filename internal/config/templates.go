package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "wsctl":
		return wsctlTemplate, nil
	case "nukleusd":
		return nukleusdTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const wsctlTemplate = `nukleus = "ws"
transport = "stream"
scratch_capacity = 1024
reply_timeout = "10s"

stream_addr = "127.0.0.1:7400"
websocket_url = "ws://127.0.0.1:7401/control"
nats_url = "nats://127.0.0.1:4222"

session_connect_timeout = "5s"
session_write_timeout = "5s"
session_max_connect_attempts = 5
session_tls_enabled = false
`

const nukleusdTemplate = `nukleus = "ws"
listen_stream = ":7400"
listen_http = ":7401"
cors_origins = []
nats_url = ""
`
