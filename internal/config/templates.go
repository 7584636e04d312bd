package config

import (
	"fmt"
	"os"
	"strings"
)

// Template renders the starter config for a role with pskHex filled in.
func Template(kind, pskHex string) (string, error) {
	var body string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		body = hostTemplate
	case "remote":
		body = remoteTemplate
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	return strings.ReplaceAll(body, "{{psk_hex}}", pskHex), nil
}

func WriteTemplate(path, kind, pskHex string, overwrite bool) error {
	template, err := Template(kind, pskHex)
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

const hostTemplate = `instance = "hostlink-host"
listen_addr = ":7420"
psk_hex = "{{psk_hex}}"
heartbeat_interval = "2s"
handshake_timeout = "5s"
status_addr = "127.0.0.1:7421"
# status_token = "change-me"
cors_origins = ["http://localhost:3000"]

[keepalive]
idle = "1s"
interval = "1s"
count = 3
`

const remoteTemplate = `instance = "hostlink-remote"
psk_hex = "{{psk_hex}}"
# peers = ["192.168.1.20:7420"]
heartbeat_interval = "2s"
handshake_timeout = "5s"

[backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true
`
