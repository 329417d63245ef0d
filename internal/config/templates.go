package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter file for kind: "agent" or "manifest".
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "agent":
		return agentTemplate, nil
	case "manifest":
		return manifestTemplate, nil
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

const agentTemplate = `name = "execctl"
addr = ":9300"
cors_origins = ["http://localhost:3000"]
manifest = "manifest.toml"
log_level = "info"
transport = "local"

[ssh]
host = ""
port = "22"
user = ""
key_path = ""
known_hosts = ""
insecure_skip_host_key = false
timeout = "10s"
`

const manifestTemplate = `host = "localhost"

[[run]]
name = "motd"
command = "touch /tmp/execctl-motd"
creates = "/tmp/execctl-motd"

[[run]]
name = "nginx-reload"
command = "systemctl restart nginx"
reload = "systemctl reload nginx"
reload_only = true
onlyif = "systemctl is-active nginx"
timeout = 30
`
