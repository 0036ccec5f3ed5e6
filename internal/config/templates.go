package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "block":
		return blockTemplate, nil
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

// Render encodes cfg as TOML, for writing back a resolved config.
func Render(cfg HostConfig) (string, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const hostTemplate = `name = "blockhost"
addr = ":9300"
origin = "http://localhost:9300"
codec = "json"
block_whitelist = ["localhost"]
ssl_optional = true
cors_origins = ["http://localhost:3000"]
admin_token = ""

[content]
content = "<p>hello from the host</p>"
super_content = ""
view = "html"
editor_width = 600

[content.user_data]
stack = "s7"
`

const blockTemplate = `self_origin = "http://localhost:3000"
host_url = "ws://localhost:9300/ws"
codec = "json"
whitelist = ["localhost"]
ssl_optional = true
max_in_flight = 1024
call_ttl = "0s"
connect_timeout = "5s"
max_connect_attempts = 5

[init]
key = "richTextField"
blockEditorWidth = 600
tabs = ["htmlblock", "stylingblock"]
`
