package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template returns the starter config for kind, "leader" or "joiner".
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "leader":
		return leaderTemplate, nil
	case "joiner":
		return joinerTemplate, nil
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
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const leaderTemplate = `# lightmeshd leader
transport = "tcp://127.0.0.1:2323"
role = "leader"
listen_port = 12345

network_name = "lightmesh"
network_key = "00112233445566778899aabbccddeeff"
joiner_key = "J01NME"
channel = 11
pan_id = "0x1234"
mesh_local_prefix = "fd00::"

tick_interval = "50ms"
heartbeat_interval = "5s"
heartbeat_dead_after = "15s"
retry_interval = "2s"
retry_limit = 5
max_pending = 64
max_joiners = 512
inbound_rate = 50
inbound_burst = 100

storage_backend = "file"
storage_dir = "local/lightmesh/leader"

admin_listen_addr = "127.0.0.1:8081"
admin_token = ""
cors_origins = ["http://localhost:3000"]
`

const joinerTemplate = `# lightmeshd joiner
transport = "tcp://127.0.0.1:2324"
role = "joiner"
listen_port = 12345

joiner_key = "J01NME"
channel = 11
pan_id = "0x1234"
mesh_local_prefix = "fd00::"
router_upgrade = false

tick_interval = "50ms"
heartbeat_interval = "5s"
heartbeat_dead_after = "15s"
retry_interval = "2s"
retry_limit = 5
max_pending = 64
inbound_rate = 50
inbound_burst = 100

storage_backend = "file"
storage_dir = "local/lightmesh/joiner"

admin_listen_addr = "127.0.0.1:8082"
`
