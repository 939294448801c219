package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"xiaozhi/pkg/util"
)

var ErrIncomplete = errors.New("incomplete config")

type McpServer struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// DeviceConfig is the persisted identity and endpoint record of the device.
type DeviceConfig struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	OtaURL       string      `json:"otaUrl"`
	WebsocketURL string      `json:"websocketUrl"`
	MacAddress   string      `json:"macAddress"`
	UUID         string      `json:"uuid"`
	Token        string      `json:"token"`
	McpEnabled   bool        `json:"mcpEnabled"`
	McpServers   []McpServer `json:"mcpServers"`
}

func Default() DeviceConfig {
	return DeviceConfig{
		ID:         "default",
		Name:       "xiaozhi",
		UUID:       uuid.NewString(),
		Token:      "test-token",
		McpEnabled: false,
		McpServers: []McpServer{
			{Name: "example", URL: "ws://example.com/mcp", Enabled: false},
		},
	}
}

// MissingFields lists what prevents the record from being usable.
func (c DeviceConfig) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.OtaURL) == "" && strings.TrimSpace(c.WebsocketURL) == "" {
		missing = append(missing, "otaUrl or websocketUrl")
	}
	if strings.TrimSpace(c.MacAddress) == "" {
		missing = append(missing, "macAddress")
	}
	if strings.TrimSpace(c.Token) == "" {
		missing = append(missing, "token")
	}
	return missing
}

func (c DeviceConfig) Complete() bool {
	return len(c.MissingFields()) == 0
}

func (c DeviceConfig) Validate() error {
	if missing := c.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// ConnectionChanged reports whether moving from c to next requires a new
// WebSocket connection.
func (c DeviceConfig) ConnectionChanged(next DeviceConfig) bool {
	return c.WebsocketURL != next.WebsocketURL ||
		c.MacAddress != next.MacAddress ||
		c.Token != next.Token
}

func (c DeviceConfig) Equal(o DeviceConfig) bool {
	if c.ID != o.ID || c.Name != o.Name || c.OtaURL != o.OtaURL ||
		c.WebsocketURL != o.WebsocketURL || c.MacAddress != o.MacAddress ||
		c.UUID != o.UUID || c.Token != o.Token || c.McpEnabled != o.McpEnabled {
		return false
	}
	return util.EqualSlices(c.McpServers, o.McpServers, func(x, y McpServer) bool {
		return x == y
	})
}

// Clone returns a copy that shares no memory with c.
func (c DeviceConfig) Clone() DeviceConfig {
	c.McpServers = append([]McpServer(nil), c.McpServers...)
	return c
}
