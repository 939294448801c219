package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"xiaozhi/pkg/util"
)

// Runtime holds daemon options that are not part of the device record.
// Values come from XIAOZHI_* variables and serve as flag defaults.
type Runtime struct {
	ConfigPath      string
	LogLevel        string
	Proxy           string
	Codec           string
	Duck            bool
	DuckLevel       int
	SpeakActivation bool
	Beep            bool
	ReconnectDelay  time.Duration
	HelloTimeout    time.Duration
}

func LoadRuntime() Runtime {
	return Runtime{
		ConfigPath:      envOrDefault("XIAOZHI_CONFIG", DefaultPath()),
		LogLevel:        envOrDefault("XIAOZHI_LOG", "info"),
		Proxy:           strings.TrimSpace(os.Getenv("XIAOZHI_PROXY")),
		Codec:           envOrDefault("XIAOZHI_CODEC", "auto"),
		Duck:            envOrDefaultBool("XIAOZHI_DUCK", false),
		DuckLevel:       envOrDefaultInt("XIAOZHI_DUCK_LEVEL", 30),
		SpeakActivation: envOrDefaultBool("XIAOZHI_SPEAK_ACTIVATION", false),
		Beep:            envOrDefaultBool("XIAOZHI_BEEP", true),
		ReconnectDelay:  time.Duration(envOrDefaultInt("XIAOZHI_RECONNECT_MS", 2000)) * time.Millisecond,
		HelloTimeout:    time.Duration(envOrDefaultInt("XIAOZHI_HELLO_TIMEOUT_MS", 15000)) * time.Millisecond,
	}
}

// ApplyEnv overrides endpoint fields of the persisted record with the
// XIAOZHI_OTA_URL, XIAOZHI_WS_URL, XIAOZHI_TOKEN and XIAOZHI_MAC variables.
func ApplyEnv(c DeviceConfig) DeviceConfig {
	c.OtaURL = util.FirstNonEmpty(os.Getenv("XIAOZHI_OTA_URL"), c.OtaURL)
	c.WebsocketURL = util.FirstNonEmpty(os.Getenv("XIAOZHI_WS_URL"), c.WebsocketURL)
	c.Token = util.FirstNonEmpty(os.Getenv("XIAOZHI_TOKEN"), c.Token)
	c.MacAddress = util.FirstNonEmpty(os.Getenv("XIAOZHI_MAC"), c.MacAddress)
	return c
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
