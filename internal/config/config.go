package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/lanternops/deskhost-host/internal/logging"
)

var log = logging.L("config")

// HostConfig is the desktop host's full configuration surface: the HTTP
// listen address the Signaling Adapter binds, the ICE server list the Peer
// Transport negotiates with, the auth credential file, the encoder's
// starting point and AIMD bounds, and logging.
type HostConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthFile   string `mapstructure:"auth_file"`

	ICEServers []string `mapstructure:"ice_servers"`

	InitialFPS            int  `mapstructure:"initial_fps"`
	InitialBitrate        int  `mapstructure:"initial_bitrate"`
	MinBitrate            int  `mapstructure:"min_bitrate"`
	MaxBitrate            int  `mapstructure:"max_bitrate"`
	PreferHardwareEncoder bool `mapstructure:"prefer_hardware_encoder"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *HostConfig {
	return &HostConfig{
		ListenAddr: "127.0.0.1:8843",
		AuthFile:   "auth.json",
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		InitialFPS:     30,
		InitialBitrate: 2_500_000,
		MinBitrate:     500_000,
		MaxBitrate:     8_000_000,
		LogLevel:       "info",
		LogFormat:      "text",
		LogMaxSizeMB:   50,
		LogMaxBackups:  3,
	}
}

// Load reads configuration from cfgFile (or the default search path/name
// when empty), overlays environment variables under the DESKHOST prefix,
// and validates the tiered result: fatals abort startup, warnings are
// logged and the offending fields are auto-clamped to a safe value.
func Load(cfgFile string) (*HostConfig, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DESKHOST")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *HostConfig) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *HostConfig, cfgFile string) error {
	v := viper.New()
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("auth_file", cfg.AuthFile)
	v.Set("ice_servers", cfg.ICEServers)
	v.Set("initial_fps", cfg.InitialFPS)
	v.Set("initial_bitrate", cfg.InitialBitrate)
	v.Set("min_bitrate", cfg.MinBitrate)
	v.Set("max_bitrate", cfg.MaxBitrate)
	v.Set("prefer_hardware_encoder", cfg.PreferHardwareEncoder)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "deskhost.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "DeskhostHost")
	case "darwin":
		return "/Library/Application Support/DeskhostHost"
	default:
		return "/etc/deskhost-host"
	}
}
