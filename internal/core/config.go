package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// meshchat server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	RoomServer struct {
		// First port in the contiguous range of ports the room servers will occupy.
		BasePort int `mapstructure:"base_port"`
		// Number of room servers to run; each is wired to every other as a mesh sibling.
		NumServers int `mapstructure:"num_servers"`
	} `mapstructure:"room_server"`

	PrivateServer struct {
		// Port on which the private chat server will listen.
		Port int `mapstructure:"port"`
	} `mapstructure:"private_server"`

	Session struct {
		// Number of outbound frames buffered per session before writes are dropped.
		OutboundBufferSize int `mapstructure:"outbound_buffer_size"`
	} `mapstructure:"session"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Serve prometheus metrics from the pprof listener under /metrics.
		MetricsEnabled bool `mapstructure:"metrics_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MESHCHAT"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) (*Config, error) {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file in %s: %w", configPath, err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, room_server.base_port can be set using:
	// <envVarPrefix>_ROOM_SERVER_BASE_PORT
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	setDefaults(config)
	return config, nil
}

func setDefaults(config *Config) {
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}
	if config.RoomServer.NumServers <= 0 {
		config.RoomServer.NumServers = 5
	}
	if config.RoomServer.BasePort == 0 {
		config.RoomServer.BasePort = 8081
	}
	if config.PrivateServer.Port == 0 {
		config.PrivateServer.Port = 8888
	}
	if config.Session.OutboundBufferSize <= 0 {
		config.Session.OutboundBufferSize = 64
	}
}

// RoomServerPorts returns the port assigned to each of the configured room servers.
func (c *Config) RoomServerPorts() []int {
	ports := make([]int, 0, c.RoomServer.NumServers)
	for i := 0; i < c.RoomServer.NumServers; i++ {
		ports = append(ports, c.RoomServer.BasePort+i)
	}
	return ports
}
