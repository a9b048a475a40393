// Package config holds the server configuration, read from YAML files
// and overridable through HUB_ environment variables.
package config

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

type RedisConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
	DB     int    `yaml:"db"`
}

type StoreConfig struct {
	Type  StoreType   `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

type PrometheusConfig struct {
	AccessToken string `yaml:"access_token"`
}

type RecordingConfig struct {
	Dir string `yaml:"dir"`
}

type ExperimentsConfig struct {
	// GroupFilterBasePort is the first UDP port handed out to group
	// filter aggregators. Pairs are allocated upward from it.
	GroupFilterBasePort int `yaml:"group_filter_base_port"`

	PingPeriodSeconds int `yaml:"ping_period_seconds"`
	PingWindowSeconds int `yaml:"ping_window_seconds"`
}

type Config struct {
	BaseURL     string            `yaml:"base_url"`
	BindHost    string            `yaml:"bind_host"`
	BindPort    int               `yaml:"bind_port"`
	TLS         TLS               `yaml:"tls"`
	ICEServers  []ICEServer       `yaml:"ice_servers"`
	Store       StoreConfig       `yaml:"store"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Recording   RecordingConfig   `yaml:"recording"`
	Experiments ExperimentsConfig `yaml:"experiments"`
}
