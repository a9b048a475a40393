package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of every environment variable read by
// ReadFromEnv.
const EnvPrefix = "HUB_"

func Init(c *Config) {
	c.BindPort = 3000
	c.Store.Type = StoreTypeMemory
	c.ICEServers = []ICEServer{{
		URLs: []string{"stun:stun.l.google.com:19302"},
	}}
	c.Recording.Dir = "recordings"
	c.Experiments.GroupFilterBasePort = 44000
	c.Experiments.PingPeriodSeconds = 1
	c.Experiments.PingWindowSeconds = 30
}

// Read returns the configuration assembled from defaults, the given
// YAML files in order, and finally the environment.
func Read(filenames []string) (c Config, err error) {
	Init(&c)

	for _, filename := range filenames {
		if err := ReadFile(filename, &c); err != nil {
			return c, errors.Trace(err)
		}
	}

	ReadFromEnv(EnvPrefix, &c)

	return c, nil
}

func ReadFile(filename string, c *Config) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Annotatef(err, "open config file: %s", filename)
	}

	defer f.Close()

	return errors.Annotatef(ReadYAML(f, c), "read config file: %s", filename)
}

func ReadYAML(reader io.Reader, c *Config) error {
	if err := yaml.NewDecoder(reader).Decode(c); err != nil {
		return errors.Annotate(err, "decode yaml")
	}

	return nil
}

func ReadFromEnv(prefix string, c *Config) {
	setEnvString(&c.BaseURL, prefix+"BASE_URL")
	setEnvString(&c.BindHost, prefix+"BIND_HOST")
	setEnvInt(&c.BindPort, prefix+"BIND_PORT")
	setEnvString(&c.TLS.Cert, prefix+"TLS_CERT")
	setEnvString(&c.TLS.Key, prefix+"TLS_KEY")

	setEnvStoreType(&c.Store.Type, prefix+"STORE_TYPE")
	setEnvString(&c.Store.Redis.Host, prefix+"STORE_REDIS_HOST")
	setEnvInt(&c.Store.Redis.Port, prefix+"STORE_REDIS_PORT")
	setEnvString(&c.Store.Redis.Prefix, prefix+"STORE_REDIS_PREFIX")
	setEnvInt(&c.Store.Redis.DB, prefix+"STORE_REDIS_DB")

	if value, ok := os.LookupEnv(prefix + "ICE_SERVER_URLS"); ok {
		// An explicit value replaces the default servers, even when it
		// is empty.
		c.ICEServers = nil

		var ice ICEServer

		setSlice(&ice.URLs, value)

		if len(ice.URLs) > 0 {
			setEnvString(&ice.Username, prefix+"ICE_SERVER_USERNAME")
			setEnvString(&ice.Credential, prefix+"ICE_SERVER_CREDENTIAL")
			c.ICEServers = append(c.ICEServers, ice)
		}
	}

	setEnvString(&c.Prometheus.AccessToken, prefix+"PROMETHEUS_ACCESS_TOKEN")
	setEnvString(&c.Recording.Dir, prefix+"RECORDING_DIR")

	setEnvInt(&c.Experiments.GroupFilterBasePort, prefix+"EXPERIMENTS_GROUP_FILTER_BASE_PORT")
	setEnvInt(&c.Experiments.PingPeriodSeconds, prefix+"EXPERIMENTS_PING_PERIOD_SECONDS")
	setEnvInt(&c.Experiments.PingWindowSeconds, prefix+"EXPERIMENTS_PING_WINDOW_SECONDS")
}

func setSlice(dest *[]string, value string) {
	for _, v := range strings.Split(value, ",") {
		if v != "" {
			*dest = append(*dest, v)
		}
	}
}

func setEnvString(dest *string, name string) {
	if value := os.Getenv(name); value != "" {
		*dest = value
	}
}

func setEnvInt(dest *int, name string) {
	if value, err := strconv.Atoi(os.Getenv(name)); err == nil {
		*dest = value
	}
}

func setEnvStoreType(dest *StoreType, name string) {
	switch StoreType(os.Getenv(name)) {
	case StoreTypeMemory:
		*dest = StoreTypeMemory
	case StoreTypeRedis:
		*dest = StoreTypeRedis
	}
}
