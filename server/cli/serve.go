package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/experiment-hub/experiment-hub/server/command"
	"github.com/experiment-hub/experiment-hub/server/config"
	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/hub"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/pflag"
)

type serveHandler struct {
	args struct {
		config string
	}

	log    logger.Logger
	props  Props
	config config.Config

	store sessionstore.Store
	mux   *hub.Mux
}

func newServeCmd(props Props) *command.Command {
	h := &serveHandler{
		log:   props.Log,
		props: props,
	}

	return command.New(command.Params{
		Name:         "serve",
		Desc:         "Starts the experiment hub server (default)",
		FlagRegistry: h,
		Handler:      h,
	})
}

func (h *serveHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	flags.StringVarP(&h.args.config, "config", "c", "", "config file to use")
}

func (h *serveHandler) Handle(ctx context.Context, args []string) error {
	if err := h.configure(); err != nil {
		return errors.Trace(err)
	}

	defer h.store.Close()

	listener, err := net.Listen("tcp", net.JoinHostPort(
		h.config.BindHost,
		strconv.Itoa(h.config.BindPort),
	))
	if err != nil {
		return errors.Annotate(err, "listen")
	}

	defer listener.Close()

	h.log.Info("Listen", logger.Ctx{
		"local_addr": listener.Addr(),
	})

	server := hub.NewServer(hub.ServerParams{
		TLSCertFile: h.config.TLS.Cert,
		TLSKeyFile:  h.config.TLS.Key,
	}, h.mux)

	return errors.Trace(server.Start(ctx, listener))
}

func (h *serveHandler) configure() error {
	var configFiles []string

	if h.args.config != "" {
		configFiles = append(configFiles, h.args.config)
	}

	c, err := config.Read(configFiles)
	if err != nil {
		return errors.Annotate(err, "read config")
	}

	h.config = c

	h.log.Info(fmt.Sprintf("Using config: %+v", c), nil)

	h.store, err = newStore(h.log, c.Store)
	if err != nil {
		return errors.Annotate(err, "new session store")
	}

	registry, err := filter.NewDefaultRegistry()
	if err != nil {
		return errors.Annotate(err, "new filter registry")
	}

	factory := connection.NewFactory(connection.FactoryParams{
		Log:        h.log,
		ICEServers: iceServers(c.ICEServers),
	})

	manager := hub.NewManager(hub.ManagerParams{
		Log:                 h.log,
		Registry:            registry,
		Store:               h.store,
		GroupFilterBasePort: c.Experiments.GroupFilterBasePort,
	})

	ws := hub.NewWSHandler(hub.WSHandlerParams{
		Log:          h.log,
		Factory:      factory,
		Manager:      manager,
		Registry:     registry,
		RecordingDir: c.Recording.Dir,
		PingPeriod:   time.Duration(c.Experiments.PingPeriodSeconds) * time.Second,
		PingWindow:   time.Duration(c.Experiments.PingWindowSeconds) * time.Second,
	})

	h.mux = hub.NewMux(hub.MuxParams{
		Log:        h.log,
		BaseURL:    c.BaseURL,
		Version:    h.props.Version,
		Store:      h.store,
		Prometheus: c.Prometheus,
		WS:         ws,
	})

	return nil
}

func newStore(log logger.Logger, c config.StoreConfig) (sessionstore.Store, error) {
	switch c.Type {
	case config.StoreTypeRedis:
		return sessionstore.NewRedis(sessionstore.RedisParams{
			Log:    log,
			Host:   c.Redis.Host,
			Port:   c.Redis.Port,
			DB:     c.Redis.DB,
			Prefix: c.Redis.Prefix,
		}), nil
	case config.StoreTypeMemory:
		return sessionstore.NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown store type: %q", c.Type)
	}
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	ret := make([]webrtc.ICEServer, 0, len(servers))

	for _, server := range servers {
		ice := webrtc.ICEServer{
			URLs: server.URLs,
		}

		if server.Username != "" {
			ice.Username = server.Username
			ice.Credential = server.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}

		ret = append(ret, ice)
	}

	return ret
}
