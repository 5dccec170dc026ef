package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/core/debug"
	"github.com/voyeger/meshchat/internal/mesh"
	"github.com/voyeger/meshchat/internal/private"
	"github.com/voyeger/meshchat/internal/room"
)

// Controller is the main entrypoint for meshchat. It's responsible for
// initializing any shared resources (such as logging), declaring the room
// servers and the private chat server, wiring the mesh topology, and
// launching everything.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	wg     sync.WaitGroup

	servers []*frontend
}

func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartUtilities(c.logger,
			c.Config.Debugging.PprofPort,
			c.Config.Debugging.MetricsEnabled,
		)
	}

	c.declareServers()
	return c.run(ctx)
}

// declareServers sets up all of the servers we want to run: one room server
// per configured port, each wired to every other as a mesh sibling, plus the
// private chat server.
func (c *Controller) declareServers() {
	ports := c.Config.RoomServerPorts()

	addresses := make([]string, len(ports))
	for i, port := range ports {
		addresses[i] = c.buildAddress(port)
	}

	for i, port := range ports {
		name := fmt.Sprintf("Server-%d", port)

		// Every ordered pair (i, j), i != j becomes a mesh link, producing
		// a complete graph. The sibling list never contains the server itself.
		var siblings []string
		for j, addr := range addresses {
			if j != i {
				siblings = append(siblings, addr)
			}
		}

		c.servers = append(c.servers, &frontend{
			Address: addresses[i],
			Backend: &room.Server{
				Name:   name,
				Config: c.Config,
				Logger: c.logger,
				Mesh:   mesh.NewCoordinator(name, siblings, c.logger),
			},
		})
	}

	c.servers = append(c.servers, &frontend{
		Address: c.buildAddress(c.Config.PrivateServer.Port),
		Backend: &private.Server{
			Name:   "PRIVATE",
			Config: c.Config,
			Logger: c.logger,
		},
	})
}

func (c *Controller) run(ctx context.Context) error {
	// Start all of our servers. Failure to initialize one of the registered
	// servers is considered terminal.
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.logger

		if err := server.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
	}

	c.wg.Wait()
	return nil
}

func (c *Controller) buildAddress(port int) string {
	return fmt.Sprintf("%s:%v", c.Config.Hostname, port)
}
