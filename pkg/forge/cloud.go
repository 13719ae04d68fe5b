package forge

import (
	"context"
	"fmt"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/lorj"
)

// DispatcherCloud drives the boot loop through the cloud process.
type DispatcherCloud struct {
	d *lorj.Dispatcher
}

var _ Cloud = (*DispatcherCloud)(nil)

// NewDispatcherCloud wraps d.
func NewDispatcherCloud(d *lorj.Dispatcher) *DispatcherCloud {
	return &DispatcherCloud{d: d}
}

// GetServer reloads the server and registers it.
func (c *DispatcherCloud) GetServer(ctx context.Context, id string) (*Server, error) {
	data, err := c.d.Get(ctx, cloud.Server, id)
	if err != nil {
		return nil, err
	}
	return ServerFromData(data), nil
}

// FindServers lists the servers named name. The first one is registered.
func (c *DispatcherCloud) FindServers(ctx context.Context, name string) ([]*Server, error) {
	c.d.QueryCacheCleanup(cloud.Server)
	list, err := c.d.Query(ctx, cloud.Server, lorj.Query{"name": name})
	if err != nil || list == nil {
		return nil, err
	}
	servers := make([]*Server, 0, list.Len())
	for _, item := range list.Items() {
		servers = append(servers, ServerFromData(item))
	}
	if len(servers) > 0 {
		c.d.Register(list.Items()[0])
	}
	return servers, nil
}

// ServerLog reads the console of the registered server.
func (c *DispatcherCloud) ServerLog(ctx context.Context, server *Server) (string, error) {
	if err := c.ensure(server); err != nil {
		return "", err
	}
	log, err := c.d.Get(ctx, cloud.ServerLog, server.ID)
	if err != nil || log == nil {
		return "", err
	}
	return log.GetString("output"), nil
}

// AssignPublicIP queries the addresses of server, creating one when none.
func (c *DispatcherCloud) AssignPublicIP(ctx context.Context, server *Server) (string, error) {
	if err := c.ensure(server); err != nil {
		return "", err
	}
	c.d.QueryCacheCleanup(cloud.PublicIP)
	ip, err := c.d.QuerySingle(ctx, cloud.PublicIP, lorj.Query{"server_id": server.ID})
	if err != nil {
		return "", err
	}
	if ip == nil {
		if ip, err = c.d.Create(ctx, cloud.PublicIP); err != nil {
			return "", err
		}
	} else {
		c.d.Register(ip)
	}
	if ip == nil {
		return "", lorj.NewPermanentError("no public IP assigned", nil).WithObject(cloud.PublicIP)
	}
	return ip.GetString("public_ip"), nil
}

// RebuildServer deletes the server and creates it again from the loaded
// flavor, image, network and keypair.
func (c *DispatcherCloud) RebuildServer(ctx context.Context, server *Server) (*Server, error) {
	if err := c.ensure(server); err != nil {
		return nil, err
	}
	deleted, err := c.d.Delete(ctx, cloud.Server)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, lorj.NewPermanentError(fmt.Sprintf("server '%s' was not removed", server.Name), nil).WithObject(cloud.Server)
	}
	c.d.QueryCacheCleanup(cloud.Server)
	c.d.QueryCacheCleanup(cloud.PublicIP)
	c.d.Config().Set("server_name", server.Name)
	created, err := c.d.Create(ctx, cloud.Server)
	if err != nil {
		return nil, err
	}
	return ServerFromData(created), nil
}

// ensure checks the registered server is the one the loop follows.
func (c *DispatcherCloud) ensure(server *Server) error {
	if loaded, ok := c.d.Object(cloud.Server); ok && loaded.GetString("id") == server.ID {
		return nil
	}
	return lorj.NewPermanentError(fmt.Sprintf("server '%s' is not loaded", server.Name), nil).
		WithCode(lorj.ErrCodeNotFound).WithObject(cloud.Server)
}
