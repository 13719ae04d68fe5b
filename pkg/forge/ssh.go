package forge

import (
	"context"
	"fmt"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
	transport "github.com/forj-oss/forj/pkg/transports/ssh"
)

// openSSH is the create handler of the ssh object: it opens an interactive
// session on a server of the loaded forge. The forge must have been loaded
// with Get first.
func (p *Process) openSSH(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	forge, ok := d.Object(Forge)
	if !ok {
		return nil, lorj.NewPermanentError("no forge loaded", nil).WithCode(lorj.ErrCodeNotFound).WithObject(t)
	}
	kind := params.GetString("box")
	if kind == "" {
		kind = MaestroType
	}
	v, _ := forge.Get("servers", kind)
	data, ok := v.(*lorj.Data)
	if !ok || data == nil {
		return nil, lorj.NewPermanentError(fmt.Sprintf("no '%s' server found in forge '%s'", kind, forge.GetString("name")), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(t)
	}
	d.Register(data)
	server := ServerFromData(data)

	host, err := serverPublicIP(ctx, d, server)
	if err != nil {
		return nil, err
	}
	user, err := sshUser(ctx, d, server)
	if err != nil {
		return nil, err
	}

	keyFile := ""
	if identity := params.GetString("identity"); identity != "" {
		keyFile = config.ExpandPath(identity)
	} else {
		key, err := resolveBootKey(ctx, d, server)
		if err != nil {
			return nil, err
		}
		if !key.PrivateKeyExists {
			return nil, lorj.NewPermanentError(fmt.Sprintf(
				"the server '%s' has been configured with a keypair '%s' which is not found locally. "+
					"To connect to this box, you need to provide the appropriate private key file with option -i",
				server.Name, server.KeyName), nil).WithCode(lorj.ErrCodeMissingData).WithObject(t)
		}
		keyFile = key.PrivateKeyFile()
	}

	d.Logger().Info().Str("server", server.Name).Str("host", host).Str("user", user).Msg("Creating ssh connection")
	conn, err := p.opts.Dial(ctx, transport.DefaultConfig(host, user, keyFile))
	if err != nil {
		return nil, fmt.Errorf("you were not able to connect to '%s'. There is no guarantee that '%s' is the key used to build this box: %w",
			server.Name, keyFile, err)
	}
	defer conn.Close()

	if p.opts.Stdin != nil {
		if err := conn.Shell(ctx, p.opts.Stdin, p.opts.Stdout, p.opts.Stderr); err != nil {
			return nil, err
		}
	}
	return lorj.NewAttrs(t, map[string]any{
		"server":   server.Name,
		"host":     host,
		"user":     user,
		"key_file": keyFile,
	}), nil
}

// serverPublicIP returns the public address of the registered server,
// querying the public IPs when the server does not list it.
func serverPublicIP(ctx context.Context, d *lorj.Dispatcher, server *Server) (string, error) {
	if server.PublicIP != "" {
		return server.PublicIP, nil
	}
	d.QueryCacheCleanup(cloud.PublicIP)
	list, err := d.Query(ctx, cloud.PublicIP, lorj.Query{"server_id": server.ID})
	if err != nil {
		return "", err
	}
	if list == nil || list.Len() == 0 {
		return "", lorj.NewPermanentError(fmt.Sprintf("ip address for '%s' server was not found", server.Name), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(cloud.PublicIP)
	}
	return list.Items()[0].GetString("public_ip"), nil
}

// sshUser returns the ssh_user set by the user, else the user of the server
// image, else the default ssh_user.
func sshUser(ctx context.Context, d *lorj.Dispatcher, server *Server) (string, error) {
	if layers := d.Config().Where("ssh_user"); len(layers) > 0 && layers[0] != config.LayerDefault {
		return configString(d, "ssh_user"), nil
	}
	if server.ImageID != "" {
		image, err := d.Get(ctx, cloud.Image, server.ImageID)
		if err != nil {
			return "", err
		}
		if image != nil && image.GetString("ssh_user") != "" {
			return image.GetString("ssh_user"), nil
		}
	}
	return configString(d, "ssh_user"), nil
}
