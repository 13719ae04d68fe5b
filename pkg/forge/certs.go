package forge

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
	transport "github.com/forj-oss/forj/pkg/transports/ssh"
)

// Dialer opens a connection to a box.
type Dialer func(ctx context.Context, cfg *transport.Config) (transport.Transport, error)

// SSHDialer dials with the ssh transport.
func SSHDialer(logger zerolog.Logger) Dialer {
	return func(ctx context.Context, cfg *transport.Config) (transport.Transport, error) {
		return transport.Dial(ctx, cfg, logger)
	}
}

// boxAccess connects the watchers to the booting server.
type boxAccess struct {
	dial    Dialer
	user    string
	keyFile string
}

func (a *boxAccess) connect(ctx context.Context, server *Server) (transport.Transport, error) {
	return a.dial(ctx, transport.DefaultConfig(server.PublicIP, a.user, a.keyFile))
}

// caRootRemote returns where the certificate is uploaded: /tmp/<dest name>
// for a "file#dest" setting, the file name in the user home otherwise.
func caRootRemote(spec string) (local, remote string) {
	file, dest := caRootSpec(spec)
	local = config.ExpandPath(file)
	if file != spec {
		return local, "/tmp/" + filepath.Base(dest)
	}
	return local, filepath.Base(local)
}

// caRootWatcher uploads the CA root certificate when the box waits for it,
// then touches <remote>.done. A failure sets cert_error so the push is not
// tried again.
func caRootWatcher(d *lorj.Dispatcher, box *boxAccess) LogWatcher {
	done := false
	return func(ctx context.Context, server *Server, log string) {
		spec := configString(d, "ca_root_cert")
		if done || spec == "" || d.Config().Exist("cert_error") || !CARootRequested(log) {
			return
		}
		logger := d.Logger().With().Str("server", server.Name).Logger()
		local, remote := caRootRemote(spec)

		fail := func(err error, msg string) {
			logger.Error().Err(err).Str("file", local).
				Msgf("%s. You will need to install it yourself in '%s' and create the '%s.done' flag file", msg, remote, remote)
			d.Config().Set("cert_error", true)
		}

		f, err := os.Open(local)
		if err != nil {
			fail(err, "Unable to read the root certificate file")
			return
		}
		f.Close()

		conn, err := box.connect(ctx, server)
		if err != nil {
			fail(err, "Unable to send the root certificate file")
			return
		}
		defer conn.Close()

		logger.Info().Str("file", local).Str("dest", remote).Msg("Copying the root certificate to the box")
		if err := conn.UploadFile(ctx, local, remote, 0o644); err != nil {
			fail(err, "Unable to send the root certificate file")
			return
		}
		if err := conn.Touch(ctx, remote+".done"); err != nil {
			fail(err, "Unable to flag the root certificate copy")
			return
		}
		done = true
	}
}

// lorjWatcher hands the sealed account to a box asking for it. Without a
// coherent keypair, or when the copy fails, the manual instructions are
// logged once.
func lorjWatcher(d *lorj.Dispatcher, box *boxAccess, coherent bool) LogWatcher {
	done := false
	return func(ctx context.Context, server *Server, log string) {
		if done {
			return
		}
		account, ok := d.Object(LorjAccount)
		if !ok || account.GetString("data") == "" {
			return
		}
		req, ok := LorjRequested(log)
		if !ok {
			return
		}
		done = true
		logger := d.Logger().With().Str("server", server.Name).Logger()
		logger.Info().Msg("lorj: your box is waiting for your cloud data. One moment")

		data, key := account.GetString("data"), account.GetString("key")
		if coherent {
			err := pushLorjAccount(ctx, box, server, req, data, key)
			if err == nil {
				logger.Info().Str("flag", req.FlagFile).Msg("lorj: cloud data sent to the box")
				return
			}
			logger.Error().Err(err).Msg("lorj: unable to send the cloud data")
		}
		logger.Error().Msg(lorjInstructions(server.PublicIP, box.user, box.keyFile, req, data, key))
	}
}

func pushLorjAccount(ctx context.Context, box *boxAccess, server *Server, req LorjRequest, data, key string) error {
	conn, err := box.connect(ctx, server)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteFile(ctx, req.DataFile, []byte(data+"\n"), 0o600); err != nil {
		return err
	}
	if err := conn.WriteFile(ctx, req.KeyFile, []byte(key+"\n"), 0o600); err != nil {
		return err
	}
	return conn.Touch(ctx, req.FlagFile)
}
