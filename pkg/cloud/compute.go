package cloud

import (
	"context"
	"fmt"

	"github.com/forj-oss/forj/pkg/lorj"
)

// getOrCreateKeypair imports the local public key under keypair_name unless
// the cloud already knows that name. The local key files are recorded on the
// returned object.
func getOrCreateKeypair(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("keypair_name")
	local := DetectKeypair(name, params.GetString("keypair_path"))
	if local.PrivateKeyExists {
		d.Logger().Info().Str("file", local.PrivateKeyFile()).Msg("Openssh private key file exists")
	}
	if !local.PublicKeyExists {
		return nil, lorj.NewPermanentError(
			fmt.Sprintf("public key file '%s' is not found. Please run 'forj setup'", local.PublicKeyFile()), nil).
			WithCode(lorj.ErrCodeMissingData).WithObject(t)
	}

	d.Logger().Info().Str("keypair", name).Msg("Searching for keypair")
	keypair, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, err
	}
	if keypair == nil {
		pub, err := local.PublicKey()
		if err != nil {
			return nil, err
		}
		d.Config().Set("public_key", pub)
		d.Logger().Debug().Str("keypair", name).Msg("Importing keypair")
		if keypair, err = d.ControllerCreate(ctx, t); err != nil {
			return nil, fmt.Errorf("error importing keypair '%s': %w", name, err)
		}
	}
	for k, v := range local.Attrs() {
		if err := keypair.SetAttr(k, v); err != nil {
			return nil, err
		}
	}
	return keypair, nil
}

// findImage looks the image up by name. Images cannot be created.
func findImage(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("image_name")
	d.Logger().Info().Str("image", name).Msg("Searching for image")
	image, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, err
	}
	if image == nil {
		return nil, notFound(t, name)
	}
	return image, nil
}

// findFlavor looks the flavor up by name. Flavors cannot be created.
func findFlavor(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("flavor_name")
	d.Logger().Info().Str("flavor", name).Msg("Searching for flavor")
	flavor, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, err
	}
	if flavor == nil {
		return nil, notFound(t, name)
	}
	return flavor, nil
}

// getOrCreateServer reloads the server named server_name, or creates it.
func getOrCreateServer(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("server_name")
	d.Logger().Info().Str("server", name).Msg("Searching for server")

	servers, err := d.ControllerQuery(ctx, t, lorj.Query{"name": name})
	if err != nil {
		return nil, err
	}
	if s := first(servers); s != nil {
		return d.ControllerGet(ctx, t, s.GetString("id"))
	}

	d.Logger().Info().Str("server", name).Msg("Creating server")
	server, err := d.ControllerCreate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("unable to create server '%s': %w", name, err)
	}
	d.Logger().Info().Str("server", name).Str("id", server.GetString("id")).Msg("Server created")
	return server, nil
}

// getOrAssignPublicIP returns the public address of the loaded server,
// assigning one when it has none.
func getOrAssignPublicIP(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("server", "name")
	d.Logger().Info().Str("server", name).Msg("Searching public IP for server")

	addresses, err := d.ControllerQuery(ctx, t, lorj.Query{"server_id": params.GetString("server", "id")})
	if err != nil {
		return nil, err
	}
	if ip := first(addresses); ip != nil {
		return ip, nil
	}

	d.Logger().Info().Str("server", name).Msg("Getting public IP for server")
	ip, err := d.ControllerCreate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("unable to assign a public IP to server '%s': %w", name, err)
	}
	d.Logger().Info().Str("server", name).Str("public_ip", ip.GetString("public_ip")).Msg("Public IP assigned")
	return ip, nil
}
