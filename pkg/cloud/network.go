package cloud

import (
	"context"
	"fmt"

	"github.com/forj-oss/forj/pkg/lorj"
)

// getOrCreateNetwork finds the network by name or creates it, then makes sure
// it has a subnet.
func getOrCreateNetwork(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("network_name")
	d.Logger().Info().Str("network", name).Msg("Searching for network")

	network, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, err
	}
	if network == nil {
		d.Logger().Info().Str("network", name).Msg("Creating network")
		if network, err = d.ControllerCreate(ctx, t); err != nil {
			return nil, fmt.Errorf("unable to create network '%s': %w", name, err)
		}
	}
	d.Register(network)

	if params.GetString("subnetwork_name") == "" {
		d.Config().Set("subnetwork_name", "sub-"+name)
	}
	if _, err := getOrCreateSubnet(ctx, d, network); err != nil {
		return nil, err
	}
	return network, nil
}

func getOrCreateSubnet(ctx context.Context, d *lorj.Dispatcher, network *lorj.Data) (*lorj.Data, error) {
	netName := network.GetString("name")
	d.Logger().Info().Str("network", netName).Msg("Searching for sub-network attached")

	subnets, err := d.ControllerQuery(ctx, Subnetwork, lorj.Query{"network_id": network.GetString("id")})
	if err != nil {
		return nil, err
	}
	var subnet *lorj.Data
	switch subnets.Len() {
	case 0:
		d.Logger().Info().Str("network", netName).Msg("No subnet found")
	case 1:
		subnet = first(subnets)
	default:
		subnet = first(subnets)
		d.Logger().Warn().Str("network", netName).Str("subnet", subnet.GetString("name")).
			Msg("Several subnets found. Choosing the first one")
	}
	if subnet != nil {
		return d.Register(subnet), nil
	}

	name := configString(d, "subnetwork_name")
	d.Logger().Info().Str("subnet", name).Msg("Creating subnet")
	subnet, err = d.Create(ctx, Subnetwork)
	if err != nil {
		return nil, fmt.Errorf("unable to create '%s' subnet: %w", name, err)
	}
	return subnet, nil
}

// getOrCreateRouter finds the router attached to the network through its
// router port, or finds/creates the router by name and attaches the subnet.
func getOrCreateRouter(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	netName := params.GetString("network", "name")
	name := params.GetString("router_name")
	if name == "" {
		name = "router-" + netName
	}

	d.Logger().Info().Str("network", netName).Msg("Searching for router port attached to the network")
	ports, err := d.ControllerQuery(ctx, Port, lorj.Query{
		"network_id":   params.GetString("network", "id"),
		"device_owner": RouterInterfaceOwner,
	})
	if err != nil {
		return nil, err
	}

	if port := first(ports); port != nil {
		routers, err := d.ControllerQuery(ctx, t, lorj.Query{"id": port.GetString("device_id")})
		if err != nil {
			return nil, err
		}
		if routers.Len() != 1 {
			d.Logger().Warn().Str("router_id", port.GetString("device_id")).Msg("Unable to find the router attached to the network")
			return nil, nil
		}
		router := first(routers)
		d.Logger().Info().Str("router", router.GetString("name")).Str("network", netName).Msg("Found router attached to the network")
		return router, nil
	}

	router, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, err
	}
	if router == nil {
		d.Config().Set("router_name", name)
		d.Logger().Info().Str("router", name).Msg("Creating router without external network")
		if router, err = d.ControllerCreate(ctx, t); err != nil {
			return nil, fmt.Errorf("unable to create '%s' router: %w", name, err)
		}
	}

	d.Register(router)
	d.Logger().Info().
		Str("subnet", params.GetString("subnetwork", "name")).
		Str("router", router.GetString("name")).
		Msg("Attaching subnet to router")
	if _, err := d.ControllerCreate(ctx, RouterInterface); err != nil {
		return nil, fmt.Errorf("unable to attach router '%s': %w", router.GetString("name"), err)
	}
	return router, nil
}

// getOrAttachExternalNetwork returns the external network of the router
// gateway, attaching the router to the first external network when it has
// none.
func getOrAttachExternalNetwork(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	router, ok := d.Object(Router)
	if !ok {
		return nil, lorj.NewPermanentError("router is not loaded", nil).WithObject(t)
	}
	routerName := router.GetString("name")

	if gw := router.GetString("gateway_network_id"); gw != "" {
		d.Logger().Info().Str("router", routerName).Msg("Router attached to an external gateway")
		return findFirst(ctx, d, t, lorj.Query{"id": gw, "external": true}, gw)
	}

	d.Logger().Info().Str("router", routerName).Msg("Router needs to be attached to an external gateway. Attaching")
	ext, err := findFirst(ctx, d, t, lorj.Query{"external": true}, "external")
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, lorj.NewPermanentError(
			fmt.Sprintf("unable to attach router '%s' to an external gateway. Required for boxes to get internet access", routerName), nil).
			WithObject(t)
	}
	if err := router.SetAttr("gateway_network_id", ext.GetString("id")); err != nil {
		return nil, err
	}
	if _, err := d.Update(ctx, Router); err != nil {
		return nil, err
	}
	d.Logger().Info().Str("router", routerName).Str("network", ext.GetString("name")).Msg("Router attached to the external network")
	return ext, nil
}
