package cloud

import (
	"github.com/forj-oss/forj/pkg/lorj"
)

// Process declares the cloud object graph.
type Process struct{}

var _ lorj.Process = Process{}

// Name implements lorj.Process.
func (Process) Name() string { return "cloud" }

// Declare implements lorj.Process. Types are declared in dependency order so
// every needed object exists when referenced.
func (Process) Declare(r *lorj.Registry) error {
	declarations := []func(*lorj.Registry) error{
		declareConnections,
		declareNetwork,
		declareSecurity,
		declareCompute,
		declareInternet,
	}
	for _, declare := range declarations {
		if err := declare(r); err != nil {
			return err
		}
	}
	return nil
}

func declareConnections(r *lorj.Registry) error {
	for _, c := range []struct {
		t       lorj.ObjectType
		service string
	}{
		{Services, ""},
		{ComputeConnection, "compute"},
		{NetworkConnection, "network"},
	} {
		b, err := r.Define(c.t, lorj.Handlers{Create: connect})
		if err != nil {
			return err
		}
		b.NeedData("auth_uri").
			NeedData("account_id").
			NeedData("account_key").
			NeedData("tenant")
		if c.service != "" {
			b.NeedData(c.service)
		}
		b.UndefineAttribute("id").UndefineAttribute("name")
		if err := b.Close(); err != nil {
			return err
		}
		if c.service == "" {
			continue
		}
		err = r.DefineData(c.service, lorj.DataMeta{ListFrom: &lorj.ListSource{
			Object: Services,
			Values: catalogRegions(c.service),
		}})
		if err != nil {
			return err
		}
	}
	return nil
}

func declareNetwork(r *lorj.Registry) error {
	b, err := r.Define(Network, lorj.Handlers{
		Create: getOrCreateNetwork,
		Query:  controllerQuery,
		Get:    controllerGet,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedData("network_name").
		Optional().
		NeedData("subnetwork_name").
		QueryMapping("external", "external").
		Attribute("external")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Subnetwork, lorj.Handlers{
		Create: controllerCreate,
		Query:  controllerQuery,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedObject(Network).
		NeedData("subnetwork_name").
		NeedData("network_id", lorj.ExtractFrom("network/id")).
		QueryMapping("network_id", "network_id").
		Attribute("network_id")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Stub(Port)
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		Attribute("device_id").
		QueryMapping("network_id", "network_id").
		QueryMapping("device_owner", "device_owner")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Router, lorj.Handlers{
		Create: getOrCreateRouter,
		Query:  controllerQuery,
		Update: controllerUpdate,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedObject(Network, lorj.For(lorj.VerbCreate)).
		NeedObject(Subnetwork, lorj.For(lorj.VerbCreate)).
		Optional().
		NeedData("router_name").
		NeedData("external_gateway_id").
		Attribute("gateway_network_id")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Stub(RouterInterface)
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedObject(Router, lorj.For(lorj.VerbCreate)).
		NeedObject(Subnetwork, lorj.For(lorj.VerbCreate)).
		NeedData("router_id", lorj.ExtractFrom("router/id")).
		NeedData("subnet_id", lorj.ExtractFrom("subnetwork/id")).
		UndefineAttribute("name").
		UndefineAttribute("id")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(ExternalNetwork, lorj.Handlers{Create: getOrAttachExternalNetwork})
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedObject(Router).
		QueryMapping("external", "external")
	return b.Close()
}

func declareSecurity(r *lorj.Registry) error {
	b, err := r.Define(SecurityGroups, lorj.Handlers{
		Create: getOrCreateSecurityGroup,
		Query:  controllerQuery,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(NetworkConnection).
		NeedData("security_group").
		Optional().
		NeedData("sg_desc", lorj.Default("Security group created by forj"))
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Rule, lorj.Handlers{
		Create: getOrCreateRule,
		Query:  controllerQuery,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.UndefineAttribute("name").
		NeedObject(NetworkConnection).
		NeedObject(SecurityGroups, lorj.For(lorj.VerbCreate)).
		NeedData("sg_id", lorj.ExtractFrom("security_groups/id")).
		NeedData("dir").
		NeedData("proto").
		NeedData("port_min").
		NeedData("port_max").
		NeedData("addr_map")
	for _, k := range []string{"dir", "proto", "port_min", "port_max", "addr_map", "sg_id"} {
		b.QueryMapping(k, k).Attribute(k)
	}
	return b.Close()
}

func declareCompute(r *lorj.Registry) error {
	b, err := r.Define(Keypairs, lorj.Handlers{
		Create: getOrCreateKeypair,
		Query:  controllerQuery,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(ComputeConnection).
		NeedData("keypair_name").
		NeedData("keypair_path").
		Optional().
		NeedData("public_key").
		Attribute("public_key")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Image, lorj.Handlers{
		Create: findImage,
		Query:  controllerQuery,
		Get:    controllerGet,
	})
	if err != nil {
		return err
	}
	b.NeedObject(ComputeConnection).
		NeedData("image_name").
		Optional().
		NeedData("image_id").
		Attribute("ssh_user")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Flavor, lorj.Handlers{
		Create: findFlavor,
		Query:  controllerQuery,
		Get:    controllerGet,
	})
	if err != nil {
		return err
	}
	b.NeedObject(ComputeConnection).
		NeedData("flavor_name")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Server, lorj.Handlers{
		Create: getOrCreateServer,
		Query:  controllerQuery,
		Get:    controllerGet,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.NeedObject(ComputeConnection).
		NeedObject(Flavor, lorj.For(lorj.VerbCreate)).
		NeedObject(Network, lorj.For(lorj.VerbCreate)).
		NeedObject(SecurityGroups, lorj.For(lorj.VerbCreate)).
		NeedObject(Keypairs, lorj.For(lorj.VerbCreate)).
		NeedObject(Image, lorj.For(lorj.VerbCreate)).
		NeedData("server_name").
		Optional().
		NeedData("user_data").
		NeedData("meta_data").
		Attribute("status").
		Attribute("private_ip_address").
		Attribute("public_ip_address").
		Attribute("image_id").
		Attribute("key_name").
		Attribute("meta_data")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(PublicIP, lorj.Handlers{
		Create: getOrAssignPublicIP,
		Query:  controllerQuery,
		Get:    controllerGet,
		Delete: controllerDelete,
	})
	if err != nil {
		return err
	}
	b.UndefineAttribute("name").
		NeedObject(ComputeConnection).
		NeedObject(Server).
		QueryMapping("server_id", "server_id").
		Attribute("server_id").
		Attribute("public_ip")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(ServerLog, lorj.Handlers{Get: controllerGet})
	if err != nil {
		return err
	}
	b.NeedObject(Server).
		NeedData("log_lines", lorj.For(lorj.VerbGet), lorj.Default(5)).
		UndefineAttribute("name").
		UndefineAttribute("id").
		Attribute("output")
	return b.Close()
}

// declareInternet declares the types only used to describe what a server
// needs to reach internet. They have no handler.
func declareInternet(r *lorj.Registry) error {
	b, err := r.Stub(InternetNetwork)
	if err != nil {
		return err
	}
	b.NeedObject(ExternalNetwork)
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Stub(InternetServer)
	if err != nil {
		return err
	}
	b.NeedObject(InternetNetwork).
		NeedObject(Server).
		NeedObject(PublicIP)
	return b.Close()
}
