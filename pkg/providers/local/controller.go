// Package local implements a simulated cloud provider. Resources are kept in
// the forj sqlite store; servers walk through a scripted boot with a
// synthetic cloud-init console log.
package local

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/keypath"
	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/providers"
	"github.com/forj-oss/forj/pkg/stores"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Name is the provider name.
const Name = "local"

// Stored resource kinds.
const (
	kindNetwork       = "network"
	kindSubnet        = "subnetwork"
	kindPort          = "port"
	kindRouter        = "router"
	kindSecurityGroup = "security_group"
	kindRule          = "rule"
	kindKeypair       = "keypair"
	kindImage         = "image"
	kindFlavor        = "flavor"
	kindServer        = "server"
	kindPublicIP      = "public_ip"
)

// Server states.
const (
	StateBuild  = "BUILD"
	StateActive = "ACTIVE"
	StateError  = "ERROR"
)

// DefaultImage is seeded with the images and matches the default image name.
const DefaultImage = "Ubuntu Precise 12.04.4 LTS Server 64-bit 20140414 (Rescue Image)"

// DefaultBootLog is the console output of a successful boot.
var DefaultBootLog = []string{
	"Cloud-init v. 0.7.5 running 'init-local'. Up 2.10 seconds.",
	"Cloud-init v. 0.7.5 running 'init'. Up 3.02 seconds.",
	"ci-info: ++++++++++++++++++++++Net device info++++++++++++++++++++++",
	"ci-info: |  eth0  | True |  10.0.0.2 | 255.255.255.0 | fa:16:3e:00:00:01 |",
	"Cloud-init v. 0.7.5 running 'modules:config'. Up 12.40 seconds.",
	"Cloud-init v. 0.7.5 running 'modules:final'. Up 13.00 seconds.",
	"[INFO] Installing maestro from the bootstrap repositories",
	"[INFO] Running puppet on the maestro",
	"[INFO] Maestro UI is started",
	"Cloud-init v. 0.7.5 finished. Datasource DataSourceOpenStack. Up 420.00 seconds",
	"cloud-init boot finished",
}

// Scenario scripts the boot of one server creation.
type Scenario struct {
	// Log replaces the console output. One more line shows up on every log
	// read.
	Log []string
	// Error puts the server in error once booted.
	Error bool
}

// Image is a seeded image.
type Image struct {
	Name    string
	SSHUser string
}

// Options configures the controller.
type Options struct {
	Account string
	Store   stores.Store
	Logger  zerolog.Logger
	// BootPolls is the number of server reads a server stays in BUILD.
	BootPolls int
	// Images are seeded on the first compute connection.
	Images []Image
	// Scenarios scripts successive creations of a server, by server name.
	Scenarios map[string][]Scenario
}

// Connection is the handle returned by Connect.
type Connection struct {
	Type    lorj.ObjectType
	Account string
	Tenant  string
	Region  string
	// Catalog lists the regions of each service. Only set on services.
	Catalog map[string][]string
}

// Regions are the regions every local service is offered in.
var Regions = []string{"local-1", "local-2"}

// Controller is the local provider controller.
type Controller struct {
	opts   Options
	store  stores.Store
	logger zerolog.Logger

	mu       sync.Mutex
	seeded   map[string]bool
	attempts map[string]int
}

var _ lorj.Controller = (*Controller)(nil)

// Manifest returns the provider mappings.
func Manifest() *providers.Manifest {
	m, err := providers.ParseManifest(manifestYAML)
	if err != nil {
		panic(fmt.Sprintf("local provider manifest: %v", err))
	}
	return m
}

// Factory builds a controller for the provider registry.
func Factory(_ context.Context, opts providers.Options) (lorj.Controller, error) {
	return New(Options{Account: opts.Account, Store: opts.Store, Logger: opts.Logger})
}

// New creates a local controller.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("local provider requires a store")
	}
	if opts.BootPolls <= 0 {
		opts.BootPolls = 3
	}
	if len(opts.Images) == 0 {
		opts.Images = []Image{
			{Name: DefaultImage, SSHUser: "ubuntu"},
			{Name: "Ubuntu Server 14.04.1 LTS (amd64 20140927) - Partner Image", SSHUser: "ubuntu"},
			{Name: "CentOS 6.5 Server 64-bit 20140314", SSHUser: "root"},
		}
	}
	return &Controller{
		opts:     opts,
		store:    opts.Store,
		logger:   opts.Logger.With().Str("provider", Name).Logger(),
		seeded:   make(map[string]bool),
		attempts: make(map[string]int),
	}, nil
}

func kindOf(t lorj.ObjectType) (string, error) {
	switch t {
	case cloud.Network, cloud.ExternalNetwork:
		return kindNetwork, nil
	case cloud.Subnetwork:
		return kindSubnet, nil
	case cloud.Port, cloud.RouterInterface:
		return kindPort, nil
	case cloud.Router:
		return kindRouter, nil
	case cloud.SecurityGroups:
		return kindSecurityGroup, nil
	case cloud.Rule:
		return kindRule, nil
	case cloud.Keypairs:
		return kindKeypair, nil
	case cloud.Image:
		return kindImage, nil
	case cloud.Flavor:
		return kindFlavor, nil
	case cloud.Server:
		return kindServer, nil
	case cloud.PublicIP:
		return kindPublicIP, nil
	}
	return "", lorj.NewPermanentError(fmt.Sprintf("'%s' is not supported by the local provider", t), nil).
		WithCode(lorj.ErrCodeNotImplemented).WithObject(t)
}

// Connect returns a connection handle and seeds the catalog of the account.
func (c *Controller) Connect(ctx context.Context, t lorj.ObjectType, params *lorj.ObjectData) (any, error) {
	hdata := params.HData()
	conn := &Connection{
		Type:    t,
		Account: c.opts.Account,
		Tenant:  params.GetString("tenant"),
		Region:  fmt.Sprint(valueOr(hdata["region"], Regions[0])),
	}
	if t == cloud.Services {
		conn.Catalog = map[string][]string{"compute": Regions, "network": Regions}
	}
	if err := c.seed(ctx, t); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("object", string(t)).Str("region", conn.Region).Msg("Connected")
	return conn, nil
}

func (c *Controller) seed(ctx context.Context, t lorj.ObjectType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seeded[string(t)] {
		return nil
	}

	var objs []*stores.CloudObject
	switch t {
	case cloud.ComputeConnection:
		for _, f := range cloud.Flavors {
			objs = append(objs, &stores.CloudObject{
				ID: "flavor-" + f.Name, Kind: kindFlavor, Name: f.Name,
				Attrs: map[string]any{"description": f.Desc},
			})
		}
		for i, img := range c.opts.Images {
			objs = append(objs, &stores.CloudObject{
				ID: fmt.Sprintf("image-%d", i+1), Kind: kindImage, Name: img.Name,
				Attrs: map[string]any{"ssh_user": img.SSHUser},
			})
		}
	case cloud.NetworkConnection:
		objs = append(objs, &stores.CloudObject{
			ID: "ext-net", Kind: kindNetwork, Name: "Ext-Net",
			Attrs: map[string]any{"router_external": true},
		})
	}
	for _, o := range objs {
		o.Account = c.opts.Account
		if _, err := c.store.GetObject(ctx, o.Kind, o.ID); err == nil {
			continue
		} else if !errors.Is(err, stores.ErrNotFound) {
			return err
		}
		if err := c.store.PutObject(ctx, o); err != nil {
			return err
		}
	}
	c.seeded[string(t)] = true
	return nil
}

// Create creates a resource from the controller parameters.
func (c *Controller) Create(ctx context.Context, t lorj.ObjectType, params *lorj.ObjectData) (any, error) {
	kind, err := kindOf(t)
	if err != nil {
		return nil, err
	}
	hdata := params.HData()
	obj := &stores.CloudObject{
		ID:      uuid.NewString(),
		Kind:    kind,
		Account: c.opts.Account,
		Attrs:   map[string]any{},
	}

	switch t {
	case cloud.Network:
		obj.Name = params.GetString("network_name")
		obj.Attrs["router_external"] = false
	case cloud.Subnetwork:
		obj.Name = params.GetString("subnetwork_name")
		obj.Attrs["network_id"] = params.GetString("network_id")
		obj.Attrs["cidr"] = "10.0.0.0/24"
	case cloud.Router:
		obj.Name = fmt.Sprint(valueOr(hdata["name"], "router"))
		gw := ""
		if info, ok := hdata["external_gateway_info"].(map[string]any); ok && info["network_id"] != nil {
			gw = fmt.Sprint(info["network_id"])
		}
		obj.Attrs["external_gateway_info"] = map[string]any{"network_id": gw}
	case cloud.RouterInterface:
		obj.Name = "router-interface"
		obj.Attrs["network_id"] = params.GetString("subnetwork", "network_id")
		obj.Attrs["device_id"] = params.GetString("router_id")
		obj.Attrs["device_owner"] = cloud.RouterInterfaceOwner
		obj.Attrs["subnet_id"] = params.GetString("subnet_id")
	case cloud.SecurityGroups:
		obj.Name = params.GetString("security_group")
		obj.Attrs["description"] = params.GetString("sg_desc")
	case cloud.Rule:
		for _, k := range []string{"direction", "protocol", "port_range_min", "port_range_max", "remote_ip_prefix", "security_group_id"} {
			obj.Attrs[k] = hdata[k]
		}
	case cloud.Keypairs:
		obj.Name = params.GetString("keypair_name")
		obj.Attrs["public_key"] = params.GetString("public_key")
	case cloud.Server:
		if err := c.createServer(ctx, obj, params); err != nil {
			return nil, err
		}
	case cloud.PublicIP:
		return c.assignAddress(ctx, obj, params)
	default:
		return nil, lorj.NotImplementedError("create " + string(t))
	}

	if err := c.store.PutObject(ctx, obj); err != nil {
		return nil, err
	}
	c.logger.Info().Str("object", string(t)).Str("id", obj.ID).Str("name", obj.Name).Msg("Created")
	return obj, nil
}

func (c *Controller) createServer(ctx context.Context, obj *stores.CloudObject, params *lorj.ObjectData) error {
	obj.Name = params.GetString("server_name")

	servers, err := c.store.ListObjects(ctx, stores.ObjectFilter{Account: c.opts.Account, Kind: kindServer})
	if err != nil {
		return err
	}

	c.mu.Lock()
	attempt := c.attempts[obj.Name]
	c.attempts[obj.Name] = attempt + 1
	c.mu.Unlock()

	scenario := Scenario{Log: DefaultBootLog}
	if s := c.opts.Scenarios[obj.Name]; attempt < len(s) {
		scenario = s[attempt]
		if scenario.Log == nil {
			scenario.Log = DefaultBootLog
		}
	}

	meta, _ := params.Get("meta_data")
	if meta == nil {
		meta = map[string]any{}
	}
	obj.Attrs = map[string]any{
		"state":              StateBuild,
		"flavor_id":          params.GetString("flavor", "id"),
		"image_id":           params.GetString("image", "id"),
		"key_name":           params.GetString("keypairs", "name"),
		"network_id":         params.GetString("network", "id"),
		"security_groups":    []any{params.GetString("security_groups", "name")},
		"private_ip_address": fmt.Sprintf("10.0.0.%d", len(servers)+2),
		"public_ip_address":  "",
		"meta_data":          meta,
		"user_data":          params.GetString("user_data"),
		"polls":              0,
		"log":                toAnyList(scenario.Log),
		"log_pos":            0,
		"fail":               scenario.Error,
	}
	return nil
}

func (c *Controller) assignAddress(ctx context.Context, obj *stores.CloudObject, params *lorj.ObjectData) (any, error) {
	server, ok := rawObject(params, cloud.Server)
	if !ok {
		return nil, lorj.NewPermanentError("no server to assign an address to", nil).WithObject(cloud.PublicIP)
	}
	ips, err := c.store.ListObjects(ctx, stores.ObjectFilter{Account: c.opts.Account, Kind: kindPublicIP})
	if err != nil {
		return nil, err
	}
	ip := fmt.Sprintf("15.126.0.%d", len(ips)+10)
	obj.Name = ip
	obj.Attrs["instance_id"] = server.ID
	obj.Attrs["ip"] = ip
	if err := c.store.PutObject(ctx, obj); err != nil {
		return nil, err
	}

	// The server lists its public address once assigned.
	stored, err := c.store.GetObject(ctx, kindServer, server.ID)
	if err != nil {
		return nil, err
	}
	stored.Attrs["public_ip_address"] = ip
	if err := c.store.PutObject(ctx, stored); err != nil {
		return nil, err
	}
	c.logger.Info().Str("server", server.Name).Str("ip", ip).Msg("Public IP assigned")
	return obj, nil
}

// Get reads a resource. Reading a server advances its boot, reading a
// server_log reveals one more console line.
func (c *Controller) Get(ctx context.Context, t lorj.ObjectType, id string, params *lorj.ObjectData) (any, error) {
	if t == cloud.ServerLog {
		return c.consoleLog(ctx, id, params)
	}
	kind, err := kindOf(t)
	if err != nil {
		return nil, err
	}
	obj, err := c.store.GetObject(ctx, kind, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if kind == kindServer {
		if err := c.tick(ctx, obj); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (c *Controller) tick(ctx context.Context, server *stores.CloudObject) error {
	polls := toInt(server.Attrs["polls"]) + 1
	server.Attrs["polls"] = polls
	if server.Attrs["state"] == StateBuild && polls >= c.opts.BootPolls {
		server.Attrs["state"] = StateActive
		if fail, _ := server.Attrs["fail"].(bool); fail {
			server.Attrs["state"] = StateError
		}
		c.logger.Debug().Str("server", server.Name).Str("state", fmt.Sprint(server.Attrs["state"])).Msg("Server booted")
	}
	return c.store.PutObject(ctx, server)
}

func (c *Controller) consoleLog(ctx context.Context, id string, params *lorj.ObjectData) (any, error) {
	server, err := c.store.GetObject(ctx, kindServer, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := toStrings(server.Attrs["log"])
	pos := toInt(server.Attrs["log_pos"])
	if server.Attrs["state"] != StateBuild && pos < len(lines) {
		pos++
		server.Attrs["log_pos"] = pos
		if err := c.store.PutObject(ctx, server); err != nil {
			return nil, err
		}
	}

	n := 5
	if v, ok := params.Get("log_lines"); ok {
		if i := toInt(v); i > 0 {
			n = i
		}
	}
	shown := lines[:pos]
	if len(shown) > n {
		shown = shown[len(shown)-n:]
	}
	output := ""
	if len(shown) > 0 {
		output = strings.Join(shown, "\n") + "\n"
	}
	return &stores.CloudObject{ID: id, Kind: "server_log", Attrs: map[string]any{"output": output}}, nil
}

// Query lists the resources of the account matching every field of q. A
// *regexp.Regexp value matches by pattern.
func (c *Controller) Query(ctx context.Context, t lorj.ObjectType, q lorj.Query, _ *lorj.ObjectData) ([]any, error) {
	kind, err := kindOf(t)
	if err != nil {
		return nil, err
	}
	objs, err := c.store.ListObjects(ctx, stores.ObjectFilter{Account: c.opts.Account, Kind: kind})
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, obj := range objs {
		if matches(obj, q) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func matches(obj *stores.CloudObject, q lorj.Query) bool {
	for field, want := range q {
		got, ok := attrAt(obj, keypath.Parse(field).Names())
		if !ok {
			return false
		}
		switch w := want.(type) {
		case *regexp.Regexp:
			if !w.MatchString(fmt.Sprint(got)) {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

// Update pushes the process changes of a router or a server back to the
// store.
func (c *Controller) Update(ctx context.Context, t lorj.ObjectType, params *lorj.ObjectData) (any, error) {
	data, ok := params.Data(t)
	if !ok {
		return nil, lorj.NewPermanentError("nothing to update", nil).WithObject(t)
	}
	obj, ok := data.Raw().(*stores.CloudObject)
	if !ok {
		return nil, lorj.NewPermanentError(fmt.Sprintf("unexpected handle %T", data.Raw()), nil).WithObject(t)
	}
	switch t {
	case cloud.Router:
		obj.Attrs["external_gateway_info"] = map[string]any{"network_id": data.GetString("gateway_network_id")}
	case cloud.Server:
		if name := data.GetString("name"); name != "" {
			obj.Name = name
		}
	default:
		return nil, lorj.NotImplementedError("update " + string(t))
	}
	if err := c.store.PutObject(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Delete removes the loaded resource. Deleting a server releases its public
// addresses.
func (c *Controller) Delete(ctx context.Context, t lorj.ObjectType, params *lorj.ObjectData) (bool, error) {
	obj, ok := rawObject(params, t)
	if !ok {
		return false, lorj.NewPermanentError("nothing to delete", nil).WithObject(t)
	}
	if t == cloud.Server {
		ips, err := c.store.ListObjects(ctx, stores.ObjectFilter{Account: c.opts.Account, Kind: kindPublicIP})
		if err != nil {
			return false, err
		}
		for _, ip := range ips {
			if ip.Attrs["instance_id"] == obj.ID {
				if _, err := c.store.DeleteObject(ctx, kindPublicIP, ip.ID); err != nil {
					return false, err
				}
			}
		}
	}
	deleted, err := c.store.DeleteObject(ctx, obj.Kind, obj.ID)
	if err != nil {
		return false, err
	}
	c.logger.Info().Str("object", string(t)).Str("id", obj.ID).Bool("deleted", deleted).Msg("Deleted")
	return deleted, nil
}

// GetAttr reads id, name or an attribute path of a handle.
func (c *Controller) GetAttr(raw any, path keypath.KeyPath) (any, error) {
	switch h := raw.(type) {
	case *stores.CloudObject:
		v, _ := attrAt(h, path.Names())
		return v, nil
	case *Connection:
		if names := path.Names(); len(names) == 2 && names[0] == "catalog" {
			return h.Catalog[names[1]], nil
		}
		switch path.Key() {
		case "account":
			return h.Account, nil
		case "tenant":
			return h.Tenant, nil
		case "region":
			return h.Region, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected handle %T", raw)
}

// SetAttr writes an attribute path of a handle.
func (c *Controller) SetAttr(raw any, path keypath.KeyPath, value any) error {
	obj, ok := raw.(*stores.CloudObject)
	if !ok {
		return fmt.Errorf("unexpected handle %T", raw)
	}
	names := path.Names()
	switch {
	case len(names) == 0:
		return fmt.Errorf("empty attribute path")
	case len(names) == 1 && names[0] == "name":
		obj.Name = fmt.Sprint(value)
		return nil
	case len(names) == 1 && names[0] == "id":
		return fmt.Errorf("id is read only")
	}
	if obj.Attrs == nil {
		obj.Attrs = map[string]any{}
	}
	cur := obj.Attrs
	for _, n := range names[:len(names)-1] {
		next, ok := cur[n].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[n] = next
		}
		cur = next
	}
	cur[names[len(names)-1]] = value
	return nil
}

func attrAt(obj *stores.CloudObject, names []string) (any, bool) {
	if len(names) == 0 {
		return nil, false
	}
	switch names[0] {
	case "id":
		return obj.ID, true
	case "name":
		return obj.Name, true
	}
	var cur any = obj.Attrs
	for _, n := range names {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[n]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func rawObject(params *lorj.ObjectData, t lorj.ObjectType) (*stores.CloudObject, bool) {
	data, ok := params.Data(t)
	if !ok {
		return nil, false
	}
	obj, ok := data.Raw().(*stores.CloudObject)
	return obj, ok
}

func valueOr(v, def any) any {
	if v == nil || v == "" {
		return def
	}
	return v
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func toAnyList(lines []string) []any {
	out := make([]any, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}

func toStrings(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, s := range l {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	return nil
}
