package forge

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/policy"
)

// Options configures the forge process.
type Options struct {
	// DataDir receives the maestro clone, the forj directory when empty.
	DataDir string

	Run    CommandRunner
	Dial   Dialer
	Hook   *MetadataHook
	Policy *policy.Engine

	// Boot is the template of the boot loop options. Account, forge,
	// credentials and watchers are filled for every boot.
	Boot BootOptions

	// Stdin, Stdout and Stderr are bound to the ssh session. No session is
	// opened when Stdin is nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger zerolog.Logger
}

// Process declares the forge objects on top of the cloud graph.
type Process struct {
	opts Options
}

var _ lorj.Process = (*Process)(nil)

// NewProcess returns a forge process. The cloud process must be declared
// before it.
func NewProcess(opts Options) *Process {
	if opts.Run == nil {
		opts.Run = ExecRunner(opts.Logger)
	}
	if opts.Dial == nil {
		opts.Dial = SSHDialer(opts.Logger)
	}
	if opts.DataDir == "" {
		if dir, err := config.DefaultDir(); err == nil {
			opts.DataDir = dir
		}
	}
	return &Process{opts: opts}
}

// Name implements lorj.Process.
func (p *Process) Name() string { return "forge" }

// Declare implements lorj.Process.
func (p *Process) Declare(r *lorj.Registry) error {
	declarations := []func(*lorj.Registry) error{
		p.declareRepositories,
		p.declareBootData,
		p.declareForge,
	}
	for _, declare := range declarations {
		if err := declare(r); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) declareRepositories(r *lorj.Registry) error {
	b, err := r.Define(MaestroRepository, lorj.Handlers{Create: p.cloneOrUseMaestro})
	if err != nil {
		return err
	}
	b.NeedData("maestro_url").
		Optional().
		NeedData("maestro_repo").
		UndefineAttribute("id").
		UndefineAttribute("name")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(InfraRepository, lorj.Handlers{Create: p.createOrUseInfra})
	if err != nil {
		return err
	}
	b.NeedObject(MaestroRepository).
		NeedData("infra_repo").
		NeedData("branch").
		UndefineAttribute("id").
		UndefineAttribute("name")
	return b.Close()
}

func (p *Process) declareBootData(r *lorj.Registry) error {
	b, err := r.Define(LorjAccount, lorj.Handlers{Create: p.exportLorjAccount})
	if err != nil {
		return err
	}
	b.Optional().
		NeedData("lorj_disabled").
		UndefineAttribute("id").
		UndefineAttribute("name")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Metadata, lorj.Handlers{Create: p.buildMetadata})
	if err != nil {
		return err
	}
	for _, k := range []string{"instance_name", "network_name", "security_group", "keypair_name",
		"image_name", "bp_flavor", "compute", "branch", "server_name"} {
		b.NeedData(k)
	}
	b.NeedObject(LorjAccount).Optional()
	for _, k := range []string{"domain_name", "tenant_name", "webproxy", "dns_service", "dns_tenant_id",
		"auth_uri", "ca_root_cert", "blueprint", "bootstrap", "repos", "extra_metadata",
		"test_box", "test_box_path"} {
		b.NeedData(k)
	}
	b.UndefineAttribute("id").UndefineAttribute("name")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(Userdata, lorj.Handlers{Create: p.buildUserdata})
	if err != nil {
		return err
	}
	b.NeedObject(MaestroRepository).
		NeedObject(Metadata).
		NeedObject(InfraRepository).
		Optional().
		NeedData("bootstrap_dirs").
		UndefineAttribute("id").
		UndefineAttribute("name")
	return b.Close()
}

func (p *Process) declareForge(r *lorj.Registry) error {
	b, err := r.Define(Forge, lorj.Handlers{
		Create: p.buildForge,
		Get:    p.getForge,
		Delete: p.deleteForge,
	})
	if err != nil {
		return err
	}
	b.NeedObject(cloud.ComputeConnection).
		NeedObject(Metadata, lorj.For(lorj.VerbCreate)).
		NeedObject(Userdata, lorj.For(lorj.VerbCreate)).
		NeedObject(LorjAccount, lorj.For(lorj.VerbCreate)).
		NeedData("instance_name").
		NeedData("image_name").
		NeedData("flavor_name").
		NeedData("network_name").
		NeedData("security_group").
		NeedData("ports").
		Optional().
		NeedData("blueprint").
		NeedData("forge_server", lorj.For(lorj.VerbDelete)).
		Attribute("servers")
	if err := b.Close(); err != nil {
		return err
	}

	b, err = r.Define(SSH, lorj.Handlers{Create: p.openSSH})
	if err != nil {
		return err
	}
	b.Optional().
		NeedObject(Forge).
		NeedData("box").
		NeedData("ssh_user").
		NeedData("identity").
		UndefineAttribute("id").
		UndefineAttribute("name")
	return b.Close()
}

func configString(d *lorj.Dispatcher, key string) string {
	v, ok := d.Config().Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Boot creates the forge name, or follows the boot of its existing
// maestro, until the build is over.
func Boot(ctx context.Context, d *lorj.Dispatcher, name string) (*lorj.Data, error) {
	d.Config().Set("instance_name", name)
	d.Config().Set("server_name", ServerName(MaestroType, name))
	return d.Create(ctx, Forge)
}

// Get loads the forge name. It returns nil when no server belongs to it.
func Get(ctx context.Context, d *lorj.Dispatcher, name string) (*lorj.Data, error) {
	d.Config().Set("instance_name", name)
	return d.Get(ctx, Forge, name)
}

// Destroy removes the servers of forge name. With serverID set, only that
// server is removed. It reports whether every targeted server is gone.
func Destroy(ctx context.Context, d *lorj.Dispatcher, name, serverID string) (bool, error) {
	forge, err := Get(ctx, d, name)
	if err != nil {
		return false, err
	}
	if forge == nil {
		return false, lorj.NewPermanentError(fmt.Sprintf("forge '%s' not found", name), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(Forge).WithOperation(string(lorj.VerbDelete))
	}
	if serverID != "" {
		d.Config().Set("forge_server", serverID)
	}
	return d.Delete(ctx, Forge)
}

// OpenSSH opens a session on the box server of forge name, the maestro when
// box is empty.
func OpenSSH(ctx context.Context, d *lorj.Dispatcher, name, box string) (*lorj.Data, error) {
	forge, err := Get(ctx, d, name)
	if err != nil {
		return nil, err
	}
	if forge == nil {
		return nil, lorj.NewPermanentError(fmt.Sprintf("forge '%s' not found", name), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(Forge)
	}
	if box != "" {
		d.Config().Set("box", box)
	}
	return d.Create(ctx, SSH)
}

// buildForge is the create handler of the forge: the maestro server is
// created when missing, then followed until its build is over.
func (p *Process) buildForge(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("instance_name")
	if err := p.gate(ctx, d, name); err != nil {
		return nil, err
	}

	existing, err := p.getForge(ctx, d, t, name, params)
	if err != nil {
		return nil, err
	}
	var maestro *lorj.Data
	if existing != nil {
		if v, ok := existing.Get("servers", MaestroType); ok {
			maestro, _ = v.(*lorj.Data)
		}
	}

	serverName := ServerName(MaestroType, name)
	if maestro == nil {
		d.Logger().Info().Str("forge", name).Str("server", serverName).Msg("Building the maestro")
		if _, err := d.Create(ctx, cloud.ExternalNetwork); err != nil {
			return nil, err
		}
		d.Config().Set("server_name", serverName)
		if maestro, err = d.Create(ctx, cloud.Server); err != nil {
			return nil, err
		}
	} else {
		d.Logger().Info().Str("forge", name).Str("server", serverName).Msg("Maestro found. Following its boot")
		d.Register(maestro)
	}
	server := ServerFromData(maestro)

	key, err := resolveBootKey(ctx, d, server)
	if err != nil {
		return nil, err
	}
	user, err := sshUser(ctx, d, server)
	if err != nil {
		return nil, err
	}
	d.Config().Set("log_lines", 5)

	box := &boxAccess{dial: p.opts.Dial, user: user, keyFile: key.PrivateKeyFile()}
	opts := p.opts.Boot
	opts.Forge = name
	opts.SSHUser = user
	opts.KeyFile = key.PrivateKeyFile()
	opts.Logger = *d.Logger()
	if a, ok := d.Config().(accountNamer); ok {
		opts.Account = a.AccountName()
	}
	opts.Watchers = append([]LogWatcher{
		caRootWatcher(d, box),
		lorjWatcher(d, box, key.Coherent),
		testBoxWatcher(d, p.opts.Run, user),
	}, opts.Watchers...)

	result, err := NewBooter(NewDispatcherCloud(d), opts).TillServerActive(ctx, server)
	if err != nil {
		return nil, err
	}

	final := maestro
	if loaded, ok := d.Object(cloud.Server); ok {
		final = loaded
	}
	if result.Server != nil && result.Server.PublicIP != "" {
		d.Logger().Info().Str("forge", name).Str("ip", result.Server.PublicIP).
			Msgf("Maestro is up. 'forj ssh %s' to connect to it", name)
	}

	return lorj.NewAttrs(t, map[string]any{
		"name":    name,
		"servers": map[string]any{MaestroType: final},
		"run_id":  result.RunID,
		"status":  string(result.Status),
		"rebuilt": result.Rebuilt,
		"polls":   result.Polls,
	}), nil
}

// getForge lists the servers named "<type>.<forge>". They are keyed by
// type. nil means the forge has no server.
func (p *Process) getForge(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, name string, _ *lorj.ObjectData) (*lorj.Data, error) {
	d.QueryCacheCleanup(cloud.Server)
	suffix := "." + name
	list, err := d.Query(ctx, cloud.Server, lorj.Query{"name": regexp.MustCompile(regexp.QuoteMeta(suffix) + "$")})
	if err != nil {
		return nil, err
	}
	if list == nil || list.Len() == 0 {
		d.Logger().Debug().Str("forge", name).Msg("No server found for this forge")
		return nil, nil
	}

	servers := make(map[string]any, list.Len())
	for _, item := range list.Items() {
		servers[strings.TrimSuffix(item.GetString("name"), suffix)] = item
	}
	d.Logger().Debug().Str("forge", name).Int("servers", len(servers)).Msg("Forge loaded")
	return lorj.NewAttrs(t, map[string]any{
		"id":      name,
		"name":    name,
		"servers": servers,
	}), nil
}

// deleteForge removes the servers of the loaded forge, or only the one
// given by forge_server.
func (p *Process) deleteForge(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (bool, error) {
	forge, ok := params.Data(t)
	if !ok {
		return false, lorj.NewPermanentError("no forge loaded", nil).WithCode(lorj.ErrCodeNotFound).WithObject(t)
	}
	only := params.GetString("forge_server")
	v, _ := forge.Get("servers")
	servers, _ := v.(map[string]any)

	all := true
	found := false
	for kind, s := range servers {
		server, ok := s.(*lorj.Data)
		if !ok || server == nil {
			continue
		}
		if only != "" && server.GetString("id") != only {
			continue
		}
		found = true
		d.Logger().Info().Str("forge", forge.GetString("name")).Str("type", kind).
			Str("server", server.GetString("name")).Msg("Destroying server")
		d.Register(server)
		deleted, err := d.Delete(ctx, cloud.Server)
		if err != nil {
			return false, err
		}
		if !deleted {
			d.Logger().Error().Str("server", server.GetString("name")).Msg("Server was not removed")
			all = false
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
	if only != "" && !found {
		return false, lorj.NewPermanentError(fmt.Sprintf("server '%s' is not part of forge '%s'", only, forge.GetString("name")), nil).
			WithCode(lorj.ErrCodeNotFound).WithObject(t).WithOperation(string(lorj.VerbDelete))
	}
	return all, nil
}
