package forge

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forj-oss/forj/pkg/lorj"
)

// metadataFromConfig lists the metadata entries copied from a config key.
var metadataFromConfig = []struct{ meta, key string }{
	{"flavor_name", "bp_flavor"},
	{"cdksite", "server_name"},
	{"cdkdomain", "domain_name"},
	{"erosite", "server_name"},
	{"erodomain", "domain_name"},
	{"gitbranch", "branch"},
	{"security_groups", "security_group"},
	{"tenant_name", "tenant_name"},
	{"network_name", "network_name"},
	{"hpcloud_os_region", "compute"},
	{"image_name", "image_name"},
	{"key_name", "keypair_name"},
}

// BuildMetadata returns the metadata given to the maestro server. get reads
// a config value, "" when unset.
func BuildMetadata(get func(key string) string, lorjEnabled bool) map[string]string {
	meta := map[string]string{
		"eroip":        "127.0.0.1",
		"PUPPET_DEBUG": "True",
	}
	for _, m := range metadataFromConfig {
		meta[m.meta] = get(m.key)
	}

	if zone := get("dns_service"); zone != "" {
		meta["dns_zone"] = zone
		meta["dns_tenantid"] = get("dns_tenant_id")
		meta["dns_auth_url"] = get("auth_uri")
	}
	for _, key := range []string{"blueprint", "repos", "bootstrap"} {
		if v := get(key); v != "" {
			meta[key] = v
		}
	}

	for k, v := range ExtraMetadata(get("extra_metadata")) {
		meta[k] = v
	}

	if cert := get("ca_root_cert"); cert != "" {
		meta["CA_ROOT_CERT"] = caRootDest(cert)
	}
	if get("test_box_path") != "" {
		if repos := testBoxRepos(get("test_box")); len(repos) > 0 {
			meta["test-box"] = testBoxMetadata(repos, currentUser())
		}
	}
	if proxy := get("webproxy"); proxy != "" {
		meta["webproxy"] = proxy
	}
	meta["lorj_enabled"] = fmt.Sprint(lorjEnabled)
	return meta
}

// ExtraMetadata parses "k1=v1,k2=v2". An entry without '=' gets an empty
// value.
func ExtraMetadata(s string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

// caRootSpec splits a "file#dest" certificate setting. Without '#', dest is
// the file name.
func caRootSpec(spec string) (file, dest string) {
	if f, d, ok := strings.Cut(spec, "#"); ok {
		return f, d
	}
	return spec, filepath.Base(spec)
}

func caRootDest(spec string) string {
	_, dest := caRootSpec(spec)
	return dest
}

// buildMetadata is the create handler of the metadata object. The result is
// also set as the meta_data config value the server creation sends.
func (p *Process) buildMetadata(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	enabled, _ := params.Get(LorjAccount, "enabled")
	lorjEnabled, _ := enabled.(bool)

	meta := BuildMetadata(func(key string) string { return configString(d, key) }, lorjEnabled)

	if p.opts.Hook != nil {
		hooked, err := p.opts.Hook.Apply(ctx, configString(d, "instance_name"), meta)
		if err != nil {
			return nil, lorj.NewPermanentError("metadata hook failed", err).WithObject(t)
		}
		meta = hooked
	}

	d.Config().Set("meta_data", meta)
	d.Logger().Info().Msgf("Metadata set:\n%s", formatMetadata(meta))

	return lorj.NewAttrs(t, map[string]any{"meta_data": meta}), nil
}

func formatMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	width := 0
	for k := range meta {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%-*s : %s\n", width, k, meta[k])
	}
	return b.String()
}
