package cloud

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/forj-oss/forj/pkg/lorj"
)

var portRange = regexp.MustCompile(`^(\d+)(?:-(\d+))?$`)

// PortRange is an inclusive TCP port range.
type PortRange struct {
	Min int
	Max int
}

// ParsePort parses "<port>" or "<min>-<max>".
func ParsePort(v any) (PortRange, error) {
	s := fmt.Sprint(v)
	m := portRange.FindStringSubmatch(s)
	if m == nil {
		return PortRange{}, fmt.Errorf("port '%s' is not valid. Must be <Port> or <PortMin>-<PortMax>", s)
	}
	lo, err := strconv.Atoi(m[1])
	if err != nil {
		return PortRange{}, err
	}
	hi := lo
	if m[2] != "" {
		if hi, err = strconv.Atoi(m[2]); err != nil {
			return PortRange{}, err
		}
	}
	if lo > hi || hi > 65535 {
		return PortRange{}, fmt.Errorf("port range '%s' is out of bounds", s)
	}
	return PortRange{Min: lo, Max: hi}, nil
}

// getOrCreateSecurityGroup finds or creates the security group, then makes
// sure an ingress rule exists for every configured port.
func getOrCreateSecurityGroup(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	name := params.GetString("security_group")
	d.Logger().Info().Str("security_group", name).Msg("Searching for security group")

	sg, err := findFirst(ctx, d, t, lorj.Query{"name": name}, name)
	if err != nil {
		return nil, fmt.Errorf("unable to get list of security groups: %w", err)
	}
	if sg == nil {
		d.Logger().Info().Str("security_group", name).Msg("Creating security group")
		if sg, err = d.ControllerCreate(ctx, t); err != nil {
			return nil, fmt.Errorf("unable to create security group '%s': %w", name, err)
		}
	}
	d.Register(sg)

	d.Logger().Info().Str("security_group", name).Msg("Configuring security group")
	ports, _ := d.Config().Get("ports")
	for _, p := range toList(ports) {
		pr, err := ParsePort(p)
		if err != nil {
			d.Logger().Error().Err(err).Msg("Skipping port")
			continue
		}
		cfg := d.Config()
		cfg.Set("dir", DirIn)
		cfg.Set("proto", "tcp")
		cfg.Set("port_min", pr.Min)
		cfg.Set("port_max", pr.Max)
		cfg.Set("addr_map", "0.0.0.0/0")
		if _, err := d.Create(ctx, Rule); err != nil {
			return nil, fmt.Errorf("unable to create the rule for port %v: %w", p, err)
		}
	}
	return sg, nil
}

func getOrCreateRule(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	desc := fmt.Sprintf("%s %s:%v - %v to %s",
		params.GetString("dir"), params.GetString("proto"),
		params.GetString("port_min"), params.GetString("port_max"), params.GetString("addr_map"))

	q := lorj.Query{}
	for _, k := range []string{"dir", "proto", "port_min", "port_max", "addr_map", "sg_id"} {
		v, _ := params.Get(k)
		q[k] = v
	}
	rule, err := findFirst(ctx, d, t, q, desc)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return rule, nil
	}
	d.Logger().Debug().Str("rule", desc).Msg("Creating rule")
	rule, err = d.ControllerCreate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("error creating the rule '%s': %w", desc, err)
	}
	return rule, nil
}

func toList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []int:
		out := make([]any, len(l))
		for i, p := range l {
			out[i] = p
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i, p := range l {
			out[i] = p
		}
		return out
	case nil:
		return nil
	default:
		return []any{l}
	}
}
