package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/forj-oss/forj/pkg/lorj"
	"github.com/forj-oss/forj/pkg/policy"
)

type accountNamer interface {
	AccountName() string
}

// BootInput builds the policy input of a forge boot from the config.
func BootInput(d *lorj.Dispatcher, forge string) *policy.BootInput {
	input := &policy.BootInput{
		Provider:        configString(d, "provider"),
		Forge:           forge,
		Compute:         configString(d, "compute"),
		Image:           configString(d, "image_name"),
		Flavor:          configString(d, "flavor_name"),
		BlueprintFlavor: configString(d, "bp_flavor"),
		Network:         configString(d, "network_name"),
		SecurityGroup:   configString(d, "security_group"),
		Blueprint:       configString(d, "blueprint"),
	}
	if a, ok := d.Config().(accountNamer); ok {
		input.Account = a.AccountName()
	}
	input.Ports = stringList(d.Config().Get("ports"))
	input.AllowedFlavors = stringList(d.Config().Get("allowed_flavors"))
	return input
}

// gate refuses the boot of forge when a blocking policy is violated.
func (p *Process) gate(ctx context.Context, d *lorj.Dispatcher, forge string) error {
	if p.opts.Policy == nil {
		return nil
	}
	input := BootInput(d, forge)
	result, err := p.opts.Policy.EvaluateBoot(ctx, input)
	if err != nil {
		return fmt.Errorf("boot policy evaluation failed: %w", err)
	}
	for _, w := range result.Warnings {
		d.Logger().Warn().Str("policy", w.Policy).Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		_ = p.opts.Boot.Events.PublishPolicyDenied(input.Account, forge, v.Policy, v.Message)
		d.Logger().Error().Str("policy", v.Policy).Msg(v.Message)
		msgs = append(msgs, v.Message)
	}
	return lorj.NewPermanentError(fmt.Sprintf("boot of forge '%s' refused: %s", forge, strings.Join(msgs, "; ")), nil).
		WithCode(lorj.ErrCodeValidation).WithObject(Forge).WithOperation(string(lorj.VerbCreate))
}
