package forge

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
)

// accountExporter is the part of the config store the lorj account needs.
type accountExporter interface {
	ExportAccount() (map[string]map[string]any, error)
}

// lorjAccountSections are the account sections handed to the maestro.
var lorjAccountSections = []string{"account", "credentials", "services", "dns", "maestro", "network"}

// exportLorjAccount is the create handler of the lorj account: the account
// is exported, sealed with a one time key, and sent to the box when it asks
// for it during its boot.
func (p *Process) exportLorjAccount(_ context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	enabled := !isTrue(params.Get("lorj_disabled"))
	attrs := map[string]any{"enabled": enabled}

	exporter, ok := d.Config().(accountExporter)
	if !ok || !enabled {
		return lorj.NewAttrs(t, attrs), nil
	}
	account, err := exporter.ExportAccount()
	if err != nil {
		d.Logger().Warn().Err(err).Msg("Unable to export the account. lorj won't be configured in the maestro")
		return lorj.NewAttrs(t, attrs), nil
	}

	data, key, err := SealAccount(account)
	if err != nil {
		return nil, lorj.NewPermanentError("unable to export the account", err).WithObject(t)
	}
	attrs["data"] = data
	attrs["key"] = key
	return lorj.NewAttrs(t, attrs), nil
}

// SealAccount encrypts the exported sections of account with a new key. It
// returns the sealed document and the key, both base64.
func SealAccount(account map[string]map[string]any) (data, key string, err error) {
	export := map[string]map[string]any{}
	for _, section := range lorjAccountSections {
		if keys, ok := account[section]; ok && len(keys) > 0 {
			export[section] = keys
		}
	}
	doc, err := yaml.Marshal(export)
	if err != nil {
		return "", "", err
	}
	box, err := config.NewSecretBox()
	if err != nil {
		return "", "", err
	}
	sealed, err := box.Seal(string(doc))
	if err != nil {
		return "", "", err
	}
	return strings.TrimPrefix(sealed, "enc:"), box.EncodedKey(), nil
}

func isTrue(v any, ok bool) bool {
	if !ok {
		return false
	}
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True" || v == "yes"
	}
	return false
}

// lorjInstructions is shown when the account cannot be pushed to the box.
func lorjInstructions(host, user, key string, req LorjRequest, data, secret string) string {
	return fmt.Sprintf(`Unable to copy Lorj data to the server '%[1]s'. You need to do it yourself
manually, now. To do it, execute following instructions:
1. Connect to server %[1]s as %[2]s.
   Ex: ssh -o StrictHostKeyChecking=no -i %[3]s %[2]s@%[1]s

2. Create 2 files with the following data:
   $ echo '%[5]s' > '%[4]s'
   $ echo '%[6]s' > '%[7]s'

3. touch the flag file
   $ touch '%[8]s'

As soon as those instructions are done, Maestro should go on.`,
		host, user, key, req.DataFile, data, secret, req.KeyFile, req.FlagFile)
}
