package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forj-oss/forj/pkg/lorj"
)

// Locations of the boot parts in the maestro repository.
var (
	boothookPath    = filepath.Join("build", "bin", "build-tools", "boothook.sh")
	cloudConfigPath = filepath.Join("build", "maestro", "cloud-config.yaml")
)

// UserdataPart is one document of the cloud-init MIME archive.
type UserdataPart struct {
	Filename    string
	ContentType string
	Body        []byte
}

// BootScript assembles the maestro boot script: the metadata exported as
// FORJ_METADATA followed by the *.sh scripts of every bootstrap directory.
// A directory having a maestro sub directory contributes that one instead.
func BootScript(meta map[string]string, dirs []string) ([]byte, error) {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "export FORJ_METADATA='%s'\n", strings.ReplaceAll(string(encoded), "'", `'\''`))

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if st, err := os.Stat(filepath.Join(dir, MaestroType)); err == nil && st.IsDir() {
			dir = filepath.Join(dir, MaestroType)
		}
		scripts, err := filepath.Glob(filepath.Join(dir, "*.sh"))
		if err != nil {
			return nil, err
		}
		sort.Strings(scripts)
		for _, script := range scripts {
			data, err := os.ReadFile(script)
			if err != nil {
				return nil, fmt.Errorf("failed to read bootstrap script: %w", err)
			}
			fmt.Fprintf(&b, "\n# --- %s\n", script)
			b.Write(bytes.TrimPrefix(data, []byte("#!/bin/bash\n")))
			if !bytes.HasSuffix(data, []byte("\n")) {
				b.WriteByte('\n')
			}
		}
	}
	return b.Bytes(), nil
}

// WriteMime renders parts as a multipart/mixed document cloud-init reads.
func WriteMime(parts []UserdataPart) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ContentType+`; charset="us-ascii"`)
		h.Set("MIME-Version", "1.0")
		h.Set("Content-Transfer-Encoding", "7bit")
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, p.Filename))
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(p.Body); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Type: multipart/mixed; boundary=\"%s\"\nMIME-Version: 1.0\n\n", w.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// BuildUserdata collects the boot parts of maestroRepo and the bootstrap
// scripts of dirs.
func BuildUserdata(maestroRepo string, dirs []string, meta map[string]string) ([]byte, error) {
	var parts []UserdataPart
	for _, f := range []struct{ path, name, contentType string }{
		{boothookPath, "boothook.sh", "text/cloud-boothook"},
		{cloudConfigPath, "cloud-config.yaml", "text/cloud-config"},
	} {
		data, err := os.ReadFile(filepath.Join(maestroRepo, f.path))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, UserdataPart{Filename: f.name, ContentType: f.contentType, Body: data})
	}

	script, err := BootScript(meta, dirs)
	if err != nil {
		return nil, err
	}
	parts = append(parts, UserdataPart{Filename: "boot_maestro.sh", ContentType: "text/x-shellscript", Body: script})
	return WriteMime(parts)
}

// buildUserdata is the create handler of the userdata object. The document
// is also set as the user_data config value the server creation sends.
func (p *Process) buildUserdata(_ context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	repo := params.GetString(MaestroRepository, "maestro_repo")
	if exists, _ := params.Get(MaestroRepository, "exists"); exists != true {
		return nil, lorj.NewPermanentError(fmt.Sprintf(
			"maestro repository doesn't exist. This is required for cloud_init user_data build. Check why '%s' doesn't exist", repo), nil).
			WithObject(t)
	}

	meta := map[string]string{}
	if v, ok := params.Get(Metadata, "meta_data"); ok {
		if m, ok := v.(map[string]string); ok {
			meta = m
		}
	}

	dirs := []string{params.GetString(InfraRepository, "infra_repo")}
	dirs = append(dirs, stringList(params.Get("bootstrap_dirs"))...)

	userData, err := BuildUserdata(repo, dirs, meta)
	if err != nil {
		return nil, lorj.NewPermanentError("unable to build user_data", err).WithObject(t)
	}
	d.Config().Set("user_data", string(userData))
	d.Logger().Info().Int("size", len(userData)).Msg("user_data prepared")

	return lorj.NewAttrs(t, map[string]any{
		"user_data":         string(userData),
		"user_data_encoded": base64.StdEncoding.EncodeToString(userData),
	}), nil
}

// stringList reads a list value, or a space separated string.
func stringList(v any, ok bool) []string {
	if !ok || v == nil {
		return nil
	}
	switch v := v.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}
