package forge

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBootScript(t *testing.T) {
	infra := t.TempDir()
	writeFile(t, filepath.Join(infra, "maestro", "20-puppet.sh"), "#!/bin/bash\necho puppet\n")
	writeFile(t, filepath.Join(infra, "maestro", "10-repos.sh"), "echo repos")
	writeFile(t, filepath.Join(infra, "ignored.sh"), "echo ignored\n")
	extra := t.TempDir()
	writeFile(t, filepath.Join(extra, "99-last.sh"), "echo last\n")
	writeFile(t, filepath.Join(extra, "notes.txt"), "not a script\n")

	script, err := BootScript(map[string]string{"erosite": "maestro.test", "quote": "it's"}, []string{infra, "", extra})
	if err != nil {
		t.Fatalf("BootScript() error = %v", err)
	}
	s := string(script)

	if !strings.HasPrefix(s, "#!/bin/bash\nexport FORJ_METADATA='") {
		t.Errorf("script does not start with the metadata export:\n%s", s)
	}
	if !strings.Contains(s, `"erosite":"maestro.test"`) || !strings.Contains(s, `it'\''s`) {
		t.Errorf("metadata is not exported as quoted JSON:\n%s", s)
	}
	repos, puppet, last := strings.Index(s, "echo repos"), strings.Index(s, "echo puppet"), strings.Index(s, "echo last")
	if repos < 0 || puppet < 0 || last < 0 || !(repos < puppet && puppet < last) {
		t.Errorf("scripts missing or out of order:\n%s", s)
	}
	if strings.Contains(s, "ignored") || strings.Contains(s, "not a script") {
		t.Errorf("unexpected content:\n%s", s)
	}
	if strings.Count(s, "#!/bin/bash") != 1 {
		t.Errorf("script shebangs were not stripped:\n%s", s)
	}
}

func TestBuildUserdataIsMultipart(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, boothookPath), "#!/bin/bash\necho hook\n")
	writeFile(t, filepath.Join(repo, cloudConfigPath), "#cloud-config\npackages: [git]\n")

	data, err := BuildUserdata(repo, nil, map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("BuildUserdata() error = %v", err)
	}

	header, body, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		t.Fatal("no header separator")
	}
	contentType := strings.TrimPrefix(strings.SplitN(string(header), "\n", 2)[0], "Content-Type: ")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/mixed" {
		t.Fatalf("content type = %q (%v)", contentType, err)
	}

	r := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	var got []string
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		content, _ := io.ReadAll(p)
		got = append(got, p.FileName()+"|"+strings.SplitN(p.Header.Get("Content-Type"), ";", 2)[0])
		if p.FileName() == "boot_maestro.sh" && !strings.Contains(string(content), "FORJ_METADATA") {
			t.Errorf("boot script part = %q", content)
		}
	}
	want := []string{
		"boothook.sh|text/cloud-boothook",
		"cloud-config.yaml|text/cloud-config",
		"boot_maestro.sh|text/x-shellscript",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("parts = %v, want %v", got, want)
	}
}

func TestBuildUserdataWithoutBootParts(t *testing.T) {
	data, err := BuildUserdata(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("BuildUserdata() error = %v", err)
	}
	if strings.Count(string(data), "Content-Disposition") != 1 {
		t.Errorf("want only the boot script part:\n%s", data)
	}
}
