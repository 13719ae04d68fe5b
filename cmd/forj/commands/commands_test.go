package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/forge"
	"github.com/forj-oss/forj/pkg/lorj"
)

func runForj(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand("test", "none", "now")
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"a=1", "b=", "c=x=y"})
	if err != nil {
		t.Fatalf("parseAssignments() error = %v", err)
	}
	want := []assignment{{"a", "1"}, {"b", ""}, {"c", "x=y"}}
	if !slices.Equal(got, want) {
		t.Errorf("parseAssignments() = %v, want %v", got, want)
	}
	for _, bad := range []string{"novalue", "=1"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) should fail", bad)
		}
	}
}

func TestServerChoices(t *testing.T) {
	choices, ids := serverChoices([]*forge.Server{
		{Name: "maestro.f", ID: "1"},
		{Name: "review.f", ID: "2"},
		{Name: "review.f", ID: "3"},
	})
	want := []string{"maestro.f", "review.f - 2", "review.f - 3", choiceAll, choiceAbort}
	if !slices.Equal(choices, want) {
		t.Errorf("choices = %q, want %q", choices, want)
	}
	if ids["maestro.f"] != "1" || ids["review.f - 3"] != "3" {
		t.Errorf("ids = %v", ids)
	}
}

func TestTerminalPrompter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		q     lorj.Question
		want  string
	}{
		{name: "answer", input: "value\n", q: lorj.Question{Desc: "Key"}, want: "value"},
		{name: "default", input: "\n", q: lorj.Question{Desc: "Key", Default: "def"}, want: "def"},
		{name: "required asks again", input: "\nlate\n", q: lorj.Question{Desc: "Key", Required: true}, want: "late"},
		{name: "choice by number", input: "2\n", q: lorj.Question{Desc: "Pick", Choices: []string{"a", "b"}}, want: "b"},
		{name: "invalid choice asks again", input: "c\na\n", q: lorj.Question{Desc: "Pick", Choices: []string{"a", "b"}}, want: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			p := newTerminalPrompter(strings.NewReader(tt.input), out)
			got, err := p.Ask(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("Ask() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Ask() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("encrypted", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newTerminalPrompter(strings.NewReader("\n"), out)
		got, err := p.Ask(context.Background(), lorj.Question{Desc: "Password", Default: "s3cret", Encrypted: true})
		if err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
		if got != "s3cret" {
			t.Errorf("Ask() = %q, want the current value", got)
		}
		if prompt := out.String(); prompt != "Password (input is visible): " {
			t.Errorf("prompt = %q", prompt)
		}
	})

	t.Run("end of input", func(t *testing.T) {
		p := newTerminalPrompter(strings.NewReader(""), io.Discard)
		if _, err := p.Ask(context.Background(), lorj.Question{Desc: "Key"}); !errors.Is(err, io.EOF) {
			t.Errorf("Ask() error = %v, want EOF", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		r, w := io.Pipe()
		defer w.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := newTerminalPrompter(r, io.Discard)
		if _, err := p.Ask(ctx, lorj.Question{Desc: "Key"}); !errors.Is(err, context.Canceled) {
			t.Errorf("Ask() error = %v, want context.Canceled", err)
		}
	})
}

func TestSetAndGet(t *testing.T) {
	dir := t.TempDir()

	if err := runForj(t, "set", "--data-dir", dir, "keypair_name=mykey", "branch=stable"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	cfg, err := config.Open(config.Options{Dir: dir, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetString("keypair_name") != "mykey" || cfg.Where("branch")[0] != config.LayerLocal {
		t.Errorf("keypair_name = %q, branch layers = %v", cfg.GetString("keypair_name"), cfg.Where("branch"))
	}

	if err := runForj(t, "set", "--data-dir", dir, "branch="); err != nil {
		t.Fatalf("set error = %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	doc := map[string]map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc[config.DefaultSection]["branch"]; ok {
		t.Errorf("branch still set: %v", doc)
	}

	if err := runForj(t, "set", "--data-dir", dir, "provider=local"); err == nil {
		t.Error("setting a read only key should fail")
	}
	if err := runForj(t, "get", "--data-dir", dir, "keypair_name"); err != nil {
		t.Errorf("get error = %v", err)
	}
}

func TestSetAccountValue(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Open(config.Options{Dir: dir, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.NewAccount("lab", "local"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SaveAccount(); err != nil {
		t.Fatal(err)
	}

	if err := runForj(t, "set", "--data-dir", dir, "-a", "lab", "account_key=s3cret", "tenant=t1"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "accounts", "lab.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "s3cret") || !strings.Contains(string(raw), "enc:") {
		t.Errorf("account_key is not sealed:\n%s", raw)
	}

	if err := cfg.LoadAccount("lab"); err != nil {
		t.Fatal(err)
	}
	if cfg.GetString("account_key") != "s3cret" || cfg.GetString("tenant") != "t1" {
		t.Errorf("account values = %q, %q", cfg.GetString("account_key"), cfg.GetString("tenant"))
	}

	if err := runForj(t, "show", "account", "--data-dir", dir); err != nil {
		t.Errorf("show account error = %v", err)
	}
	if err := runForj(t, "set", "--data-dir", dir, "-a", "missing", "tenant=t1"); err == nil {
		t.Error("set on a missing account should fail")
	}
}

func TestCloudCommandsNeedAnAccount(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{
		{"boot", "redstone", "f1"},
		{"down", "f1"},
		{"destroy", "f1", "--force"},
		{"ssh", "f1"},
	} {
		err := runForj(t, append(args, "--data-dir", dir)...)
		if err == nil || !strings.Contains(err.Error(), "forj setup") {
			t.Errorf("%v error = %v, want a setup hint", args, err)
		}
	}
}

func TestShowHistoryWithoutBoot(t *testing.T) {
	if err := runForj(t, "show", "history", "f1", "--data-dir", t.TempDir()); err != nil {
		t.Errorf("show history error = %v", err)
	}
}
