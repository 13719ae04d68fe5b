package forge

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/forj-oss/forj/pkg/providers/local"
)

const testBoxLog = "boot\nforj-cli: tb-repo=maestro tb-dir=/opt/config/production/git tb-root-repo=maestro\n" +
	"build.sh: test-box-repo=maestro\nTest-box: Waiting for ~ubuntu/git/maestro\nOn your workstation, you can start test-box\n"

func TestRepoRequested(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want RepoRequest
		ok   bool
	}{
		{
			name: "full request", log: testBoxLog, ok: true,
			want: RepoRequest{Repo: "maestro", Dir: "/opt/config/production/git", RootRepo: "maestro"},
		},
		{
			name: "repository only", ok: true,
			log:  "boot\nother\nbuild.sh: test-box-repo=config\nwaiting\nstart test-box\n",
			want: RepoRequest{Repo: "config"},
		},
		{name: "not waiting", log: "forj-cli: tb-repo=maestro tb-dir=/d tb-root-repo=m\na\nb\nc\nd\n"},
		{name: "short log", log: "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RepoRequested(tt.log)
			if ok != tt.ok || got != tt.want {
				t.Errorf("RepoRequested() = %+v, %v, want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTestBoxMetadata(t *testing.T) {
	repos := testBoxRepos("maestro=~/src/maestro, config=/src/config,broken=,=/x")
	if len(repos) != 2 || repos["maestro"] != "~/src/maestro" || repos["config"] != "/src/config" {
		t.Fatalf("testBoxRepos() = %v", repos)
	}
	if got := testBoxMetadata(repos, "me"); got != "config;testing-me|maestro;testing-me" {
		t.Errorf("testBoxMetadata() = %q", got)
	}

	get := func(values map[string]string) func(string) string {
		return func(k string) string { return values[k] }
	}
	if _, ok := BuildMetadata(get(map[string]string{"test_box": "maestro=/src"}), false)["test-box"]; ok {
		t.Error("test-box metadata set without test_box_path")
	}
	meta := BuildMetadata(get(map[string]string{"test_box": "maestro=/src", "test_box_path": "/bin/test-box.sh"}), false)
	if !strings.HasPrefix(meta["test-box"], "maestro;testing-") {
		t.Errorf("test-box metadata = %q", meta["test-box"])
	}
}

func TestTestBoxWatcher(t *testing.T) {
	server := &Server{Name: "maestro.forge1", PublicIP: "15.126.0.10"}
	ctx := context.Background()
	push := "src: /bin/test-box.sh --push-to ubuntu@15.126.0.10 --repo maestro --repo-dir /opt/config/production/git --root-repo maestro"

	tests := []struct {
		name     string
		testBox  string
		log      string
		fail     error
		wantRuns []string
	}{
		{name: "not waiting", testBox: "maestro=/w/src", log: "boot\n"},
		{name: "unknown repository", testBox: "config=/w/src", log: testBoxLog},
		{
			name: "pushes", testBox: "maestro=/w/src", log: testBoxLog,
			wantRuns: []string{"git rev-parse", push},
		},
		{
			name: "push failure", testBox: "maestro=/w/src", log: testBoxLog, fail: errors.New("exit status 1"),
			wantRuns: []string{"git rev-parse", push},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupForge(t, local.Options{}, Options{})
			env.d.Config().Set("test_box", tt.testBox)
			env.d.Config().Set("test_box_path", "/bin/test-box.sh")

			var runs []string
			run := func(_ context.Context, dir, name string, args ...string) error {
				if name == "git" {
					// No previous push branch.
					runs = append(runs, "git "+args[0])
					return errors.New("exit status 1")
				}
				runs = append(runs, filepath.Base(dir)+": "+name+" "+strings.Join(args, " "))
				return tt.fail
			}
			watch := testBoxWatcher(env.d, run, "ubuntu")
			watch(ctx, server, tt.log)
			watch(ctx, server, tt.log)
			if !slices.Equal(runs, tt.wantRuns) {
				t.Errorf("runs = %q, want %q", runs, tt.wantRuns)
			}
		})
	}

	t.Run("removes a previous push", func(t *testing.T) {
		env := setupForge(t, local.Options{}, Options{})
		env.d.Config().Set("test_box", "maestro=/w/src")
		env.d.Config().Set("test_box_path", "/bin/test-box.sh")

		var actions []string
		run := func(_ context.Context, _ string, name string, args ...string) error {
			if name != "git" {
				actions = append(actions, args[0])
			}
			return nil
		}
		testBoxWatcher(env.d, run, "ubuntu")(ctx, server, testBoxLog)
		if !slices.Equal(actions, []string{"--remove-from", "--push-to"}) {
			t.Errorf("actions = %q", actions)
		}
	})

	t.Run("no script configured", func(t *testing.T) {
		env := setupForge(t, local.Options{}, Options{})
		env.d.Config().Set("test_box", "maestro=/w/src")
		called := false
		run := func(context.Context, string, string, ...string) error {
			called = true
			return nil
		}
		testBoxWatcher(env.d, run, "ubuntu")(ctx, server, testBoxLog)
		if called {
			t.Error("test-box ran without test_box_path")
		}
	})
}
