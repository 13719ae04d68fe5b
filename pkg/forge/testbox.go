package forge

import (
	"context"
	"fmt"
	"os/user"
	"regexp"
	"sort"
	"strings"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
)

var (
	testBoxRequest     = regexp.MustCompile(`forj-cli: tb-repo=(.*) tb-dir=(.*) tb-root-repo=(.*)`)
	testBoxRepoRequest = regexp.MustCompile(`build.sh: test-box-repo=(.*)`)
)

// RepoRequest is the repository a waiting box expects from test-box.
// Dir and RootRepo are empty when the box only named the repository.
type RepoRequest struct {
	Repo     string
	Dir      string
	RootRepo string
}

// RepoRequested returns the test-box request of a waiting box. The full
// request sits on the waiting line, the short one on the line after it.
func RepoRequested(log string) (RepoRequest, bool) {
	if m := testBoxRequest.FindStringSubmatch(waitingLine(log)); m != nil {
		return RepoRequest{Repo: m[1], Dir: m[2], RootRepo: m[3]}, true
	}
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) < 3 {
		return RepoRequest{}, false
	}
	if m := testBoxRepoRequest.FindStringSubmatch(lines[len(lines)-3]); m != nil {
		return RepoRequest{Repo: m[1]}, true
	}
	return RepoRequest{}, false
}

// testBoxRepos parses the test_box setting, "repo=dir,..." where dir is the
// local clone of repo.
func testBoxRepos(s string) map[string]string {
	repos := ExtraMetadata(s)
	for repo, dir := range repos {
		if repo == "" || dir == "" {
			delete(repos, repo)
		}
	}
	return repos
}

// testBoxMetadata is the test-box metadata entry, "repo;testing-<user>|...".
func testBoxMetadata(repos map[string]string, localUser string) string {
	names := make([]string, 0, len(repos))
	for repo := range repos {
		names = append(names, repo)
	}
	sort.Strings(names)
	for i, repo := range names {
		names[i] = repo + ";testing-" + localUser
	}
	return strings.Join(names, "|")
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "forj"
}

// testBoxArgs builds the test-box.sh arguments for one action on the box.
func testBoxArgs(action, target string, req RepoRequest) []string {
	args := []string{action, target, "--repo", req.Repo}
	if req.Dir != "" {
		args = append(args, "--repo-dir", req.Dir, "--root-repo", req.RootRepo)
	}
	return args
}

// testBoxWatcher pushes a local repository with test-box.sh when the box
// waits for one of the test_box repositories. A previous push to the same
// box is removed first. When the script fails, the user is asked to do the
// push by hand before the boot goes on.
func testBoxWatcher(d *lorj.Dispatcher, run CommandRunner, sshUser string) LogWatcher {
	done := false
	return func(ctx context.Context, server *Server, log string) {
		script := configString(d, "test_box_path")
		if done || script == "" {
			return
		}
		req, ok := RepoRequested(log)
		if !ok {
			return
		}
		dir, ok := testBoxRepos(configString(d, "test_box"))[req.Repo]
		if !ok {
			return
		}
		done = true
		dir = config.ExpandPath(dir)

		logger := d.Logger().With().Str("server", server.Name).Str("repo", req.Repo).Logger()
		logger.Info().Msg("test-box: your box is waiting for a test-box repository. One moment")
		logger.Warn().Msg("test-box: ssh config is not managed. You may need to configure it yourself, otherwise test-box may fail")

		target := sshUser + "@" + server.PublicIP
		branch := fmt.Sprintf("refs/heads/testing-%s-%s", currentUser(), target)
		if run(ctx, dir, "git", "rev-parse", "--verify", "--quiet", branch) == nil {
			if err := run(ctx, dir, script, testBoxArgs("--remove-from", target, req)...); err != nil {
				logger.Warn().Err(err).Msg("test-box: unable to remove the previous push")
			}
		}
		err := run(ctx, dir, script, testBoxArgs("--push-to", target, req)...)
		if err == nil {
			logger.Info().Str("dir", dir).Msg("test-box: repository pushed to the box")
			return
		}

		logger.Error().Err(err).Str("dir", dir).
			Msg("Unable to run test-box.sh successfully. You need to run it yourself manually, now")
		for {
			answer, err := d.Ask(ctx, lorj.Question{Key: "test_box_done", Desc: "When you are done, type 'DONE'"})
			if err != nil {
				logger.Debug().Err(err).Msg("test-box: no confirmation")
				return
			}
			if answer == "DONE" {
				return
			}
		}
	}
}
