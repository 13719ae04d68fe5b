package forge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/lorj"
)

// InfraVersion is written in forj-cli.ver of a built infra workspace.
const InfraVersion = "0.0.37"

const infraOriginalFile = ".maestro_original.yaml"

// CommandRunner runs a command in dir.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) error

// ExecRunner runs commands with os/exec. Output goes to the debug log.
func ExecRunner(logger zerolog.Logger) CommandRunner {
	return func(ctx context.Context, dir, name string, args ...string) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		logger.Debug().Str("cmd", name+" "+strings.Join(args, " ")).Str("dir", dir).Msg(strings.TrimSpace(string(out)))
		if err != nil {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

// cloneMaestro clones url in <parent>/maestro, replacing any previous clone.
func cloneMaestro(ctx context.Context, run CommandRunner, url, parent, branch string) error {
	dest := filepath.Join(parent, MaestroType)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := run(ctx, parent, "git", "clone", url, MaestroType); err != nil {
		return err
	}
	if branch != "" && branch != "master" {
		return run(ctx, dest, "git", "checkout", branch)
	}
	return nil
}

// cloneOrUseMaestro is the create handler of the maestro repository. A
// maestro_repo directory given by the user is used as is. Otherwise the
// repository is cloned in the forj data directory. A failed clone is
// reported and the object says the repository does not exist.
func (p *Process) cloneOrUseMaestro(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	url := params.GetString("maestro_url")
	repo := ""
	if r := params.GetString("maestro_repo"); r != "" {
		repo = config.ExpandPath(r)
	}

	if isDir(repo) {
		d.Logger().Info().Str("repo", repo).Msg("Using maestro repo")
	} else {
		repo = filepath.Join(p.opts.DataDir, MaestroType)
		branch := configString(d, "branch")
		d.Logger().Info().Str("url", url).Str("repo", repo).Msg("Cloning maestro repo")
		if err := cloneMaestro(ctx, p.opts.Run, url, p.opts.DataDir, branch); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.Logger().Error().Err(err).Str("url", url).
				Msgf("Error while cloning the repo. If this error persists you could clone the repo manually in '%s'", repo)
		} else {
			d.Logger().Info().Str("repo", repo).Str("branch", branch).Msg("Maestro repo cloned")
		}
	}

	return lorj.NewAttrs(t, map[string]any{
		"maestro_repo": repo,
		"exists":       isDir(repo),
	}), nil
}

// infraFile tracks a maestro template file copied into the infra workspace.
type infraFile struct {
	MD5      string `yaml:"md5"`
	Original bool   `yaml:"original"`
}

func loadInfraList(path string) (map[string]infraFile, error) {
	list := map[string]infraFile{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return list, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("invalid original files list '%s': %w", path, err)
	}
	if list == nil {
		list = map[string]infraFile{}
	}
	return list, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// scanTemplates computes the md5 of every template file. A workspace file
// that differs from the md5 recorded when it was copied has been edited by
// the user and marked not original.
func scanTemplates(templates, workspace string, tracked map[string]infraFile, logger zerolog.Logger) (map[string]infraFile, bool, error) {
	current := map[string]infraFile{}
	original := true
	if !isDir(templates) {
		return current, original, nil
	}
	err := filepath.WalkDir(templates, func(path string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		rel, err := filepath.Rel(templates, path)
		if err != nil {
			return err
		}
		entry := infraFile{Original: true}
		if sum, err := fileMD5(filepath.Join(workspace, rel)); err == nil {
			if prev, ok := tracked[rel]; ok && prev.MD5 != sum {
				entry.Original = false
				original = false
				logger.Info().Str("file", filepath.Join(workspace, rel)).Msg("Infra file has changed from original template in maestro")
			}
		}
		if entry.MD5, err = fileMD5(path); err != nil {
			return err
		}
		current[rel] = entry
		return nil
	})
	return current, original, err
}

// BuildInfra refreshes the cloud-init workspace of infra from the maestro
// templates unless the user edited one of the files copied before. It
// returns the cloud-init directory and whether it was rebuilt.
func BuildInfra(infra, maestroRepo string, logger zerolog.Logger) (string, bool, error) {
	dest := filepath.Join(infra, "cloud-init")
	templates := filepath.Join(maestroRepo, "templates", "infra", "cloud-init")
	listFile := filepath.Join(infra, infraOriginalFile)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", false, err
	}
	if !isDir(filepath.Join(maestroRepo, "templates", "infra")) {
		logger.Info().Str("infra", infra).Msg("Re-using your infra")
		return dest, false, nil
	}

	tracked, err := loadInfraList(listFile)
	if err != nil {
		logger.Error().Err(err).Msg("Your infra workspace won't be migrated, until fixed")
		return dest, false, nil
	}
	current, original, err := scanTemplates(templates, dest, tracked, logger)
	if err != nil {
		return "", false, err
	}
	if !original {
		logger.Warn().Str("infra", infra).Msg("At least, one file has been updated. Infra workspace won't be updated by forj")
		return dest, false, nil
	}

	logger.Info().Str("infra", infra).Msg("Building your infra workspace")
	if err := copyTree(templates, dest); err != nil {
		return "", false, err
	}
	for rel := range tracked {
		if _, ok := current[rel]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dest, rel)); err == nil {
			logger.Debug().Str("file", rel).Msg("Infra file has been removed")
		}
	}
	if err := os.WriteFile(filepath.Join(infra, "forj-cli.ver"), []byte(InfraVersion), 0o644); err != nil {
		return "", false, err
	}
	data, err := yaml.Marshal(current)
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(listFile, data, 0o644); err != nil {
		return "", false, err
	}
	logger.Info().Str("infra", infra).Msg("The infra workspace has been built from maestro predefined files")
	return dest, true, nil
}

// createOrUseInfra is the create handler of the infra repository.
func (p *Process) createOrUseInfra(_ context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	infra := config.ExpandPath(params.GetString("infra_repo"))
	dest, rebuilt, err := BuildInfra(infra, params.GetString(MaestroRepository, "maestro_repo"), *d.Logger())
	if err != nil {
		return nil, lorj.NewPermanentError(fmt.Sprintf("unable to build the infra workspace '%s'", infra), err).WithObject(t)
	}
	return lorj.NewAttrs(t, map[string]any{"infra_repo": dest, "rebuilt": rebuilt}), nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if e.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
