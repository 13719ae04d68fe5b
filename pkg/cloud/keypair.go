package cloud

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/forj-oss/forj/pkg/config"
)

// LocalKeypair describes the key files of a keypair found on disk. The
// private key may be named with or without a ".pem" extension, the public key
// always ends with ".pub".
type LocalKeypair struct {
	Name             string
	Dir              string
	Basename         string
	PrivateKeyName   string
	PrivateKeyExists bool
	PublicKeyName    string
	PublicKeyExists  bool
}

// DetectKeypair inspects the files around keyPath.
func DetectKeypair(name, keyPath string) LocalKeypair {
	keyPath = config.ExpandPath(keyPath)
	base := filepath.Base(keyPath)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".pub"), ".pem")

	k := LocalKeypair{
		Name:           name,
		Dir:            filepath.Dir(keyPath),
		Basename:       base,
		PrivateKeyName: base,
		PublicKeyName:  base + ".pub",
	}
	for _, ext := range []string{".pem", ""} {
		if fileExists(filepath.Join(k.Dir, base+ext)) {
			k.PrivateKeyName = base + ext
			k.PrivateKeyExists = true
			break
		}
	}
	k.PublicKeyExists = fileExists(filepath.Join(k.Dir, k.PublicKeyName))
	return k
}

// PrivateKeyFile returns the private key path.
func (k LocalKeypair) PrivateKeyFile() string { return filepath.Join(k.Dir, k.PrivateKeyName) }

// PublicKeyFile returns the public key path.
func (k LocalKeypair) PublicKeyFile() string { return filepath.Join(k.Dir, k.PublicKeyName) }

// PublicKey reads the public key, trimmed.
func (k LocalKeypair) PublicKey() (string, error) {
	b, err := os.ReadFile(k.PublicKeyFile())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Attrs returns the keypair description stored on the keypairs object.
func (k LocalKeypair) Attrs() map[string]any {
	return map[string]any{
		"keypair_path":      k.Dir,
		"key_basename":      k.Basename,
		"private_key_name":  k.PrivateKeyName,
		"private_key_exist": k.PrivateKeyExists,
		"public_key_name":   k.PublicKeyName,
		"public_key_exist":  k.PublicKeyExists,
		"private_key_file":  k.PrivateKeyFile(),
		"public_key_file":   k.PublicKeyFile(),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
