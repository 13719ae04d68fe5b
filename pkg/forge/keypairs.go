package forge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/lorj"
)

// GenerateKeypair writes a new ed25519 keypair at keyPath and keyPath.pub
// unless one of the files exists.
func GenerateKeypair(keyPath, comment string) (cloud.LocalKeypair, bool, error) {
	local := cloud.DetectKeypair(filepath.Base(keyPath), keyPath)
	if local.PrivateKeyExists || local.PublicKeyExists {
		return local, false, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return local, false, fmt.Errorf("failed to generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return local, false, fmt.Errorf("failed to encode private key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return local, false, fmt.Errorf("failed to encode public key: %w", err)
	}
	authorized := bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub))
	if comment != "" {
		authorized = append(authorized, ' ')
		authorized = append(authorized, comment...)
	}

	if err := os.MkdirAll(local.Dir, 0o700); err != nil {
		return local, false, fmt.Errorf("failed to create keypair directory: %w", err)
	}
	if err := os.WriteFile(local.PrivateKeyFile(), pem.EncodeToMemory(block), 0o600); err != nil {
		return local, false, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(local.PublicKeyFile(), append(authorized, '\n'), 0o644); err != nil {
		return local, false, fmt.Errorf("failed to write public key: %w", err)
	}
	return cloud.DetectKeypair(local.Name, keyPath), true, nil
}

// SameKey reports whether two authorized_keys lines hold the same key,
// whatever their comments.
func SameKey(a, b string) bool {
	ka, _, _, _, err := ssh.ParseAuthorizedKey([]byte(a))
	if err != nil {
		return false
	}
	kb, _, _, _, err := ssh.ParseAuthorizedKey([]byte(b))
	if err != nil {
		return false
	}
	return bytes.Equal(ka.Marshal(), kb.Marshal())
}

// BootKey is the local keypair chosen to reach a forge server.
type BootKey struct {
	cloud.LocalKeypair
	// Coherent is true when the local public key is the one the cloud
	// holds under the server keypair name.
	Coherent bool
	// CloudPublicKey is the key registered in the cloud, if found.
	CloudPublicKey string
}

// resolveBootKey picks the local keypair matching the keypair server was
// created with. The account keypair is kept when the cloud key under the
// server keypair name is the same key.
func resolveBootKey(ctx context.Context, d *lorj.Dispatcher, server *Server) (*BootKey, error) {
	name := configString(d, "keypair_name")
	local := cloud.DetectKeypair(name, configString(d, "keypair_path"))
	keyName := server.KeyName
	if keyName == "" {
		keyName = name
	}

	cloudKey, err := cloudPublicKey(ctx, d, keyName)
	if err != nil {
		return nil, err
	}

	key := &BootKey{LocalKeypair: local, CloudPublicKey: cloudKey}
	if keyName != name {
		if localPub, _ := local.PublicKey(); cloudKey != "" && SameKey(localPub, cloudKey) {
			d.Logger().Warn().Str("server", server.Name).Str("keypair", keyName).
				Msgf("Server is using keypair '%s' instead of your account keypair '%s'. Both public keys are identical, using '%s'", keyName, name, name)
		} else {
			d.Logger().Warn().Str("server", server.Name).Str("keypair", keyName).
				Msgf("Server is using keypair '%s' instead of your account keypair '%s'. Trying the local keypair '%s'", keyName, name, keyName)
			key.LocalKeypair = cloud.DetectKeypair(keyName, filepath.Join(local.Dir, keyName))
		}
	}

	if pub, err := key.PublicKey(); err == nil && cloudKey != "" {
		key.Coherent = SameKey(pub, cloudKey)
	}
	switch {
	case cloudKey != "" && !key.Coherent:
		d.Logger().Warn().Str("keypair", key.Name).Str("cloud_public_key", cloudKey).
			Msgf("The local keypair '%s' public key and the server '%s' public key are different. You won't be able to access it until you get a copy of the key used to create the server", key.Name, server.Name)
	case !key.PrivateKeyExists:
		d.Logger().Warn().Str("keypair", key.Name).Str("file", key.PrivateKeyFile()).
			Msgf("The local keypair private key is not found. You won't be able to access '%s' until you get a copy of the private key used to create the server", server.Name)
	}
	return key, nil
}

// cloudPublicKey returns the public key the cloud holds under name, or ""
// when the keypair is unknown.
func cloudPublicKey(ctx context.Context, d *lorj.Dispatcher, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	d.QueryCacheCleanup(cloud.Keypairs)
	keypair, err := d.QuerySingle(ctx, cloud.Keypairs, lorj.Query{"name": name})
	if err != nil || keypair == nil {
		return "", err
	}
	return keypair.GetString("public_key"), nil
}
