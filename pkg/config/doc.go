// Package config implements the layered forj configuration.
//
// A value is looked up in four layers, highest first:
//
//   - runtime: values set by the current command (flags, process handlers)
//   - account: ~/.forj/accounts/<name>.yaml, grouped by section
//   - local: ~/.forj/config.yaml, bare keys under "default"
//   - default: the embedded defaults.yaml
//
// Keys are written "section#key" or as bare keys. A bare key is resolved to
// its section through the "sections" metadata of defaults.yaml, so a key name
// is unique across sections.
//
// Account and local documents are validated with CUE schemas. Encrypted
// account keys are sealed with NaCl secretbox using the key file
// ~/.forj/.key and stored as "enc:<base64>".
//
//	store, err := config.Open(config.Options{Dir: dir})
//	if err != nil {
//		return err
//	}
//	if err := store.LoadAccount("hpcloud"); err != nil {
//		return err
//	}
//	image := store.GetString("maestro#image_name")
package config
