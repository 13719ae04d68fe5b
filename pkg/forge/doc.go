// Package forge declares the objects a forge is built from: the maestro and
// infra repositories, the metadata and cloud-init user data given to the
// maestro server, the forge itself and the ssh access to its servers.
//
// Booting a forge creates the maestro server through the cloud process and
// then follows it with a Booter until cloud-init reports the end of the
// build. The Booter only talks to a Cloud, so the state machine is driven
// the same way by the dispatcher and by scripted tests.
package forge
