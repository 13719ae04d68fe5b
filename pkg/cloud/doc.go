// Package cloud declares the generic cloud object graph (connections,
// networks, security groups, keypairs, images, flavors, servers and public
// addresses) and the get-or-create handlers driving a provider controller.
//
// Providers amend the declared types with their own mappings; the handlers
// only speak process-side names.
package cloud
