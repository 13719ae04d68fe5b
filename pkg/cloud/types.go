package cloud

import "github.com/forj-oss/forj/pkg/lorj"

// Object types of the cloud graph.
const (
	Services          lorj.ObjectType = "services"
	ComputeConnection lorj.ObjectType = "compute_connection"
	NetworkConnection lorj.ObjectType = "network_connection"
	Network           lorj.ObjectType = "network"
	Subnetwork        lorj.ObjectType = "subnetwork"
	Port              lorj.ObjectType = "port"
	Router            lorj.ObjectType = "router"
	RouterInterface   lorj.ObjectType = "router_interface"
	ExternalNetwork   lorj.ObjectType = "external_network"
	SecurityGroups    lorj.ObjectType = "security_groups"
	Rule              lorj.ObjectType = "rule"
	Keypairs          lorj.ObjectType = "keypairs"
	Image             lorj.ObjectType = "image"
	Flavor            lorj.ObjectType = "flavor"
	Server            lorj.ObjectType = "server"
	PublicIP          lorj.ObjectType = "public_ip"
	ServerLog         lorj.ObjectType = "server_log"
	InternetNetwork   lorj.ObjectType = "internet_network"
	InternetServer    lorj.ObjectType = "internet_server"
)

// Server status values, process side.
const (
	StatusCreate   = "create"
	StatusBoot     = "boot"
	StatusActive   = "active"
	StatusError    = "error"
	StatusShutdown = "shutdown"
)

// Rule directions.
const (
	DirIn  = "IN"
	DirOut = "OUT"
)

// RouterInterfaceOwner is the device owner of a port attaching a router to a
// network.
const RouterInterfaceOwner = "network:router_interface"

// Flavors lists the predefined flavor names a provider maps to its own.
var Flavors = []struct{ Name, Desc string }{
	{"tiny", "VCU: 1,  RAM:512M, HD:1G,   EHD: 0G,   Swap: 0G"},
	{"xsmall", "VCU: 1,  RAM:1G,   HD:10G,  EHD: 10G,  Swap: 0G"},
	{"small", "VCU: 2,  RAM:2G,   HD:30G,  EHD: 10G,  Swap: 0G"},
	{"medium", "VCU: 2,  RAM:4G,   HD:30G,  EHD: 50G,  Swap: 0G"},
	{"large", "VCU: 4,  RAM:8G,   HD:30G,  EHD: 100G, Swap: 0G"},
	{"xlarge", "VCU: 8,  RAM:16G,  HD:30G,  EHD: 200G, Swap: 0G"},
}
