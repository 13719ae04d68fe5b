package forge

import (
	"fmt"

	"github.com/forj-oss/forj/pkg/cloud"
	"github.com/forj-oss/forj/pkg/lorj"
)

// Object types declared by the forge process.
const (
	MaestroRepository lorj.ObjectType = "maestro_repository"
	InfraRepository   lorj.ObjectType = "infra_repository"
	LorjAccount       lorj.ObjectType = "lorj_account"
	Metadata          lorj.ObjectType = "metadata"
	Userdata          lorj.ObjectType = "userdata"
	Forge             lorj.ObjectType = "forge"
	SSH               lorj.ObjectType = "ssh"
)

// MaestroType is the server type of the forge control node. Forge servers
// are named "<type>.<forge>".
const MaestroType = "maestro"

// ServerName returns the name of the server of type kind in forge.
func ServerName(kind, forge string) string {
	return kind + "." + forge
}

// Server is the part of a cloud server the boot loop works with.
type Server struct {
	ID        string
	Name      string
	Status    string
	PublicIP  string
	PrivateIP string
	KeyName   string
	ImageID   string
	Meta      map[string]any
}

// Active reports whether the provider reports the server as running.
func (s *Server) Active() bool { return s != nil && s.Status == cloud.StatusActive }

// Failed reports whether the provider reports the server in error.
func (s *Server) Failed() bool { return s != nil && s.Status == cloud.StatusError }

// ServerFromData reads a server object.
func ServerFromData(d *lorj.Data) *Server {
	if d == nil {
		return nil
	}
	s := &Server{
		ID:        d.GetString("id"),
		Name:      d.GetString("name"),
		Status:    d.GetString("status"),
		PublicIP:  d.GetString("public_ip_address"),
		PrivateIP: d.GetString("private_ip_address"),
		KeyName:   d.GetString("key_name"),
		ImageID:   d.GetString("image_id"),
	}
	if meta, ok := d.Get("meta_data"); ok {
		switch m := meta.(type) {
		case map[string]any:
			s.Meta = m
		case map[string]string:
			s.Meta = make(map[string]any, len(m))
			for k, v := range m {
				s.Meta[k] = v
			}
		}
	}
	return s
}

func (s *Server) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}
