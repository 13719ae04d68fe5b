package lorj

import (
	"context"

	"github.com/forj-oss/forj/pkg/keypath"
)

// Controller is the provider adapter the dispatcher reaches through process
// handlers. Raw handles are opaque to the core and only read through GetAttr.
type Controller interface {
	Connect(ctx context.Context, t ObjectType, params *ObjectData) (any, error)
	Create(ctx context.Context, t ObjectType, params *ObjectData) (any, error)
	Delete(ctx context.Context, t ObjectType, params *ObjectData) (bool, error)
	// Get returns nil, nil when the object does not exist.
	Get(ctx context.Context, t ObjectType, id string, params *ObjectData) (any, error)
	Query(ctx context.Context, t ObjectType, q Query, params *ObjectData) ([]any, error)
	Update(ctx context.Context, t ObjectType, params *ObjectData) (any, error)
	GetAttr(raw any, path keypath.KeyPath) (any, error)
	SetAttr(raw any, path keypath.KeyPath, value any) error
}

// UnimplementedController fails every operation with a NotImplemented error.
// Providers embed it and override what they support.
type UnimplementedController struct{}

func (UnimplementedController) Connect(context.Context, ObjectType, *ObjectData) (any, error) {
	return nil, NotImplementedError("connect")
}

func (UnimplementedController) Create(context.Context, ObjectType, *ObjectData) (any, error) {
	return nil, NotImplementedError("create")
}

func (UnimplementedController) Delete(context.Context, ObjectType, *ObjectData) (bool, error) {
	return false, NotImplementedError("delete")
}

func (UnimplementedController) Get(context.Context, ObjectType, string, *ObjectData) (any, error) {
	return nil, NotImplementedError("get")
}

func (UnimplementedController) Query(context.Context, ObjectType, Query, *ObjectData) ([]any, error) {
	return nil, NotImplementedError("query")
}

func (UnimplementedController) Update(context.Context, ObjectType, *ObjectData) (any, error) {
	return nil, NotImplementedError("update")
}

func (UnimplementedController) GetAttr(any, keypath.KeyPath) (any, error) {
	return nil, NotImplementedError("get_attr")
}

func (UnimplementedController) SetAttr(any, keypath.KeyPath, any) error {
	return NotImplementedError("set_attr")
}

// Process declares a set of object types and binds their handlers.
type Process interface {
	Name() string
	Declare(r *Registry) error
}
