package cloud

import (
	"context"
	"fmt"

	"github.com/forj-oss/forj/pkg/lorj"
)

// connect opens a provider connection. A controller returning no handle is
// an error: every other object needs it.
func connect(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, params *lorj.ObjectData) (*lorj.Data, error) {
	d.Logger().Debug().
		Str("object", string(t)).
		Str("tenant", params.GetString("tenant")).
		Msg("Connecting")
	raw, err := d.ControllerConnect(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("unable to connect %s: %w", t, err)
	}
	if raw == nil {
		return nil, lorj.NewPermanentError("controller returned no connection", nil).WithObject(t).WithOperation("connect")
	}
	return d.Wrap(t, raw)
}

// catalogRegions lists the regions the services catalog offers for service.
func catalogRegions(service string) func(context.Context, *lorj.Dispatcher, *lorj.Data) ([]string, error) {
	return func(_ context.Context, d *lorj.Dispatcher, services *lorj.Data) ([]string, error) {
		v, err := d.ControllerAttr(services, "catalog/"+service)
		if err != nil {
			return nil, fmt.Errorf("unable to read the %s catalog: %w", service, err)
		}
		switch list := v.(type) {
		case []string:
			return list, nil
		case []any:
			out := make([]string, 0, len(list))
			for _, r := range list {
				out = append(out, fmt.Sprint(r))
			}
			return out, nil
		}
		return nil, nil
	}
}

func controllerCreate(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, _ *lorj.ObjectData) (*lorj.Data, error) {
	return d.ControllerCreate(ctx, t)
}

func controllerQuery(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, q lorj.Query, _ *lorj.ObjectData) (*lorj.Data, error) {
	return d.ControllerQuery(ctx, t, q)
}

func controllerGet(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, id string, _ *lorj.ObjectData) (*lorj.Data, error) {
	return d.ControllerGet(ctx, t, id)
}

func controllerUpdate(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, _ *lorj.ObjectData) (*lorj.Data, error) {
	return d.ControllerUpdate(ctx, t)
}

func controllerDelete(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, _ *lorj.ObjectData) (bool, error) {
	return d.ControllerDelete(ctx, t)
}

// first returns the first item of a list, or nil.
func first(list *lorj.Data) *lorj.Data {
	if list == nil || list.Len() == 0 {
		return nil
	}
	if !list.IsList() {
		return list
	}
	return list.Items()[0]
}

// findFirst queries the controller and keeps the first match, logging when
// more than one is found.
func findFirst(ctx context.Context, d *lorj.Dispatcher, t lorj.ObjectType, q lorj.Query, what string) (*lorj.Data, error) {
	list, err := d.ControllerQuery(ctx, t, q)
	if err != nil {
		return nil, err
	}
	switch {
	case list == nil || list.Len() == 0:
		d.Logger().Info().Str("object", string(t)).Msgf("No %s '%s' found", t, what)
		return nil, nil
	case list.Len() > 1:
		d.Logger().Warn().Str("object", string(t)).
			Msgf("Found %d %s matching '%s'. Selecting the first one '%s'", list.Len(), t, what, first(list).GetString("name"))
	default:
		d.Logger().Info().Str("object", string(t)).Msgf("Found %s '%s'", t, what)
	}
	return first(list), nil
}

// notFound is returned by lookups of objects a provider cannot create.
func notFound(t lorj.ObjectType, what string) error {
	return lorj.NewPermanentError(fmt.Sprintf("%s '%s' not found. Creation is not supported", t, what), nil).
		WithCode(lorj.ErrCodeNotFound).WithObject(t).WithOperation(string(lorj.VerbCreate))
}

func configString(d *lorj.Dispatcher, key string) string {
	v, ok := d.Config().Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
