package lorj

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forj-oss/forj/pkg/keypath"
	"github.com/forj-oss/forj/pkg/telemetry"
)

// callController runs one controller operation through the retrier, with a
// span and metrics around it.
func (d *Dispatcher) callController(ctx context.Context, op string, t ObjectType, fn func(ctx context.Context) error) error {
	ctx, span := d.tracer.StartControllerSpan(ctx, op, string(t))
	defer span.End()
	start := time.Now()

	name := fmt.Sprintf("%s %s", op, t)
	err := d.retrier.Do(ctx, name, fn)

	status := "success"
	if err != nil {
		status = "error"
		telemetry.RecordError(span, err)
		err = classifyControllerError(err, op, t)
	} else {
		telemetry.RecordSuccess(span)
	}
	if d.metrics != nil {
		d.metrics.RecordControllerCall(op, string(t), status, time.Since(start))
	}
	return err
}

// classifyControllerError labels err with op and t. Errors the provider did
// not classify become permanent. Cancellation passes through untouched.
func classifyControllerError(err error, op string, t ObjectType) error {
	var e *Error
	switch {
	case errors.As(err, &e):
		if e.ObjectType == "" {
			e.ObjectType = t
		}
		if e.Operation == "" {
			e.Operation = op
		}
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return NewPermanentError(fmt.Sprintf("%s %s failed", op, t), err).WithObject(t).WithOperation(op)
}

func (d *Dispatcher) controllerParams(t ObjectType, verb Verb) (*ObjectData, error) {
	def, ok := d.reg.lookup(t)
	if !ok {
		return nil, unknownTypeError(t, string(verb))
	}
	return d.objectParams(t, verb, def, true)
}

// ControllerConnect asks the controller for a connection handle of type t.
// The handle is returned raw.
func (d *Dispatcher) ControllerConnect(ctx context.Context, t ObjectType) (any, error) {
	params, err := d.controllerParams(t, VerbCreate)
	if err != nil {
		return nil, err
	}
	var raw any
	err = d.callController(ctx, "connect", t, func(ctx context.Context) error {
		var cerr error
		raw, cerr = d.ctrl.Connect(ctx, t, params)
		return cerr
	})
	return raw, err
}

// ControllerCreate asks the controller to create an object of type t and
// maps the result.
func (d *Dispatcher) ControllerCreate(ctx context.Context, t ObjectType) (*Data, error) {
	params, err := d.controllerParams(t, VerbCreate)
	if err != nil {
		return nil, err
	}
	var raw any
	err = d.callController(ctx, "create", t, func(ctx context.Context) error {
		var cerr error
		raw, cerr = d.ctrl.Create(ctx, t, params)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return d.Wrap(t, raw)
}

// ControllerUpdate pushes the live object of type t to the controller.
func (d *Dispatcher) ControllerUpdate(ctx context.Context, t ObjectType) (*Data, error) {
	params, err := d.controllerParams(t, VerbUpdate)
	if err != nil {
		return nil, err
	}
	if obj, ok := d.store.Data(t); ok {
		params.Add(obj)
	}
	var raw any
	err = d.callController(ctx, "update", t, func(ctx context.Context) error {
		var cerr error
		raw, cerr = d.ctrl.Update(ctx, t, params)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return d.Wrap(t, raw)
}

// ControllerGet reads the object of type t identified by id. Not found is
// nil without error.
func (d *Dispatcher) ControllerGet(ctx context.Context, t ObjectType, id string) (*Data, error) {
	params, err := d.controllerParams(t, VerbGet)
	if err != nil {
		return nil, err
	}
	var raw any
	err = d.callController(ctx, "get", t, func(ctx context.Context) error {
		var cerr error
		raw, cerr = d.ctrl.Get(ctx, t, id, params)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return d.Wrap(t, raw)
}

// ControllerQuery maps q to controller fields, queries the controller and
// returns the mapped list. The list keeps the process-side query.
func (d *Dispatcher) ControllerQuery(ctx context.Context, t ObjectType, q Query) (*Data, error) {
	params, err := d.controllerParams(t, VerbQuery)
	if err != nil {
		return nil, err
	}
	mapped, err := d.QueryMap(t, q)
	if err != nil {
		return nil, err
	}
	var raws []any
	err = d.callController(ctx, "query", t, func(ctx context.Context) error {
		var cerr error
		raws, cerr = d.ctrl.Query(ctx, t, mapped, params)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return NewList(t, raws, q, d.mapper)
}

// ControllerDelete asks the controller to delete the live object of type t.
func (d *Dispatcher) ControllerDelete(ctx context.Context, t ObjectType) (bool, error) {
	params, err := d.controllerParams(t, VerbDelete)
	if err != nil {
		return false, err
	}
	var ok bool
	err = d.callController(ctx, "delete", t, func(ctx context.Context) error {
		var cerr error
		ok, cerr = d.ctrl.Delete(ctx, t, params)
		return cerr
	})
	return ok, err
}

// ControllerAttr reads path from the raw handle of obj through the
// controller. Connection handles expose attributes no mapping covers.
func (d *Dispatcher) ControllerAttr(obj *Data, path string) (any, error) {
	if obj == nil || obj.Raw() == nil {
		return nil, NewPermanentError(fmt.Sprintf("no controller handle to read '%s'", path), nil)
	}
	return d.ctrl.GetAttr(obj.Raw(), keypath.Parse(path))
}

// QueryMap translates a process query into controller field names and
// values. An unmapped field fails.
func (d *Dispatcher) QueryMap(t ObjectType, q Query) (Query, error) {
	def, ok := d.reg.lookup(t)
	if !ok {
		return nil, unknownTypeError(t, "query_map")
	}
	out := make(Query, len(q))
	for k, v := range q {
		field, ok := def.queryMapping[k]
		if !ok {
			return nil, NewPermanentError(fmt.Sprintf("query field '%s' is not mapped for '%s'", k, t), nil).
				WithCode(ErrCodeAttributeMapping).WithObject(t).WithDetail("field", k)
		}
		if pairs := def.valueMapping[k]; len(pairs) > 0 {
			if mv, ok := mapValue(pairs, v, true); ok {
				v = mv
			}
		}
		out[field] = v
	}
	return out, nil
}
