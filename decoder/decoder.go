package decoder

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/types"
)

// Decoder classifies pending transactions against a router Registry.
type Decoder struct {
	registry *Registry
	logger   *zap.Logger
}

func New(registry *Registry, logger *zap.Logger) (*Decoder, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Decoder{registry: registry, logger: logger.Named("decoder")}, nil
}

// Decode returns the swap tx performs, or nil when tx is not a call into a
// registered router or uses a method outside the registered surface.
//
// A payload that matches a selector but does not decode yields
// ErrDecodeMismatch. A payload whose decoded fields contradict the
// registered schema yields ErrSchemaInconsistency.
func (d *Decoder) Decode(tx *types.PendingTransaction) (*SwapAction, error) {
	if tx.To == nil || len(tx.Data) < 4 {
		return nil, nil
	}
	router, e := d.registry.lookup(*tx.To, tx.Data)
	if router == nil {
		return nil, nil
	}
	if e == nil {
		d.logger.Debug("Call outside supported surface",
			zap.String("router", router.Name),
			zap.String("selector", fmt.Sprintf("%x", tx.Data[:4])),
			zap.String("tx_hash", tx.Hash.Hex()),
		)
		return nil, nil
	}

	values, err := e.method.Inputs.UnpackValues(tx.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", types.ErrDecodeMismatch, e.method.Name, router.Name, err)
	}

	s := schemas[e.kind]
	if len(values) != s.fields {
		err := fmt.Errorf("%w: %s on %s decoded %d fields, %s expects %d",
			types.ErrSchemaInconsistency, e.method.Name, router.Name, len(values), e.kind, s.fields)
		d.reportSchemaError(tx, router, err)
		return nil, err
	}

	action, err := s.build(values, tx)
	if err != nil {
		if errors.Is(err, types.ErrSchemaInconsistency) {
			d.reportSchemaError(tx, router, err)
		}
		return nil, fmt.Errorf("failed to build %s: %w", e.kind, err)
	}
	action.Kind = e.kind
	action.Router = router.Address
	return action, nil
}

func (d *Decoder) reportSchemaError(tx *types.PendingTransaction, router *Router, err error) {
	d.logger.Error("Router registry disagrees with decoded call data",
		zap.String("router", router.Name),
		zap.String("router_address", router.Address.Hex()),
		zap.String("tx_hash", tx.Hash.Hex()),
		zap.Error(err),
	)
}
