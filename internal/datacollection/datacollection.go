// Package datacollection is the pre-contact form collaborator. The session
// core treats it as a black box that eventually produces the collected data
// attached to contact creation.
package datacollection

import (
	"context"
	"fmt"

	"github.com/lumachat/engage/pkg/types"
)

// Form is one completed data-collection form.
type Form struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Result is the outcome of a completed data-collection handshake.
type Result struct {
	// Nick is the visitor nickname extracted from a nickname-format field,
	// when present.
	Nick string `json:"nick,omitempty"`
	// Forms are the completed forms to attach to contact creation.
	Forms []Form `json:"forms,omitempty"`
}

// Collector runs the data-collection handshake. Implementations may block
// until the visitor completes the forms; the session runtime calls Collect
// asynchronously and honors context cancellation.
type Collector interface {
	Collect(ctx context.Context, sc types.SessionContext) (Result, error)
}

// AutoCollector completes every form from its default constants without
// rendering anything. Fields without a default are submitted empty.
type AutoCollector struct{}

// Collect implements Collector.
func (AutoCollector) Collect(ctx context.Context, sc types.SessionContext) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	for _, dc := range sc.DataCollections {
		form := Form{ID: dc.ID, Data: make(map[string]any, len(dc.Fields))}
		for _, field := range dc.Fields {
			var value any
			if field.DefaultConstant != nil {
				value = fmt.Sprintf("%v", field.DefaultConstant)
			}
			form.Data[field.ID] = value
			if field.Format == "nickname" && field.ID != "" {
				if nick, ok := value.(string); ok {
					res.Nick = nick
				}
			}
		}
		res.Forms = append(res.Forms, form)
	}
	return res, nil
}

var _ Collector = AutoCollector{}
