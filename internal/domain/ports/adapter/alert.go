package adapter

import "context"

// Alerter raises operational alerts that need a human, such as a prediction
// the provider accepted but the ledger never recorded.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
