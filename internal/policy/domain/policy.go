package domain

import "time"

// Policy is a settlement policy written in Rego (package ledger.settlement). Enabled policies replace the built-in default.
type Policy struct {
	ID        string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
