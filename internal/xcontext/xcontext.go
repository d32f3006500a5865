// Package xcontext provides deadline-composition helpers shared by the
// monitor and failover packages.
package xcontext

import (
	"context"
	"time"
)

// WithBudget bounds parent by the minimum of its existing deadline (if any)
// and budget. A non-positive budget with no parent deadline leaves the
// context unbounded.
func WithBudget(parent context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	var timeout time.Duration

	deadline, ok := parent.Deadline()
	if ok {
		timeout = time.Until(deadline)
	}

	if !ok && budget <= 0 {
		return parent, func() {}
	}

	if !ok {
		timeout = budget
	} else if budget > 0 && timeout >= budget {
		timeout = budget
	}

	return context.WithTimeout(parent, timeout)
}
