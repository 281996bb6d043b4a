package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager runs a function inside one storage transaction.
// Repositories called with the ctx handed to fn join that transaction;
// if fn returns an error nothing it wrote is kept.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
