package service

import "context"

// TxRepositories bundles the repositories that participate in a transaction.
type TxRepositories interface {
	Units() UnitRepositoryInterface
	EnrichmentJobs() EnrichmentJobRepositoryInterface
}

// TxRunner runs a function within a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
