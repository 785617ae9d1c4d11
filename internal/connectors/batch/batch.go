// Package batch turns a record producer into the channel pair returned
// by SourceAdapter.Stream.
package batch

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// Yield hands one record to the stream. It returns an error once the
// consumer has gone away; producers must stop and return it.
type Yield func(domain.Record) error

// Stream runs produce in a goroutine and groups its records into batches
// of at most size. The batch channel is unbuffered so a slow consumer
// holds the producer back. Both channels are closed when produce returns;
// its error, if any, is delivered on the error channel first.
func Stream(ctx context.Context, size int, produce func(ctx context.Context, yield Yield) error) (<-chan domain.Batch, <-chan error) {
	if size <= 0 {
		size = domain.DefaultBatchSize
	}
	batches := make(chan domain.Batch)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errs)

		buf := make([]domain.Record, 0, size)
		flush := func() error {
			if len(buf) == 0 {
				return nil
			}
			b := domain.Batch{Records: buf, Position: buf[len(buf)-1].Position}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case batches <- b:
			}
			buf = make([]domain.Record, 0, size)
			return nil
		}

		err := produce(ctx, func(r domain.Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf = append(buf, r)
			if len(buf) >= size {
				return flush()
			}
			return nil
		})
		if err == nil {
			err = flush()
		}
		if err != nil {
			errs <- err
		}
	}()

	return batches, errs
}

// Collect drains a stream into a slice. Used by tests and small sources.
func Collect(batches <-chan domain.Batch, errs <-chan error) ([]domain.Record, error) {
	var out []domain.Record
	for b := range batches {
		out = append(out, b.Records...)
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}
