package batch

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

func produceN(n int) func(context.Context, Yield) error {
	return func(_ context.Context, yield Yield) error {
		for i := 1; i <= n; i++ {
			id := strconv.Itoa(i)
			if err := yield(domain.Record{ID: id, Position: "p" + id}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestStream_Batches(t *testing.T) {
	batches, errs := Stream(context.Background(), 2, produceN(5))

	var got []domain.Batch
	for b := range batches {
		got = append(got, b)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 3)
	assert.Len(t, got[0].Records, 2)
	assert.Len(t, got[2].Records, 1)
	assert.Equal(t, "p2", got[0].Position)
	assert.Equal(t, "p5", got[2].Position)
}

func TestStream_Empty(t *testing.T) {
	records, err := Collect(Stream(context.Background(), 10, produceN(0)))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStream_DefaultSize(t *testing.T) {
	records, err := Collect(Stream(context.Background(), 0, produceN(3)))
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStream_ProducerError(t *testing.T) {
	boom := errors.New("boom")
	batches, errs := Stream(context.Background(), 2, func(ctx context.Context, yield Yield) error {
		if err := produceN(3)(ctx, yield); err != nil {
			return err
		}
		return boom
	})

	records, err := Collect(batches, errs)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, records, 2, "the partial batch is not flushed on failure")
}

func TestStream_CancelStopsProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	batches, errs := Stream(ctx, 1, produceN(1000))

	<-batches
	cancel()
	for range batches {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}
