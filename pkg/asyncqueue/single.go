package asyncqueue

import "context"

// Single runs one operation and returns its value. ThrowError defaults to
// true, so a failure is returned as the error rather than captured.
func Single[T any](ctx context.Context, op Operation[T], opts ...Option) (T, error) {
	var zero T
	opts = append([]Option{WithThrowError(true)}, opts...)
	q, err := New(ctx, []Operation[T]{op}, opts...)
	if err != nil {
		return zero, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rs, err := q.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if len(rs) == 0 {
		return zero, nil
	}
	return rs[0].Value, rs[0].Err
}

// Runner is a queue factory with preset options.
type Runner[T any] struct {
	opts []Option
}

// Create returns a Runner whose options are applied before the ones given
// at each call site.
func Create[T any](opts ...Option) Runner[T] {
	return Runner[T]{opts: append([]Option(nil), opts...)}
}

func (r Runner[T]) New(ctx context.Context, ops []Operation[T], opts ...Option) (*Queue[T], error) {
	return New(ctx, ops, r.merge(opts)...)
}

func (r Runner[T]) Single(ctx context.Context, op Operation[T], opts ...Option) (T, error) {
	return Single(ctx, op, r.merge(opts)...)
}

// Options returns the normalized preset configuration.
func (r Runner[T]) Options() Options { return buildOptions(r.opts) }

func (r Runner[T]) merge(opts []Option) []Option {
	out := make([]Option, 0, len(r.opts)+len(opts))
	out = append(out, r.opts...)
	return append(out, opts...)
}
