// Package migrate copies cached entries from one store driver to another.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"codestreak/backend"
)

// Options controls a copy.
type Options struct {
	// DryRun counts what would be copied without writing.
	DryRun bool
	// Replace clears the destination first.
	Replace bool
}

// Result summarises a copy.
type Result struct {
	Copied  int
	Skipped int // Keys that vanished from the source while copying
	Bytes   int
}

// Copy writes every key of src to dst. Values are copied as stored, so
// compressed entries stay compressed and timestamps keep their age.
func Copy(ctx context.Context, src, dst backend.Store, opts Options) (Result, error) {
	var res Result
	keys, err := src.Keys(ctx, "")
	if err != nil {
		return res, fmt.Errorf("list source keys: %w", err)
	}

	if opts.Replace && !opts.DryRun {
		if err := dst.Clear(ctx); err != nil {
			return res, fmt.Errorf("clear destination: %w", err)
		}
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		value, err := src.Get(ctx, key)
		if errors.Is(err, backend.ErrNotFound) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read %s: %w", key, err)
		}
		if !opts.DryRun {
			if err := dst.Set(ctx, key, value); err != nil {
				return res, fmt.Errorf("write %s: %w", key, err)
			}
		}
		res.Copied++
		res.Bytes += len(value)
	}
	return res, nil
}
