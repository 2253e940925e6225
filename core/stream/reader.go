package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const readChunkSize = 4 * 1024

// Frames reads r chunk by chunk and yields every complete frame in order.
//
// The iterator stops without an error on io.EOF; an unterminated residual is
// discarded. Context cancellation is reported as ctx.Err() and read failures
// are wrapped. Blocking reads are only interrupted if the reader itself is
// tied to ctx (as HTTP response bodies are).
func Frames(ctx context.Context, r io.Reader) func(func(Frame, error) bool) {
	return func(yield func(Frame, error) bool) {
		decoder := NewDecoder()
		buf := make([]byte, readChunkSize)

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			n, err := r.Read(buf)
			if n > 0 {
				for _, frame := range decoder.Feed(buf[:n]) {
					if !yield(frame, nil) {
						return
					}
				}
			}

			if err != nil {
				if residual, ok := decoder.Flush(); ok {
					logger.Debug("discarding unterminated frame", "residual_bytes", len(residual))
				}
				if errors.Is(err, io.EOF) {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield("", ctxErr)
					return
				}
				yield("", fmt.Errorf("error reading stream: %w", err))
				return
			}
		}
	}
}
