package main

import (
	"bufio"
	"context"
	"io"
	"log"
)

// readKeys forwards bytes from r until it fails or ctx is done. The channel
// closes when reading stops.
func readKeys(ctx context.Context, r io.Reader) <-chan byte {
	keys := make(chan byte, 16)
	go func() {
		defer close(keys)
		br := bufio.NewReader(r)
		for {
			b, err := br.ReadByte()
			if err != nil {
				if err != io.EOF {
					log.Printf("console: %v", err)
				}
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return keys
}

// dropLine discards keys up to and including the next line terminator, so
// the return that followed a command key is not read as input.
func dropLine(keys <-chan byte) {
	for b := range keys {
		if b == '\r' || b == '\n' {
			return
		}
	}
}
