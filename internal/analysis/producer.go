package analysis

import (
	"context"
	"iter"
)

// Image is one input chart or table screenshot. MIME may be empty and is then
// sniffed from Data.
type Image struct {
	Data []byte
	MIME string
}

// Producer streams report text. The sequence is finite and can be consumed
// once; an error ends it.
type Producer interface {
	Stream(ctx context.Context, images []Image, instruction string) iter.Seq2[string, error]
}

// ProducerSource resolves the producer for a model name.
type ProducerSource func(model string) (Producer, error)

// ProducerFunc adapts a plain function to Producer.
type ProducerFunc func(ctx context.Context, images []Image, instruction string) iter.Seq2[string, error]

func (f ProducerFunc) Stream(ctx context.Context, images []Image, instruction string) iter.Seq2[string, error] {
	return f(ctx, images, instruction)
}
