package agent

import (
	"github.com/dtncore/agent/bpv6"
	"github.com/dtncore/agent/bpv7"
	"github.com/dtncore/agent/bundle"
)

// bpCodec hides the BP6/BP7 serializer split behind one small interface, so
// the handoff and routing paths don't need a version switch of their own.
type bpCodec interface {
	serialize(b *bundle.Bundle) ([]byte, error)
	serializedSize(b *bundle.Bundle) (int, error)
}

type bpv6Codec struct{}

func (bpv6Codec) serialize(b *bundle.Bundle) ([]byte, error)     { return bpv6.Serialize(b) }
func (bpv6Codec) serializedSize(b *bundle.Bundle) (int, error)   { return bpv6.SerializedSize(b) }

type bpv7Codec struct{}

func (bpv7Codec) serialize(b *bundle.Bundle) ([]byte, error)   { return bpv7.Serialize(b) }
func (bpv7Codec) serializedSize(b *bundle.Bundle) (int, error) { return bpv7.SerializedSize(b) }

func bpCodecFor(v bundle.Version) bpCodec {
	if v == bundle.Version6 {
		return bpv6Codec{}
	}
	return bpv7Codec{}
}
