package wire

import "github.com/anachro-go/rs485bus/slab"

// SlabEncode serializes a payload by calling appendMsg directly into a
// chunk pulled from pool, then re-tags the written range as an Owned
// slab.View. Protocol send paths use this instead of AppendMsg(nil) so
// outgoing application messages serialize into slab memory rather than
// growing a heap-allocated scratch slice.
func SlabEncode(pool *slab.Pool, appendMsg func([]byte) ([]byte, error)) (slab.View, error) {
	box, err := pool.AllocBox()
	if err != nil {
		return slab.View{}, err
	}
	b, err := appendMsg(box.Bytes()[:0])
	if err != nil {
		box.Free()
		return slab.View{}, err
	}
	arc := box.IntoArc()
	sub, err := arc.SubSliceArc(0, len(b))
	arc.Free() // SubSliceArc above cloned its own ref; drop this one
	if err != nil {
		return slab.View{}, err
	}
	return slab.Owned(sub), nil
}
