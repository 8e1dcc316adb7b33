//go:build !unix

package mempool

func mapRegion(size int) ([]byte, error) {
	return nil, ErrMmapUnsupported
}

func unmapRegion(buf []byte) error {
	return ErrMmapUnsupported
}
