package metadata

// Handle is an opaque reference to a native graphics object. The zero value
// is the null handle.
type Handle uint64

const NullHandle Handle = 0

func (h Handle) IsNull() bool {
	return h == NullHandle
}
