package metadata

// Texture is anything a shader can sample: a native image view plus the
// sampler to read it with.
type Texture interface {
	ImageView() Handle
	Sampler() Handle
}
