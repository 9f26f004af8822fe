package dedupe

// Option applies a configuration option to the deduper.
type Option func(*fifoDeduper)

// WithMaxSize sets how many ids are remembered. maxSize <= 0 means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *fifoDeduper) {
		d.maxSize = maxSize
	}
}
