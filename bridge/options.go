package bridge

import "github.com/ardnew/sdmsc/sdcard"

// Option is a functional option for configuring the Bridge.
type Option func(*Bridge)

// WithCardOptions sets the options passed to the card driver each time
// Init creates it.
func WithCardOptions(opts ...sdcard.Option) Option {
	return func(b *Bridge) {
		b.cardOpts = append(b.cardOpts, opts...)
	}
}

// WithLUNs sets the number of logical units sharing the card. Values
// below one are ignored.
func WithLUNs(n uint32) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.luns = n
		}
	}
}
