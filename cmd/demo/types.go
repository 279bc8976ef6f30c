package main

import "time"

// PriceBook is the canonical Settings value: the latest known price per
// token symbol, mutated only by change functors applied during an
// AsyncWorker tick.
type PriceBook struct {
	Prices map[string]float64
}

// NewPriceBook creates an empty PriceBook.
func NewPriceBook() PriceBook {
	return PriceBook{Prices: make(map[string]float64)}
}

// clone returns a deep copy, used when constructing a PriceSnapshot so that
// later mutation of the canonical PriceBook can never be observed through a
// snapshot already handed to a consumer.
func (b PriceBook) clone() map[string]float64 {
	out := make(map[string]float64, len(b.Prices))
	for k, v := range b.Prices {
		out[k] = v
	}
	return out
}

// PriceSnapshot is the Obj broadcast to every Instance: an immutable,
// JSON-serializable view of the PriceBook at the moment it was built.
type PriceSnapshot struct {
	Prices    map[string]float64 `json:"prices"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// newPriceSnapshot constructs a PriceSnapshot from the current PriceBook.
// Passed to asyncobject.New as the Obj constructor.
func newPriceSnapshot(now func() time.Time) func(PriceBook) PriceSnapshot {
	return func(b PriceBook) PriceSnapshot {
		return PriceSnapshot{Prices: b.clone(), UpdatedAt: now()}
	}
}

// priceTick is the wire format published on the NATS price subject.
type priceTick struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
}
