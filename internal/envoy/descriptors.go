package envoy

// Descriptor describes one gateway-reported metric: its key, unit and a
// typed accessor reading it from a snapshot. Consumers iterate the fixed
// set instead of resolving metric names at runtime.
type Descriptor struct {
	Key  Key
	Unit string
	Kind ValueKind
	Read func(*Snapshot) (Value, bool)
}

func readKey(key Key) func(*Snapshot) (Value, bool) {
	return func(s *Snapshot) (Value, bool) {
		return s.Metric(key)
	}
}

var descriptors = []Descriptor{
	{Key: KeyProduction, Unit: "W", Kind: KindNumber, Read: readKey(KeyProduction)},
	{Key: KeyDailyProduction, Unit: "Wh", Kind: KindNumber, Read: readKey(KeyDailyProduction)},
	{Key: KeySevenDaysProduction, Unit: "Wh", Kind: KindNumber, Read: readKey(KeySevenDaysProduction)},
	{Key: KeyLifetimeProduction, Unit: "Wh", Kind: KindNumber, Read: readKey(KeyLifetimeProduction)},
	{Key: KeyConsumption, Unit: "W", Kind: KindNumber, Read: readKey(KeyConsumption)},
	{Key: KeyDailyConsumption, Unit: "Wh", Kind: KindNumber, Read: readKey(KeyDailyConsumption)},
	{Key: KeySevenDaysConsumption, Unit: "Wh", Kind: KindNumber, Read: readKey(KeySevenDaysConsumption)},
	{Key: KeyLifetimeConsumption, Unit: "Wh", Kind: KindNumber, Read: readKey(KeyLifetimeConsumption)},
	{Key: KeyGridStatus, Unit: "", Kind: KindStatus, Read: readKey(KeyGridStatus)},
}

// Descriptors returns the fixed set of gateway-reported metrics, in
// publication order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)

	return out
}
