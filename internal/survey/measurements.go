package survey

import "math"

const (
	MinGrams = 0
	MaxGrams = 1000
)

// Measurements holds grams per day, meal slot and component.
type Measurements map[int]map[MealSlot]map[Component]float64

func (m Measurements) Get(k Key) (float64, bool) {
	slots, ok := m[k.Day]
	if !ok {
		return 0, false
	}
	components, ok := slots[k.Slot]
	if !ok {
		return 0, false
	}
	v, ok := components[k.Component]
	return v, ok
}

// Value returns the grams stored for k, or 0 when absent.
func (m Measurements) Value(k Key) float64 {
	v, _ := m.Get(k)
	return v
}

func (m Measurements) Set(k Key, grams float64) {
	slots, ok := m[k.Day]
	if !ok {
		slots = map[MealSlot]map[Component]float64{}
		m[k.Day] = slots
	}
	components, ok := slots[k.Slot]
	if !ok {
		components = map[Component]float64{}
		slots[k.Slot] = components
	}
	components[k.Component] = grams
}

// Keys returns the keys present in m, in display order.
func (m Measurements) Keys() []Key {
	var keys []Key
	for _, k := range AllKeys() {
		if _, ok := m.Get(k); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m Measurements) Len() int {
	n := 0
	for _, slots := range m {
		for _, components := range slots {
			n += len(components)
		}
	}
	return n
}

func (m Measurements) Total() float64 {
	total := 0.0
	for day := range m {
		total += m.DayTotal(day)
	}
	return total
}

func (m Measurements) DayTotal(day int) float64 {
	total := 0.0
	for _, components := range m[day] {
		for _, v := range components {
			total += v
		}
	}
	return total
}

func (m Measurements) SlotTotal(slot SlotKey) float64 {
	total := 0.0
	for _, v := range m[slot.Day][slot.Slot] {
		total += v
	}
	return total
}

func (m Measurements) Clone() Measurements {
	out := Measurements{}
	for _, k := range m.Keys() {
		out.Set(k, m.Value(k))
	}
	return out
}

// ClampGrams bounds a served amount to the accepted input range and rounds
// it to whole grams. NaN becomes 0.
func ClampGrams(v float64) float64 {
	if math.IsNaN(v) || v < MinGrams {
		return MinGrams
	}
	if v > MaxGrams {
		return MaxGrams
	}
	return math.Round(v)
}
