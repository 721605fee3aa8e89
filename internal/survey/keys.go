package survey

import (
	"fmt"
	"strconv"
	"strings"
)

// Days is the length of the observation window.
const Days = 5

type MealSlot string

const (
	Breakfast MealSlot = "breakfast"
	Snack1    MealSlot = "snack1"
	Lunch     MealSlot = "lunch"
	Snack2    MealSlot = "snack2"
	Dinner    MealSlot = "dinner"
)

// MealSlots lists the slots of a day in serving order.
var MealSlots = []MealSlot{Breakfast, Snack1, Lunch, Snack2, Dinner}

var mealSlotLabels = map[MealSlot]string{
	Breakfast: "Breakfast",
	Snack1:    "Morning snack",
	Lunch:     "Lunch",
	Snack2:    "Afternoon snack",
	Dinner:    "Dinner",
}

func (m MealSlot) IsSnack() bool {
	return m == Snack1 || m == Snack2
}

func (m MealSlot) Label() string {
	if label, ok := mealSlotLabels[m]; ok {
		return label
	}
	return string(m)
}

func (m MealSlot) valid() bool {
	_, ok := mealSlotLabels[m]
	return ok
}

type Component string

const (
	Rice   Component = "rice"
	Soup   Component = "soup"
	Main   Component = "main"
	Side1  Component = "side1"
	Side2  Component = "side2"
	Kimchi Component = "kimchi"
	// Whole is the single unlabeled component of a snack.
	Whole Component = ""
)

var MealComponents = []Component{Rice, Soup, Main, Side1, Side2, Kimchi}

var componentLabels = map[Component]string{
	Rice:   "Rice",
	Soup:   "Soup",
	Main:   "Main dish",
	Side1:  "Side dish 1",
	Side2:  "Side dish 2",
	Kimchi: "Kimchi",
	Whole:  "Snack",
}

func (c Component) Label() string {
	if label, ok := componentLabels[c]; ok {
		return label
	}
	return string(c)
}

func ComponentsFor(slot MealSlot) []Component {
	if slot.IsSnack() {
		return []Component{Whole}
	}
	return MealComponents
}

// Key identifies one measured item: a component of a meal slot on a day.
type Key struct {
	Day       int
	Slot      MealSlot
	Component Component
}

func (k Key) String() string {
	if k.Component == Whole {
		return fmt.Sprintf("day%d_%s", k.Day, k.Slot)
	}
	return fmt.Sprintf("day%d_%s_%s", k.Day, k.Slot, k.Component)
}

func (k Key) SlotKey() SlotKey {
	return SlotKey{Day: k.Day, Slot: k.Slot}
}

func (k Key) Valid() bool {
	if k.Day < 1 || k.Day > Days || !k.Slot.valid() {
		return false
	}
	for _, c := range ComponentsFor(k.Slot) {
		if c == k.Component {
			return true
		}
	}
	return false
}

// WasteSuffix marks plate-waste entries in the flat storage encoding.
const WasteSuffix = "_waste"

// ParseKey accepts the flat form produced by Key.String, optionally followed
// by WasteSuffix.
func ParseKey(raw string) (Key, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), WasteSuffix)
	parts := strings.Split(trimmed, "_")
	if len(parts) < 2 || len(parts) > 3 {
		return Key{}, fmt.Errorf("invalid measurement key %q", raw)
	}
	day, err := parseDay(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("invalid measurement key %q: %w", raw, err)
	}
	key := Key{Day: day, Slot: MealSlot(parts[1])}
	if len(parts) == 3 {
		key.Component = Component(parts[2])
	}
	if !key.Valid() {
		return Key{}, fmt.Errorf("invalid measurement key %q", raw)
	}
	return key, nil
}

// AllKeys returns the 100 measurement keys in display order.
func AllKeys() []Key {
	keys := make([]Key, 0, 100)
	for day := 1; day <= Days; day++ {
		for _, slot := range MealSlots {
			for _, c := range ComponentsFor(slot) {
				keys = append(keys, Key{Day: day, Slot: slot, Component: c})
			}
		}
	}
	return keys
}

// SlotKey identifies one photo slot: a meal slot on a day.
type SlotKey struct {
	Day  int
	Slot MealSlot
}

func (s SlotKey) String() string {
	return fmt.Sprintf("day%d_%s", s.Day, s.Slot)
}

func ParseSlotKey(raw string) (SlotKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) != 2 {
		return SlotKey{}, fmt.Errorf("invalid photo slot %q", raw)
	}
	day, err := parseDay(parts[0])
	if err != nil {
		return SlotKey{}, fmt.Errorf("invalid photo slot %q: %w", raw, err)
	}
	slot := MealSlot(parts[1])
	if !slot.valid() {
		return SlotKey{}, fmt.Errorf("invalid photo slot %q", raw)
	}
	return SlotKey{Day: day, Slot: slot}, nil
}

// AllSlots returns the 25 photo slots in display order.
func AllSlots() []SlotKey {
	slots := make([]SlotKey, 0, Days*len(MealSlots))
	for day := 1; day <= Days; day++ {
		for _, slot := range MealSlots {
			slots = append(slots, SlotKey{Day: day, Slot: slot})
		}
	}
	return slots
}

func parseDay(raw string) (int, error) {
	if !strings.HasPrefix(raw, "day") {
		return 0, fmt.Errorf("missing day prefix")
	}
	day, err := strconv.Atoi(strings.TrimPrefix(raw, "day"))
	if err != nil {
		return 0, fmt.Errorf("invalid day: %w", err)
	}
	if day < 1 || day > Days {
		return 0, fmt.Errorf("day %d out of range", day)
	}
	return day, nil
}
