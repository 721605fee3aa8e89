package survey

// Rating is the visual plate-waste estimate for one item, 0 (nothing left)
// through 4 (untouched).
type Rating int

const MaxRating Rating = 4

var WasteRatios = [...]float64{0.0, 0.25, 0.50, 0.75, 1.0}

var ratingLabels = [...]string{
	"None left",
	"A quarter left",
	"Half left",
	"Three quarters left",
	"All left",
}

func ClampRating(v int) Rating {
	if v < 0 {
		return 0
	}
	if v > int(MaxRating) {
		return MaxRating
	}
	return Rating(v)
}

func (r Rating) Ratio() float64 {
	return WasteRatios[ClampRating(int(r))]
}

func (r Rating) Label() string {
	return ratingLabels[ClampRating(int(r))]
}

// RatingScale lists every rating from 0 to MaxRating.
func RatingScale() []Rating {
	scale := make([]Rating, 0, len(WasteRatios))
	for r := Rating(0); r <= MaxRating; r++ {
		scale = append(scale, r)
	}
	return scale
}

type Ratings map[Key]Rating

func (r Ratings) Clone() Ratings {
	out := make(Ratings, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ComputeWaste derives plate waste for every key present in portions. Keys
// without a rating count as rating 0.
func ComputeWaste(portions Measurements, ratings Ratings) Measurements {
	waste := Measurements{}
	for _, k := range portions.Keys() {
		waste.Set(k, portions.Value(k)*ratings[k].Ratio())
	}
	return waste
}
