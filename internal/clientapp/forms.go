package clientapp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/phillip-england/nutrisurvey/internal/survey"
	"github.com/phillip-england/nutrisurvey/internal/wizard"
)

type photoPick struct {
	kind survey.EvidenceKind
	slot survey.SlotKey
	file wizard.PendingFile
}

func portionField(k survey.Key) string { return "g_" + k.String() }

func ratingField(k survey.Key) string { return "r_" + k.String() }

func photoField(kind survey.EvidenceKind, slot survey.SlotKey) string {
	return "photo_" + string(kind) + "_" + slot.String()
}

// parsePortions reads every gram field. Blank or unparseable input counts
// as 0.
func parsePortions(r *http.Request) map[survey.Key]float64 {
	values := make(map[survey.Key]float64, len(survey.AllKeys()))
	for _, k := range survey.AllKeys() {
		v, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue(portionField(k))), 64)
		if err != nil {
			v = 0
		}
		values[k] = v
	}
	return values
}

func parseRatings(r *http.Request) map[survey.Key]int {
	values := make(map[survey.Key]int, len(survey.AllKeys()))
	for _, k := range survey.AllKeys() {
		v, err := strconv.Atoi(strings.TrimSpace(r.FormValue(ratingField(k))))
		if err != nil {
			v = 0
		}
		values[k] = v
	}
	return values
}

// photoPicks collects the files chosen in this post, in slot order. Inputs
// left empty by the browser are skipped.
func photoPicks(r *http.Request, maxBytes int64) ([]photoPick, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var picks []photoPick
	for _, kind := range survey.EvidenceKinds {
		for _, slot := range survey.AllSlots() {
			file, header, err := r.FormFile(photoField(kind, slot))
			if errors.Is(err, http.ErrMissingFile) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read %s photo for %s: %w", kind, slot, err)
			}
			data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s photo for %s: %w", kind, slot, err)
			}
			if int64(len(data)) > maxBytes {
				return nil, fmt.Errorf("%s for %s is larger than %d MB", kind.Label(), slot, maxBytes>>20)
			}
			picks = append(picks, photoPick{
				kind: kind,
				slot: slot,
				file: wizard.PendingFile{Name: header.Filename, Data: data},
			})
		}
	}
	return picks, nil
}

// parsePhotoTarget reads a delete button value of the form kind:day1_lunch.
func parsePhotoTarget(raw string) (survey.EvidenceKind, survey.SlotKey, error) {
	kindRaw, slotRaw, ok := strings.Cut(raw, ":")
	if !ok {
		return "", survey.SlotKey{}, fmt.Errorf("invalid photo target %q", raw)
	}
	kind, err := survey.ParseEvidenceKind(kindRaw)
	if err != nil {
		return "", survey.SlotKey{}, err
	}
	slot, err := survey.ParseSlotKey(slotRaw)
	if err != nil {
		return "", survey.SlotKey{}, err
	}
	return kind, slot, nil
}
