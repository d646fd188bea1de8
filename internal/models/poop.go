package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/kimhsiao/babylog/internal/errors"
)

// PoopAmount is the canonical size of a poop entry.
type PoopAmount string

const (
	PoopSmall  PoopAmount = "small"
	PoopMedium PoopAmount = "medium"
	PoopLarge  PoopAmount = "large"
)

// ParsePoopAmount normalizes an amount. It accepts the enum names in any
// case and the legacy 1-10 scale, as a number or a numeric string:
// 1-3 small, 4-7 medium, 8-10 large.
func ParsePoopAmount(v any) (PoopAmount, error) {
	switch x := v.(type) {
	case PoopAmount:
		return ParsePoopAmount(string(x))
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch PoopAmount(s) {
		case PoopSmall, PoopMedium, PoopLarge:
			return PoopAmount(s), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return poopFromScale(n)
		}
	case float64:
		return poopFromScale(x)
	case int:
		return poopFromScale(float64(x))
	case int64:
		return poopFromScale(float64(x))
	case json.Number:
		if n, err := x.Float64(); err == nil {
			return poopFromScale(n)
		}
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "invalid poop amount %v", v)
}

func poopFromScale(n float64) (PoopAmount, error) {
	if n != math.Trunc(n) {
		return "", apperrors.Newf(apperrors.ErrValidation, "invalid poop amount %v", n)
	}
	switch {
	case n >= 1 && n <= 3:
		return PoopSmall, nil
	case n >= 4 && n <= 7:
		return PoopMedium, nil
	case n >= 8 && n <= 10:
		return PoopLarge, nil
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "poop amount %v outside 1-10", n)
}

// UnmarshalJSON accepts legacy numeric amounts and stores the enum.
func (p *PoopAmount) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || raw == "" {
		*p = ""
		return nil
	}
	amount, err := ParsePoopAmount(raw)
	if err != nil {
		return fmt.Errorf("poop amount: %w", err)
	}
	*p = amount
	return nil
}

// MarshalJSON writes the canonical enum, so legacy values never reach
// storage.
func (p PoopAmount) MarshalJSON() ([]byte, error) {
	if p == "" {
		return json.Marshal("")
	}
	amount, err := ParsePoopAmount(string(p))
	if err != nil {
		return nil, fmt.Errorf("poop amount: %w", err)
	}
	return json.Marshal(string(amount))
}
