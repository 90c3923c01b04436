package fallback

import (
	"strings"

	"quel-fitting-server/modules/common/model"
)

// Profile defaults used when the customization row or a field is missing.
const (
	DefaultHeight      = 170
	DefaultExpression  = "natural smile"
	DefaultHairColor   = "natural"
	DefaultAspectRatio = "3:4"
	DefaultGender      = "unisex"
	DefaultAgeRange    = "adult"
	DefaultBodySize    = "regular"
)

// builtinFormats - fitting_format_presets 에 없을 때 사용하는 크기 표
var builtinFormats = map[string][2]int{
	"1:1":  {1024, 1024},
	"3:4":  {896, 1152},
	"4:3":  {1152, 896},
	"9:16": {768, 1344},
	"16:9": {1344, 768},
}

// weightTable - body size bucket → kg, by gender
var weightTable = map[string]map[string]int{
	"female": {"slim": 50, "regular": 58, "plus": 75},
	"male":   {"slim": 62, "regular": 72, "plus": 90},
}

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value, fallback string) string {
	if s := strings.TrimSpace(value); s != "" {
		return s
	}
	return fallback
}

// SafeStringPtr is SafeString for nullable columns.
func SafeStringPtr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return SafeString(*value, fallback)
}

// SafeInt returns *value when positive, otherwise fallback.
func SafeInt(value *int, fallback int) int {
	if value != nil && *value > 0 {
		return *value
	}
	return fallback
}

// SafeAspectRatio keeps known ratios only.
func SafeAspectRatio(value string) string {
	value = strings.TrimSpace(value)
	if _, ok := builtinFormats[value]; ok {
		return value
	}
	return DefaultAspectRatio
}

// Dimensions returns the built-in width/height for an aspect ratio.
func Dimensions(aspectRatio string) (int, int) {
	d := builtinFormats[SafeAspectRatio(aspectRatio)]
	return d[0], d[1]
}

// DeriveWeight maps a body-size bucket to a weight. Unknown genders use the
// average of the female and male tables.
func DeriveWeight(bodySize, gender string) int {
	size := strings.ToLower(SafeString(bodySize, DefaultBodySize))
	if _, ok := weightTable["female"][size]; !ok {
		size = DefaultBodySize
	}
	if row, ok := weightTable[strings.ToLower(gender)]; ok {
		return row[size]
	}
	return (weightTable["female"][size] + weightTable["male"][size]) / 2
}

// Profile returns a copy of c with every documented default applied. A nil
// profile yields the all-default profile for userID.
func Profile(c *model.Customization, userID string) model.Customization {
	var p model.Customization
	if c != nil {
		p = *c
	} else {
		p.UserID = userID
	}

	height := SafeInt(p.Height, DefaultHeight)
	p.Height = &height
	weight := SafeInt(p.Weight, DeriveWeight(p.BodySize, p.Gender))
	p.Weight = &weight

	p.BodySize = SafeString(p.BodySize, DefaultBodySize)
	p.Expression = SafeString(p.Expression, DefaultExpression)
	p.HairColor = SafeString(p.HairColor, DefaultHairColor)
	p.AspectRatio = SafeAspectRatio(p.AspectRatio)
	p.Background.Mode = SafeString(p.Background.Mode, model.BackgroundOriginal)
	return p
}
