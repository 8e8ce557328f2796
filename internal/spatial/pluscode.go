package spatial

import "strings"

// Plus-code (Open Location Code) encoding. Facilities carry a short
// human-shareable geocode label alongside their raw coordinates.

const (
	plusAlphabet   = "23456789CFGHJMPQRVWX"
	plusBase       = 20.0
	plusPairCount  = 5
	plusSeparator  = 8
	plusLatMax     = 90.0
	plusLngMax     = 180.0
	plusCellHeight = 0.000125 // degrees, at pair resolution 5
)

// PlusCode encodes a lon/lat pair as a 10-digit Open Location Code.
func PlusCode(lon, lat float64) string {
	if lat < -plusLatMax {
		lat = -plusLatMax
	}
	if lat >= plusLatMax {
		// The pole is encoded as the southernmost cell that touches it.
		lat = plusLatMax - plusCellHeight/2
	}
	for lon < -plusLngMax {
		lon += 2 * plusLngMax
	}
	for lon >= plusLngMax {
		lon -= 2 * plusLngMax
	}

	latVal := lat + plusLatMax
	lngVal := lon + plusLngMax

	var sb strings.Builder
	place := plusBase
	for i := 0; i < plusPairCount; i++ {
		latDigit := int(latVal / place)
		lngDigit := int(lngVal / place)
		sb.WriteByte(plusAlphabet[latDigit])
		sb.WriteByte(plusAlphabet[lngDigit])
		latVal -= float64(latDigit) * place
		lngVal -= float64(lngDigit) * place
		place /= plusBase
	}

	code := sb.String()
	return code[:plusSeparator] + "+" + code[plusSeparator:]
}
