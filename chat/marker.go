package chat

import "regexp"

// TxStatus is the outcome reported by a transaction marker.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// markerPattern matches only the exact marker format.
var markerPattern = regexp.MustCompile(`\[TRANSACTION_HASH\]: 0x([0-9a-fA-F]{64}) \(status: (success|failed)\)`)

// Marker is a payout signal found in agent output.
type Marker struct {
	TxHash string
	Status TxStatus
}

// Won reports whether the marker signals a completed payout.
func (m Marker) Won() bool { return m.Status == TxSuccess }

// ParseTransactionMarker returns the last marker in text. A success marker
// anywhere in text wins over later failed ones.
func ParseTransactionMarker(text string) (Marker, bool) {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Marker{}, false
	}
	var out Marker
	for _, m := range matches {
		out = Marker{TxHash: "0x" + m[1], Status: TxStatus(m[2])}
		if out.Won() {
			return out, true
		}
	}
	return out, true
}
